package unixsocket

import "errors"

var (
	errFrameTooLarge  = errors.New("unixsocket: frame exceeds maximum size")
	errUnknownPeer    = errors.New("unixsocket: unknown peer")
	errServerStopped  = errors.New("unixsocket: server stopped")
	errNoActiveConn   = errors.New("unixsocket: no active connection")
	errWriteBackedOff = errors.New("unixsocket: write backoff exhausted")
)
