package rpcstream

import "errors"

var (
	errNoActiveStream = errors.New("rpcstream: no active logical stream")
	errServerStopped  = errors.New("rpcstream: server stopped")
	errUnknownPeer    = errors.New("rpcstream: unknown peer")
	errFrameTooLarge  = errors.New("rpcstream: frame exceeds maximum size")
)
