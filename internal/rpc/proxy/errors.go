package proxy

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Call when the pending-call record's
	// deadline elapses with no matching RESPONSE/ERROR.
	ErrTimeout = errors.New("proxy: call timed out")

	// ErrDisconnected's text is the error message Disconnect delivers to
	// every outstanding pending call; a Call made after Disconnect returns
	// ErrNotConnected instead.
	ErrDisconnected = errors.New("proxy: disconnected")

	// ErrNotConnected is returned by Call/CallOneWay before Connect has
	// succeeded.
	ErrNotConnected = errors.New("proxy: not connected")

	// ErrCircuitOpen is returned by Connect/reconnect attempts while the
	// circuit breaker is open.
	ErrCircuitOpen = errors.New("proxy: circuit breaker open")
)

// Result is the public failure contract spec.md §7 names for every
// RPC call: success flag, payload, and (on failure) the error code/message
// floor from §4.G, plus the retry count actually used and call duration.
type Result struct {
	Success      bool
	Data         []byte
	ErrorCode    uint32
	ErrorMessage string
	RetryCount   int
	Duration     time.Duration
}
