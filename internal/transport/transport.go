// Package transport defines the common contract every concrete transport
// (Unix domain socket, POSIX shared memory, RPC-over-stream) implements,
// plus the lifecycle state machine shared across all of them. The state
// machine and reconnect vocabulary (circuit breaker, jittered backoff)
// generalize the connection-state handling this module's RPC stack
// already used for its multiplexed-stream sessions.
package transport

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cdmf/ipc/internal/message"
)

// State enumerates a transport's lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Errors common to every transport implementation.
var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrClosed           = errors.New("transport: closed")
	ErrInvalidState     = errors.New("transport: invalid state for operation")
)

// Handler is invoked for every inbound Message a server-side transport
// receives, once per Message, with peer naming the connection it arrived
// on. Client-side transports take no Handler; they hand inbound Messages
// out through Receive.
type Handler func(ctx context.Context, peer string, m *message.Message) (*message.Message, error)

// Transport is the common contract for the Unix-socket, SHM-ring and
// RPC-stream transports. Init/Start govern server-side listening; Connect
// governs client-side dialing; both sides use Send/Receive/Disconnect.
type Transport interface {
	// Init prepares the transport (binds a listening socket, creates a
	// shared-memory region, etc.) without yet accepting traffic.
	Init(ctx context.Context) error

	// Start begins accepting inbound connections/messages and dispatching
	// them to handler. Only meaningful for server-side transports.
	Start(ctx context.Context, handler Handler) error

	// Connect establishes a client-side connection to endpoint.
	Connect(ctx context.Context, endpoint string) error

	// Send transmits m to peer (server-side, keyed by the value Handler
	// received) or to the single connected endpoint (client-side).
	Send(ctx context.Context, peer string, m *message.Message) error

	// Receive blocks for the next inbound Message on a client-side
	// connection.
	Receive(ctx context.Context) (*message.Message, error)

	// Disconnect tears down the active connection but leaves the
	// transport re-connectable.
	Disconnect(ctx context.Context) error

	// Stop halts a server-side transport's accept loop.
	Stop(ctx context.Context) error

	// Cleanup releases all OS resources (fds, mmap regions, socket files).
	// Called once, after Stop/Disconnect.
	Cleanup() error

	// State reports the current lifecycle state.
	State() State
}

// ReconnectConfig parameterizes a client transport's reconnect behavior.
// DialWithBackoff reads InitialBackoff, MaxBackoff and BackoffJitter;
// AutoReconnect and CircuitBreakTime are carried but not read by any code
// in this module (the proxy has its own circuit breaker).
type ReconnectConfig struct {
	AutoReconnect    bool
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	BackoffJitter    float64
	CircuitBreakTime time.Duration
}

// DefaultReconnectConfig returns sane defaults, matching the values this
// module's stream-session reconnect logic has always used.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		AutoReconnect:    true,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		BackoffJitter:    0.2,
		CircuitBreakTime: 60 * time.Second,
	}
}

// JitteredBackoff returns d scaled by a random factor in
// [1-jitter, 1+jitter].
func JitteredBackoff(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter
	scaled := float64(d) * (1 + delta)
	if scaled < 0 {
		return 0
	}
	return time.Duration(scaled)
}

// DialWithBackoff retries dial with exponential backoff and jitter until
// it succeeds or ctx is canceled.
func DialWithBackoff(ctx context.Context, cfg ReconnectConfig, dial func() error) error {
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	attempt := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			timer.Reset(JitteredBackoff(backoff, cfg.BackoffJitter))
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attempt++

		if err := dial(); err != nil {
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		return nil
	}
}
