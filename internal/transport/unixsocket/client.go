package unixsocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
)

// Client is the client-side Unix-domain-socket Transport. It dials a
// single connection and exposes blocking Send/Receive; reconnection is
// driven by transport.DialWithBackoff, invoked from Connect.
type Client struct {
	registry *wire.Registry
	reconfig transport.ReconnectConfig

	state atomic.Int32

	mu     sync.Mutex
	fd     int
	path   string
	reader frameReader

	// sendMu serializes Send so one frame's bytes never interleave with
	// another sender's.
	sendMu sync.Mutex
}

// NewClient returns a Client using the given ReconnectConfig for Connect.
func NewClient(registry *wire.Registry, reconfig transport.ReconnectConfig) *Client {
	return &Client{
		registry: registry,
		reconfig: reconfig,
		fd:       -1,
	}
}

func (c *Client) setState(st transport.State) { c.state.Store(int32(st)) }

// State implements transport.Transport.
func (c *Client) State() transport.State {
	return transport.State(c.state.Load())
}

// Init implements transport.Transport: a client-side Unix socket has no
// separate bind/listen step, so Init just marks readiness to Connect.
func (c *Client) Init(ctx context.Context) error {
	if c.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}
	c.setState(transport.StateInitialized)
	return nil
}

// Start is not meaningful for the client role; inbound messages are read
// via Receive.
func (c *Client) Start(ctx context.Context, handler transport.Handler) error {
	return transport.ErrInvalidState
}

// Connect implements transport.Transport: dials endpoint (a filesystem
// path), retrying with backoff per ReconnectConfig.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	if c.State() != transport.StateInitialized && c.State() != transport.StateDisconnected {
		return transport.ErrInvalidState
	}
	c.setState(transport.StateConnecting)
	c.path = endpoint

	dial := func() error {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return err
		}
		if err := unix.Connect(fd, &unix.SockaddrUnix{Name: endpoint}); err != nil {
			unix.Close(fd)
			return err
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return err
		}
		c.mu.Lock()
		c.fd = fd
		c.reader = frameReader{}
		c.mu.Unlock()
		return nil
	}

	if err := transport.DialWithBackoff(ctx, c.reconfig, dial); err != nil {
		c.setState(transport.StateError)
		return err
	}
	c.setState(transport.StateConnected)
	return nil
}

// Send implements transport.Transport: peer is ignored (a client has a
// single active connection).
func (c *Client) Send(ctx context.Context, peer string, m *message.Message) error {
	c.mu.Lock()
	fd := c.fd
	c.mu.Unlock()
	if fd < 0 {
		return errNoActiveConn
	}
	frame, err := encodeFrame(c.registry, m)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return writeAll(fd, frame)
}

// Receive implements transport.Transport: blocks until a full frame has
// been read (polling the non-blocking fd), or ctx is canceled.
func (c *Client) Receive(ctx context.Context) (*message.Message, error) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c.mu.Lock()
		fd := c.fd
		body, ok, err := c.reader.next()
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if ok {
			return decodeFrame(c.registry, body)
		}
		if fd < 0 {
			return nil, errNoActiveConn
		}

		n, rerr := unix.Read(fd, buf)
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, rerr
		}
		if n == 0 {
			return nil, errNoActiveConn
		}
		c.mu.Lock()
		c.reader.feed(buf[:n])
		c.mu.Unlock()
	}
}

// Disconnect implements transport.Transport: closes the active fd.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	fd := c.fd
	c.fd = -1
	c.mu.Unlock()
	if fd >= 0 {
		unix.Close(fd)
	}
	c.setState(transport.StateDisconnected)
	return nil
}

// Stop is equivalent to Disconnect for the client role.
func (c *Client) Stop(ctx context.Context) error {
	return c.Disconnect(ctx)
}

// Cleanup implements transport.Transport.
func (c *Client) Cleanup() error {
	return c.Disconnect(context.Background())
}
