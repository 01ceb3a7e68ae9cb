package rpcstream

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/smux"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
)

// Client is the client-side RPC-stream Transport: it dials a connection,
// upgrades it to an smux.Session, opens the single logical stream, and
// exposes blocking Send/Receive over it, reconnecting per
// transport.ReconnectConfig.
type Client struct {
	cfg      Config
	registry *wire.Registry
	reconfig transport.ReconnectConfig
	tlsConf  *tls.Config

	state atomic.Int32

	mu     sync.Mutex
	sess   *smux.Session
	stream *smux.Stream
}

// NewClient returns a Client using cfg for dial parameters and reconfig
// for reconnect backoff.
func NewClient(cfg Config, registry *wire.Registry, reconfig transport.ReconnectConfig) *Client {
	return &Client{cfg: cfg, registry: registry, reconfig: reconfig}
}

func (c *Client) setState(st transport.State) { c.state.Store(int32(st)) }

// State implements transport.Transport.
func (c *Client) State() transport.State { return transport.State(c.state.Load()) }

// Init implements transport.Transport: loads TLS material, if configured.
func (c *Client) Init(ctx context.Context) error {
	if c.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}
	if c.cfg.EnableTLS {
		tlsConf, err := buildTLSConfig(c.cfg, false)
		if err != nil {
			c.setState(transport.StateError)
			return err
		}
		c.tlsConf = tlsConf
	}
	c.setState(transport.StateInitialized)
	return nil
}

// Start is not meaningful for the client role.
func (c *Client) Start(ctx context.Context, handler transport.Handler) error {
	return transport.ErrInvalidState
}

// Connect implements transport.Transport: dials endpoint, optionally over
// TLS, upgrades to smux, and opens the logical stream, retrying with
// backoff per ReconnectConfig.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	if c.State() != transport.StateInitialized && c.State() != transport.StateDisconnected {
		return transport.ErrInvalidState
	}
	c.setState(transport.StateConnecting)

	network := "tcp"
	if len(endpoint) > 0 && endpoint[0] == '/' {
		network = "unix"
	}

	dial := func() error {
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, network, endpoint)
		if err != nil {
			return err
		}
		var rawConn net.Conn = conn
		if c.tlsConf != nil {
			rawConn = tls.Client(conn, c.tlsConf)
		}

		intervalSec, timeoutSec := smuxKeepaliveConfig(c.cfg)
		smuxCfg := smux.DefaultConfig()
		smuxCfg.KeepAliveInterval = time.Duration(intervalSec) * time.Second
		smuxCfg.KeepAliveTimeout = time.Duration(timeoutSec) * time.Second

		sess, err := smux.Client(rawConn, smuxCfg)
		if err != nil {
			rawConn.Close()
			return err
		}
		stream, err := sess.OpenStream()
		if err != nil {
			sess.Close()
			return err
		}

		c.mu.Lock()
		c.sess, c.stream = sess, stream
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
// single logical stream).
func (c *Client) Send(ctx context.Context, peer string, m *message.Message) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return errNoActiveStream
	}
	frame, err := encodeFrame(c.registry, m)
	if err != nil {
		return err
	}
	stream.SetWriteDeadline(time.Time{})
	_, err = stream.Write(frame)
	return err
}

// Receive implements transport.Transport: blocks until a full frame has
// been read off the logical stream, or ctx is canceled.
func (c *Client) Receive(ctx context.Context) (*message.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()
		if stream == nil {
			return nil, errNoActiveStream
		}

		stream.SetReadDeadline(time.Now().Add(readDeadlineSlice))
		body, err := readFrame(stream)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, err
		}
		return decodeFrame(c.registry, body)
	}
}

// Disconnect implements transport.Transport: closes the active stream and
// session.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	stream, sess := c.stream, c.sess
	c.stream, c.sess = nil, nil
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	if sess != nil {
		sess.Close()
	}
	c.setState(transport.StateDisconnected)
	return nil
}

// Stop is equivalent to Disconnect for the client role.
func (c *Client) Stop(ctx context.Context) error { return c.Disconnect(ctx) }

// Cleanup implements transport.Transport.
func (c *Client) Cleanup() error { return c.Disconnect(context.Background()) }
