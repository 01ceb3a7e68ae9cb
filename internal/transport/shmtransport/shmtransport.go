// Package shmtransport implements the shared-memory Transport: two
// internal/shmring byte rings per connected peer, one for each
// direction, named "<channel>_tx" and "<channel>_rx" from the owner's
// point of view (a client's tx ring is the owner's rx ring and vice
// versa). It generalizes the fixed-slot market-data ring this module's
// feeder code used into a bidirectional message channel.
package shmtransport

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/shmring"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
)

// envelopeHeaderSize is the fixed prefix written ahead of every serialized
// Message pushed onto a ring, per §6's shared-memory envelope
// (u64 timestamp || u32 crc32, the leading u32 size being the ring
// frame's own length prefix).
const envelopeHeaderSize = 8 + 4

// ErrEnvelopeCorrupt is returned when a popped ring frame is shorter than
// the envelope header or its crc32 doesn't match the enclosed message.
var ErrEnvelopeCorrupt = errors.New("shmtransport: envelope checksum mismatch")

// DefaultRingCapacity is the per-direction ring size used when callers
// don't override it; it must be a power of two.
const DefaultRingCapacity = 1 << 20 // 1 MiB

// pollInterval bounds how long Receive/the owner's read loop sleeps
// between futex-driven wakeups and ring polls.
const pollInterval = 2 * time.Millisecond

// Channel names the pair of rings backing one shared-memory connection.
type Channel struct {
	Name     string
	Capacity int
}

// Owner is the shared-memory Transport's server-equivalent role: it
// creates the ring pair and accepts a single peer (POSIX shared memory
// here models a single fixed channel rather than a socket's many
// incoming connections, per §4.D).
type Owner struct {
	channel  Channel
	registry *wire.Registry

	tx, rx *shmring.Ring // tx: owner -> peer, rx: peer -> owner

	state  atomic.Int32
	stopCh chan struct{}
}

// NewOwner returns an Owner for the given channel.
func NewOwner(channel Channel, registry *wire.Registry) *Owner {
	if channel.Capacity == 0 {
		channel.Capacity = DefaultRingCapacity
	}
	return &Owner{channel: channel, registry: registry}
}

func (o *Owner) setState(st transport.State) { o.state.Store(int32(st)) }

// State implements transport.Transport.
func (o *Owner) State() transport.State { return transport.State(o.state.Load()) }

// Init implements transport.Transport: creates both rings.
func (o *Owner) Init(ctx context.Context) error {
	if o.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}
	tx, err := shmring.Create(o.channel.Name+"_tx", o.channel.Capacity)
	if err != nil {
		o.setState(transport.StateError)
		return err
	}
	rx, err := shmring.Create(o.channel.Name+"_rx", o.channel.Capacity)
	if err != nil {
		tx.Close()
		o.setState(transport.StateError)
		return err
	}
	o.tx, o.rx = tx, rx
	o.setState(transport.StateInitialized)
	return nil
}

// Connect is not meaningful for the owner role.
func (o *Owner) Connect(ctx context.Context, endpoint string) error {
	return transport.ErrInvalidState
}

// Start implements transport.Transport: polls the rx ring and dispatches
// decoded messages to handler, writing any response to tx.
func (o *Owner) Start(ctx context.Context, handler transport.Handler) error {
	if o.State() != transport.StateInitialized {
		return transport.ErrInvalidState
	}
	o.stopCh = make(chan struct{})
	o.setState(transport.StateConnected)
	go o.loop(ctx, handler)
	return nil
}

func (o *Owner) loop(ctx context.Context, handler transport.Handler) {
	var lastSeen uint32
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		body, ok, err := o.rx.Pop()
		if err != nil {
			logging.L().Error().Err(err).Msg("shmtransport: rx pop failed")
			o.setState(transport.StateError)
			return
		}
		if !ok {
			lastSeen = o.rx.WaitPushable(lastSeen, int(pollInterval/time.Millisecond))
			continue
		}

		m, err := decodeBody(o.registry, body)
		if err != nil {
			logging.L().Warn().Err(err).Msg("shmtransport: failed to decode message")
			continue
		}
		resp, err := handler(ctx, o.channel.Name, m)
		if err != nil {
			logging.L().Error().Err(err).Msg("shmtransport: handler error")
			continue
		}
		if resp == nil {
			continue
		}
		if err := o.Send(ctx, o.channel.Name, resp); err != nil {
			logging.L().Warn().Err(err).Msg("shmtransport: failed to push response")
		}
	}
}

// Send implements transport.Transport: peer is ignored (one channel, one
// peer).
func (o *Owner) Send(ctx context.Context, peer string, m *message.Message) error {
	return pushWithRetry(ctx, o.tx, o.registry, m)
}

// Receive is not meaningful for the owner role; see Start/Handler.
func (o *Owner) Receive(ctx context.Context) (*message.Message, error) {
	return nil, transport.ErrInvalidState
}

// Disconnect halts dispatch without releasing the rings.
func (o *Owner) Disconnect(ctx context.Context) error {
	return o.Stop(ctx)
}

// Stop implements transport.Transport.
func (o *Owner) Stop(ctx context.Context) error {
	if o.State() != transport.StateConnected {
		return nil
	}
	o.setState(transport.StateDisconnecting)
	close(o.stopCh)
	o.setState(transport.StateDisconnected)
	return nil
}

// Cleanup implements transport.Transport: closes and unlinks both rings.
func (o *Owner) Cleanup() error {
	var firstErr error
	if o.tx != nil {
		if err := o.tx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.rx != nil {
		if err := o.rx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Client is the peer-side shared-memory Transport: it opens rings the
// Owner already created, with tx/rx swapped relative to the owner.
type Client struct {
	registry *wire.Registry
	tx, rx   *shmring.Ring
	state    atomic.Int32
	mu       sync.Mutex
}

// NewClient returns a Client bound to registry.
func NewClient(registry *wire.Registry) *Client {
	return &Client{registry: registry}
}

func (c *Client) setState(st transport.State) { c.state.Store(int32(st)) }

// State implements transport.Transport.
func (c *Client) State() transport.State { return transport.State(c.state.Load()) }

// Init marks the Client ready to Connect.
func (c *Client) Init(ctx context.Context) error {
	if c.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}
	c.setState(transport.StateInitialized)
	return nil
}

// Start is not meaningful for the client role.
func (c *Client) Start(ctx context.Context, handler transport.Handler) error {
	return transport.ErrInvalidState
}

// Connect implements transport.Transport: endpoint is the channel name
// used by the Owner's Init.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	if c.State() != transport.StateInitialized && c.State() != transport.StateDisconnected {
		return transport.ErrInvalidState
	}
	c.setState(transport.StateConnecting)

	// From the client's point of view, the owner's tx ring is its rx, and
	// the owner's rx ring is its tx.
	rx, err := shmring.Open(endpoint + "_tx")
	if err != nil {
		c.setState(transport.StateError)
		return err
	}
	tx, err := shmring.Open(endpoint + "_rx")
	if err != nil {
		rx.Close()
		c.setState(transport.StateError)
		return err
	}
	c.mu.Lock()
	c.tx, c.rx = tx, rx
	c.mu.Unlock()
	c.setState(transport.StateConnected)
	return nil
}

// Send implements transport.Transport.
func (c *Client) Send(ctx context.Context, peer string, m *message.Message) error {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx == nil {
		return transport.ErrNotConnected
	}
	return pushWithRetry(ctx, tx, c.registry, m)
}

// Receive implements transport.Transport: blocks until a message arrives
// or ctx is canceled.
func (c *Client) Receive(ctx context.Context) (*message.Message, error) {
	c.mu.Lock()
	rx := c.rx
	c.mu.Unlock()
	if rx == nil {
		return nil, transport.ErrNotConnected
	}
	var lastSeen uint32
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		body, ok, err := rx.Pop()
		if err != nil {
			return nil, err
		}
		if ok {
			return decodeBody(c.registry, body)
		}
		lastSeen = rx.WaitPushable(lastSeen, int(pollInterval/time.Millisecond))
	}
}

// Disconnect implements transport.Transport.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	tx, rx := c.tx, c.rx
	c.tx, c.rx = nil, nil
	c.mu.Unlock()
	if tx != nil {
		tx.Close()
	}
	if rx != nil {
		rx.Close()
	}
	c.setState(transport.StateDisconnected)
	return nil
}

// Stop is equivalent to Disconnect for the client role.
func (c *Client) Stop(ctx context.Context) error { return c.Disconnect(ctx) }

// Cleanup implements transport.Transport.
func (c *Client) Cleanup() error { return c.Disconnect(context.Background()) }

// pushWithRetry serializes m, wraps it in the §6 envelope (timestamp +
// crc32 ahead of the encoded bytes; the ring's own frame header supplies
// the leading size field), and retries on BUFFER_OVERFLOW until ctx is
// canceled.
func pushWithRetry(ctx context.Context, r *shmring.Ring, registry *wire.Registry, m *message.Message) error {
	body, err := registry.Serialize(m)
	if err != nil {
		return err
	}
	frame := make([]byte, envelopeHeaderSize+len(body))
	binary.LittleEndian.PutUint64(frame[0:8], uint64(time.Now().UnixMicro()))
	binary.LittleEndian.PutUint32(frame[8:12], crc32.ChecksumIEEE(body))
	copy(frame[envelopeHeaderSize:], body)

	for {
		err := r.Push(frame)
		if err == nil {
			return nil
		}
		if err != shmring.ErrFull {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// decodeBody unwraps the §6 envelope popped from a ring, verifies its
// crc32 against the enclosed serialized Message, and deserializes it with
// the codec matching the wire format byte.
func decodeBody(registry *wire.Registry, frame []byte) (*message.Message, error) {
	if len(frame) < envelopeHeaderSize {
		return nil, ErrEnvelopeCorrupt
	}
	wantCRC := binary.LittleEndian.Uint32(frame[8:12])
	body := frame[envelopeHeaderSize:]
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrEnvelopeCorrupt
	}

	format, err := message.PeekFormat(body)
	if err != nil {
		return nil, err
	}
	codec, err := registry.For(format)
	if err != nil {
		return nil, err
	}
	return codec.Deserialize(body)
}
