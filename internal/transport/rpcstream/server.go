package rpcstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/smux"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
)

// readDeadlineSlice bounds each blocking read on a logical stream so the
// server's per-connection goroutine can still observe Stop.
const readDeadlineSlice = 200 * time.Millisecond

// peerConn tracks one accepted connection's session, logical stream, and
// write-side mutex.
type peerConn struct {
	id     int
	sess   *smux.Session
	stream *smux.Stream
	mu     sync.Mutex // guards writes to stream
}

// Server is the server-side RPC-stream Transport: it listens for
// connections, upgrades each to an smux.Session, accepts the single
// logical stream spec.md's design note describes, and dispatches decoded
// frames to a Handler through a bounded completionPool.
type Server struct {
	cfg      Config
	registry *wire.Registry

	ln      net.Listener
	tlsConf *tls.Config

	state atomic.Int32

	mu       sync.RWMutex
	peers    map[int]*peerConn
	nextPeer atomic.Int64

	routingMu sync.RWMutex
	routing   map[message.ID]int

	pool *completionPool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer returns a Server that will listen on cfg.Endpoint once Init
// is called.
func NewServer(cfg Config, registry *wire.Registry) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		peers:    make(map[int]*peerConn),
		routing:  make(map[message.ID]int),
	}
}

func (s *Server) setState(st transport.State) { s.state.Store(int32(st)) }

// State implements transport.Transport.
func (s *Server) State() transport.State { return transport.State(s.state.Load()) }

// Init implements transport.Transport: binds the listener (and loads TLS
// material, if configured) without yet accepting connections.
func (s *Server) Init(ctx context.Context) error {
	if s.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}
	if s.cfg.EnableTLS {
		tlsConf, err := buildTLSConfig(s.cfg, true)
		if err != nil {
			s.setState(transport.StateError)
			return err
		}
		s.tlsConf = tlsConf
	}

	network, address := "tcp", s.cfg.Endpoint
	if len(address) > 0 && address[0] == '/' {
		network = "unix"
		_ = os.Remove(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		s.setState(transport.StateError)
		return fmt.Errorf("rpcstream: listen: %w", err)
	}
	s.ln = ln
	s.setState(transport.StateInitialized)
	return nil
}

// Connect is not meaningful for the server role.
func (s *Server) Connect(ctx context.Context, endpoint string) error {
	return transport.ErrInvalidState
}

// Receive is not meaningful for the server role; inbound messages are
// delivered to the Handler passed to Start.
func (s *Server) Receive(ctx context.Context) (*message.Message, error) {
	return nil, transport.ErrInvalidState
}

// Start implements transport.Transport: runs the accept loop on a
// background goroutine until Stop is called or ctx is canceled.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	if s.State() != transport.StateInitialized {
		return transport.ErrInvalidState
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.pool = newCompletionPool(ctx, s.cfg.CQThreadCount, s.cfg.MaxConcurrentStreams)
	s.setState(transport.StateConnected)

	go s.acceptLoop(ctx, handler)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, handler transport.Handler) {
	defer close(s.doneCh)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			logging.L().Warn().Err(err).Msg("rpcstream: accept failed")
			continue
		}
		go s.serveConn(ctx, conn, handler)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, handler transport.Handler) {
	if s.tlsConf != nil {
		conn = tls.Server(conn, s.tlsConf)
	}

	intervalSec, timeoutSec := smuxKeepaliveConfig(s.cfg)
	smuxCfg := smux.DefaultConfig()
	smuxCfg.KeepAliveInterval = time.Duration(intervalSec) * time.Second
	smuxCfg.KeepAliveTimeout = time.Duration(timeoutSec) * time.Second

	sess, err := smux.Server(conn, smuxCfg)
	if err != nil {
		logging.L().Warn().Err(err).Msg("rpcstream: smux.Server upgrade failed")
		conn.Close()
		return
	}

	stream, err := sess.AcceptStream()
	if err != nil {
		logging.L().Warn().Err(err).Msg("rpcstream: accept logical stream failed")
		sess.Close()
		return
	}

	id := int(s.nextPeer.Add(1))
	pc := &peerConn{id: id, sess: sess, stream: stream}
	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()

	defer s.dropPeer(id)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		stream.SetReadDeadline(time.Now().Add(readDeadlineSlice))
		body, err := readFrame(stream)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		m, err := decodeFrame(s.registry, body)
		if err != nil {
			logging.L().Warn().Err(err).Int("peer", id).Msg("rpcstream: failed to decode frame")
			continue
		}

		s.routingMu.Lock()
		s.routing[m.Header.MessageID] = id
		s.routingMu.Unlock()

		peer := strconv.Itoa(id)
		submitted := s.pool.submit(func() {
			resp, err := handler(ctx, peer, m)
			if err != nil {
				logging.L().Error().Err(err).Str("peer", peer).Msg("rpcstream: handler error")
				return
			}
			if resp == nil {
				return
			}
			if err := s.Send(ctx, peer, resp); err != nil {
				logging.L().Warn().Err(err).Str("peer", peer).Msg("rpcstream: failed to send response")
			}
		})
		if !submitted {
			logging.L().Warn().Str("peer", peer).Msg("rpcstream: completion pool saturated, dropping request")
		}
	}
}

// Send implements transport.Transport: peer is the decimal id handed to
// Handler. RESPONSE/ERROR frames are routed by correlation_id through the
// map populated in serveConn, per spec.md §4.C; peer is the fallback for
// anything else (notably REQUEST frames a caller addresses directly).
func (s *Server) Send(ctx context.Context, peer string, m *message.Message) error {
	id, ok := s.resolvePeerID(peer, m)
	if !ok {
		return errUnknownPeer
	}
	s.mu.RLock()
	pc, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return errUnknownPeer
	}

	frame, err := encodeFrame(s.registry, m)
	if err != nil {
		return err
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.stream.SetWriteDeadline(time.Time{})
	_, err = pc.stream.Write(frame)
	return err
}

// resolvePeerID resolves the destination peer id for m. RESPONSE and ERROR
// frames consult the routing table by correlation_id first, erasing the
// entry once resolved so it cannot be reused by a later duplicate; any
// other frame (or a correlation_id miss) falls back to the peer string
// Handler was invoked with.
func (s *Server) resolvePeerID(peer string, m *message.Message) (int, bool) {
	if m.Header.Type == message.TypeResponse || m.Header.Type == message.TypeError {
		s.routingMu.Lock()
		id, found := s.routing[m.Header.CorrelationID]
		if found {
			delete(s.routing, m.Header.CorrelationID)
		}
		s.routingMu.Unlock()
		if found {
			return id, true
		}
	}
	id, err := strconv.Atoi(peer)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) dropPeer(id int) {
	s.mu.Lock()
	pc, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if ok {
		pc.stream.Close()
		pc.sess.Close()
	}

	s.routingMu.Lock()
	for mid, pid := range s.routing {
		if pid == id {
			delete(s.routing, mid)
		}
	}
	s.routingMu.Unlock()
}

// Disconnect closes every currently connected peer, leaving the listener
// intact.
func (s *Server) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]int, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.dropPeer(id)
	}
	return nil
}

// Stop implements transport.Transport: halts the accept loop and tears
// down the completion pool.
func (s *Server) Stop(ctx context.Context) error {
	if s.State() != transport.StateConnected {
		return nil
	}
	s.setState(transport.StateDisconnecting)
	close(s.stopCh)
	_ = s.ln.Close()
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
	}
	_ = s.Disconnect(ctx)
	if s.pool != nil {
		s.pool.shutdown()
	}
	s.setState(transport.StateDisconnected)
	return nil
}

// Cleanup implements transport.Transport.
func (s *Server) Cleanup() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
