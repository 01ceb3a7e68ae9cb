package unixsocket

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/wire"
)

// epollPollTimeoutMs bounds each EpollWait call so the accept loop can
// still observe Stop even with no socket activity.
const epollPollTimeoutMs = 200

// clientConn tracks per-connection framing and identity state.
type clientConn struct {
	fd     int
	reader frameReader
	mu     sync.Mutex // guards writes to fd
}

// Server is the server-side Unix-domain-socket Transport: an
// edge-triggered epoll accept/read loop that dispatches decoded messages
// to a Handler and routes RESPONSE/ERROR replies back to the originating
// client by message_id.
type Server struct {
	path     string
	registry *wire.Registry

	epfd     int
	listenFd int

	state atomic.Int32

	mu      sync.RWMutex
	clients map[int]*clientConn

	routingMu sync.RWMutex
	routing   map[message.ID]int // message_id -> client fd, for response correlation

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer returns a Server that will listen on path once Init is called.
func NewServer(path string, registry *wire.Registry) *Server {
	return &Server{
		path:     path,
		registry: registry,
		clients:  make(map[int]*clientConn),
		routing:  make(map[message.ID]int),
		epfd:     -1,
		listenFd: -1,
	}
}

func (s *Server) setState(st transport.State) { s.state.Store(int32(st)) }

// State implements transport.Transport.
func (s *Server) State() transport.State {
	return transport.State(s.state.Load())
}

// Init implements transport.Transport: binds and listens on the Unix
// socket path and creates the epoll instance, but does not yet accept.
func (s *Server) Init(ctx context.Context) error {
	if s.State() != transport.StateUninitialized {
		return transport.ErrInvalidState
	}

	_ = os.Remove(s.path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		s.setState(transport.StateError)
		return fmt.Errorf("unixsocket: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: s.path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		s.setState(transport.StateError)
		return fmt.Errorf("unixsocket: bind: %w", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		s.setState(transport.StateError)
		return fmt.Errorf("unixsocket: listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		s.setState(transport.StateError)
		return fmt.Errorf("unixsocket: epoll_create1: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		s.setState(transport.StateError)
		return fmt.Errorf("unixsocket: epoll_ctl add listener: %w", err)
	}

	s.listenFd = fd
	s.epfd = epfd
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

// Start implements transport.Transport: runs the epoll accept/read loop
// on a background goroutine until Stop is called or ctx is canceled.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	if s.State() != transport.StateInitialized {
		return transport.ErrInvalidState
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.setState(transport.StateConnected)

	go s.loop(ctx, handler)
	return nil
}

func (s *Server) loop(ctx context.Context, handler transport.Handler) {
	defer close(s.doneCh)
	events := make([]unix.EpollEvent, 64)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := unix.EpollWait(s.epfd, events, epollPollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logging.L().Error().Err(err).Msg("unixsocket: epoll_wait failed")
			s.setState(transport.StateError)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch {
			case fd == s.listenFd:
				s.acceptAll()
			case events[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
				s.dropClient(fd)
			default:
				s.readClient(ctx, fd, handler)
			}
		}
	}
}

func (s *Server) acceptAll() {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			logging.L().Warn().Err(err).Msg("unixsocket: accept4 failed")
			return
		}
		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLET,
			Fd:     int32(fd),
		}); err != nil {
			unix.Close(fd)
			continue
		}
		s.mu.Lock()
		s.clients[fd] = &clientConn{fd: fd}
		s.mu.Unlock()
	}
}

func (s *Server) readClient(ctx context.Context, fd int, handler transport.Handler) {
	s.mu.RLock()
	c, ok := s.clients[fd]
	s.mu.RUnlock()
	if !ok {
		return
	}

	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			s.dropClient(fd)
			return
		}
		if n == 0 {
			s.dropClient(fd)
			return
		}
		c.reader.feed(buf[:n])
	}

	for {
		body, ok, err := c.reader.next()
		if err != nil {
			logging.L().Warn().Err(err).Int("fd", fd).Msg("unixsocket: framing error, dropping client")
			s.dropClient(fd)
			return
		}
		if !ok {
			return
		}
		m, err := decodeFrame(s.registry, body)
		if err != nil {
			logging.L().Warn().Err(err).Int("fd", fd).Msg("unixsocket: failed to decode message")
			continue
		}

		s.routingMu.Lock()
		s.routing[m.Header.MessageID] = fd
		s.routingMu.Unlock()

		peer := strconv.Itoa(fd)
		resp, err := handler(ctx, peer, m)
		if err != nil {
			logging.L().Error().Err(err).Str("peer", peer).Msg("unixsocket: handler error")
			continue
		}
		if resp == nil {
			continue
		}

		if resp.Header.Type == message.TypeEvent || resp.Header.Type == message.TypeControl {
			s.broadcast(resp)
			continue
		}
		if err := s.Send(ctx, peer, resp); err != nil {
			logging.L().Warn().Err(err).Str("peer", peer).Msg("unixsocket: failed to send response")
		}
	}
}

// broadcast writes m to every currently connected client. Kept per this
// module's inherited behavior of fanning EVENT/CONTROL messages out to
// every client rather than only the originator.
func (s *Server) broadcast(m *message.Message) {
	frame, err := encodeFrame(s.registry, m)
	if err != nil {
		logging.L().Error().Err(err).Msg("unixsocket: failed to encode broadcast message")
		return
	}
	s.mu.RLock()
	targets := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		err := writeAll(c.fd, frame)
		c.mu.Unlock()
		if err != nil {
			logging.L().Warn().Err(err).Int("fd", c.fd).Msg("unixsocket: broadcast write failed")
		}
	}
}

// Send implements transport.Transport: peer is the decimal fd string
// handed to Handler. For RESPONSE/ERROR messages the routing map built
// from the originating REQUEST's message_id is consulted as the
// authoritative destination per §4.C; the peer argument is only used as
// a fallback when no routing entry exists (e.g. a caller that never went
// through Handler, such as a one-shot broadcast-style reply).
func (s *Server) Send(ctx context.Context, peer string, m *message.Message) error {
	fd, ok := s.resolveFd(peer, m)
	if !ok {
		return errUnknownPeer
	}

	s.mu.RLock()
	c, known := s.clients[fd]
	s.mu.RUnlock()
	if !known {
		return errUnknownPeer
	}

	frame, err := encodeFrame(s.registry, m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeAll(fd, frame)
}

// resolveFd determines which client fd a response should be written to.
// A RESPONSE or ERROR routes by correlation_id through the routing map
// recorded when the originating REQUEST arrived, erasing the entry once
// consumed; any other message type, or a correlation_id with no routing
// entry, falls back to the peer string supplied by the caller.
func (s *Server) resolveFd(peer string, m *message.Message) (int, bool) {
	if m.Header.Type == message.TypeResponse || m.Header.Type == message.TypeError {
		s.routingMu.Lock()
		fd, found := s.routing[m.Header.CorrelationID]
		if found {
			delete(s.routing, m.Header.CorrelationID)
		}
		s.routingMu.Unlock()
		if found {
			return fd, true
		}
	}
	fd, err := strconv.Atoi(peer)
	if err != nil {
		return 0, false
	}
	return fd, true
}

func (s *Server) dropClient(fd int) {
	s.mu.Lock()
	delete(s.clients, fd)
	s.mu.Unlock()
	_ = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)

	s.routingMu.Lock()
	for id, f := range s.routing {
		if f == fd {
			delete(s.routing, id)
		}
	}
	s.routingMu.Unlock()
}

// Disconnect closes every currently connected client, leaving the
// listener intact.
func (s *Server) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	fds := make([]int, 0, len(s.clients))
	for fd := range s.clients {
		fds = append(fds, fd)
	}
	s.mu.Unlock()
	for _, fd := range fds {
		s.dropClient(fd)
	}
	return nil
}

// Stop implements transport.Transport: halts the accept loop.
func (s *Server) Stop(ctx context.Context) error {
	if s.State() != transport.StateConnected {
		return nil
	}
	s.setState(transport.StateDisconnecting)
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
	}
	_ = s.Disconnect(ctx)
	s.setState(transport.StateDisconnected)
	return nil
}

// Cleanup implements transport.Transport: releases the listener fd, the
// epoll fd, and unlinks the socket path.
func (s *Server) Cleanup() error {
	if s.epfd >= 0 {
		unix.Close(s.epfd)
		s.epfd = -1
	}
	if s.listenFd >= 0 {
		unix.Close(s.listenFd)
		s.listenFd = -1
	}
	_ = os.Remove(s.path)
	return nil
}
