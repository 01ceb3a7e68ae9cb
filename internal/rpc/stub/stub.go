// Package stub implements the server-side RPC overlay of spec.md §4.F:
// method registration, bounded-concurrency dispatch, and the error-code
// floor of §4.G. Generalized from the teacher's internal/arpc.Router +
// WorkerPool pairing (internal/arpc/router.go, internal/arpc/
// worker_pool.go) onto the uniform internal/transport.Transport contract.
package stub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/rpcerr"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/utils/hashmap"
	"github.com/alphadose/haxmap"
)

// HandlerFunc is a registered RPC method implementation: given the
// request payload, it returns a response payload or an error.
type HandlerFunc func(ctx context.Context, peer string, req *message.Message) ([]byte, error)

// ValidateFunc runs before dispatch; a non-nil error fails the call with
// VALIDATION_FAILED before the handler ever runs.
type ValidateFunc func(ctx context.Context, peer string, req *message.Message) error

// AuthFunc runs after validation; a non-nil error fails the call with
// AUTHENTICATION_FAILED.
type AuthFunc func(ctx context.Context, peer string, req *message.Message) error

// Stub is the server-side stateful RPC object: one per listening
// endpoint, dispatching REQUEST messages to registered method handlers.
type Stub struct {
	tr  transport.Transport
	cfg Config

	handlers *haxmap.Map[string, HandlerFunc]
	Validate ValidateFunc
	Auth     AuthFunc

	pool *dispatchPool

	Stats Stats

	serving atomic.Bool
}

// New returns a Stub dispatching over tr (already constructed, not yet
// initialized).
func New(tr transport.Transport, cfg Config) *Stub {
	return &Stub{
		tr:       tr,
		cfg:      cfg,
		handlers: hashmap.New[HandlerFunc](),
	}
}

// Handle registers fn as the implementation of method. Calling Handle
// for a method already registered replaces it.
func (s *Stub) Handle(method string, fn HandlerFunc) {
	s.handlers.Set(method, fn)
}

// CloseHandle removes method's registration.
func (s *Stub) CloseHandle(method string) {
	s.handlers.Del(method)
}

// Serve initializes and starts the underlying transport, dispatching
// every inbound REQUEST to the registered handler table.
func (s *Stub) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	s.pool = newDispatchPool(ctx, s.cfg)

	if err := s.tr.Init(ctx); err != nil {
		s.serving.Store(false)
		return err
	}
	return s.tr.Start(ctx, s.onMessage)
}

// onMessage is the transport.Handler passed to Start. It runs on the
// transport's own accept/read loop, so it must not block on handler
// execution: it hands the request to the dispatch pool and returns
// immediately. The worker goroutine sends the eventual response
// directly via the transport, so onMessage itself always returns
// (nil, nil) on the accepted path.
func (s *Stub) onMessage(ctx context.Context, peer string, req *message.Message) (*message.Message, error) {
	s.Stats.totalRequests.Add(1)

	if req.Header.Type != message.TypeRequest {
		return nil, nil
	}

	if max := s.cfg.MaxConcurrentRequests; max > 0 && s.Stats.activeHandlers.Load() >= max {
		s.Stats.rejectedFull.Add(1)
		return s.errorResponse(req, rpcerr.CodeMaxRequestsExceeded, "max concurrent requests exceeded", "capacity"), nil
	}

	accepted := s.pool.submit(func() { s.handle(ctx, peer, req) })
	if !accepted {
		s.Stats.rejectedFull.Add(1)
		return s.errorResponse(req, rpcerr.CodeMaxRequestsExceeded, "dispatch queue saturated", "capacity"), nil
	}
	return nil, nil
}

func (s *Stub) errorResponse(req *message.Message, code uint32, msg, category string) *message.Message {
	if req.IsOneWay() {
		return nil
	}
	return message.NewErrorResponse(req, code, msg, category, "")
}

// handle runs on a dispatch-pool worker: validation, auth, the
// handler-timeout race, and the eventual Send of the RESPONSE/ERROR.
func (s *Stub) handle(ctx context.Context, peer string, req *message.Message) {
	s.Stats.activeHandlers.Add(1)
	defer s.Stats.activeHandlers.Add(-1)

	fn, ok := s.handlers.Get(req.Metadata.Subject)
	if !ok {
		s.Stats.methodNotFound.Add(1)
		s.Stats.failureCount.Add(1)
		s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Metadata.Subject), "not_found"))
		return
	}

	if s.Validate != nil {
		if err := s.Validate(ctx, peer, req); err != nil {
			s.Stats.validationFail.Add(1)
			s.Stats.failureCount.Add(1)
			s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeValidationFailed, err.Error(), "validation"))
			return
		}
	}

	if s.Auth != nil {
		if err := s.Auth(ctx, peer, req); err != nil {
			s.Stats.authFail.Add(1)
			s.Stats.failureCount.Add(1)
			s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeAuthenticationFail, err.Error(), "auth"))
			return
		}
	}

	payload, err := s.invokeWithTimeout(ctx, peer, req, fn)
	if err != nil {
		s.Stats.failureCount.Add(1)
		if e, ok := err.(*timeoutError); ok {
			s.Stats.handlerTimeouts.Add(1)
			s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeHandlerTimeout, e.Error(), "timeout"))
			return
		}
		if e, ok := err.(*panicError); ok {
			s.Stats.handlerPanics.Add(1)
			s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeHandlerException, e.Error(), "exception"))
			return
		}
		s.send(ctx, peer, s.errorResponse(req, rpcerr.CodeHandlerException, err.Error(), "exception"))
		return
	}

	s.Stats.successCount.Add(1)
	if req.IsOneWay() {
		return
	}
	s.send(ctx, peer, message.NewResponse(req, payload))
}

type timeoutError struct{ method string }

func (e *timeoutError) Error() string { return fmt.Sprintf("handler timeout: %s", e.method) }

type panicError struct{ method string; recovered any }

func (e *panicError) Error() string { return fmt.Sprintf("handler panic in %s: %v", e.method, e.recovered) }

// invokeWithTimeout runs fn on its own goroutine and races it against
// Config.HandlerTimeout, per DESIGN.md's handler-timeout decision: the
// goroutine is not forcibly killed on timeout (Go has no such
// mechanism) but its result is discarded once the timer fires.
func (s *Stub) invokeWithTimeout(ctx context.Context, peer string, req *message.Message, fn HandlerFunc) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &panicError{method: req.Metadata.Subject, recovered: r}}
			}
		}()
		payload, err := fn(ctx, peer, req)
		done <- result{payload: payload, err: err}
	}()

	timeout := s.cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-timer.C:
		return nil, &timeoutError{method: req.Metadata.Subject}
	}
}

func (s *Stub) send(ctx context.Context, peer string, resp *message.Message) {
	if resp == nil {
		return
	}
	if err := s.tr.Send(ctx, peer, resp); err != nil {
		logging.Component("stub").Warn().Err(err).Str("peer", peer).Msg("stub: failed to send response")
	}
}

// Stop waits up to Config.ShutdownTimeout for active handlers to drain,
// then halts the transport's accept loop and the dispatch pool.
func (s *Stub) Stop(ctx context.Context) error {
	if !s.serving.Load() {
		return ErrNotServing
	}

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	for s.Stats.activeHandlers.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var shutdownErr error
	if s.Stats.activeHandlers.Load() > 0 {
		shutdownErr = ErrShutdownTimeout
	}

	if err := s.tr.Stop(ctx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	s.pool.shutdown()
	s.serving.Store(false)
	return shutdownErr
}

// Cleanup releases the underlying transport's OS resources.
func (s *Stub) Cleanup() error {
	return s.tr.Cleanup()
}
