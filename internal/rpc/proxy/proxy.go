// Package proxy implements the client-side RPC overlay of spec.md §4.F:
// Call/CallAsync/CallOneWay build a REQUEST message, hand it to a
// transport.Transport, and match the eventual RESPONSE/ERROR back to the
// caller by correlation_id. Generalized from the teacher's
// internal/arpc.Session.Call* family (pending-call lifecycle via
// channels in place of smux streams) onto the uniform
// internal/transport.Transport contract so it works unmodified over
// Unix socket, shared-memory, or RPC-stream transports.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/rpcerr"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/utils/hashmap"
	"github.com/alphadose/haxmap"
)

// receiveLoopInterval bounds how often the receive thread re-checks ctx
// cancellation between blocking Receive calls.
const receiveLoopInterval = 100 * time.Millisecond

// timeoutScanInterval is how often the timeout thread scans pending calls
// for expiry, per spec.md §4.F.
const timeoutScanInterval = 100 * time.Millisecond

// Proxy is the client-side stateful RPC object: one per logical
// connection to a peer stub.
type Proxy struct {
	serviceName string
	endpoint    string
	tr          transport.Transport
	retry       RetryPolicy
	breaker     CircuitBreakerConfig

	pending *haxmap.Map[string, *pendingCall]

	Stats Stats

	mu            sync.Mutex
	connected     bool
	consecutive   int
	circuitUntil  time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Proxy bound to tr (already constructed, not yet
// connected), identifying itself as serviceName on the wire.
func New(serviceName string, tr transport.Transport, retry RetryPolicy, breaker CircuitBreakerConfig) *Proxy {
	return &Proxy{
		serviceName: serviceName,
		tr:          tr,
		retry:       retry,
		breaker:     breaker,
		pending:     hashmap.New[*pendingCall](),
	}
}

// Connect dials endpoint via the underlying transport and starts the
// receive and timeout background threads.
func (p *Proxy) Connect(ctx context.Context, endpoint string) error {
	p.mu.Lock()
	if p.breaker.Enabled && time.Now().Before(p.circuitUntil) {
		p.mu.Unlock()
		return ErrCircuitOpen
	}
	p.mu.Unlock()

	if err := p.tr.Connect(ctx, endpoint); err != nil {
		p.noteConnectFailure()
		return err
	}
	p.endpoint = endpoint

	p.mu.Lock()
	p.connected = true
	p.consecutive = 0
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(2)
	go p.receiveLoop()
	go p.timeoutLoop()
	return nil
}

func (p *Proxy) noteConnectFailure() {
	if !p.breaker.Enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive++
	if p.consecutive >= p.breaker.FailureThreshold {
		p.circuitUntil = time.Now().Add(p.breaker.ResetAfter)
	}
}

// isConnected reports whether Connect has succeeded and Disconnect has
// not since run.
func (p *Proxy) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// State reports the underlying transport's lifecycle state, used by the
// proxy factory's health-check thread to detect a dead connection
// without issuing a call.
func (p *Proxy) State() transport.State {
	return p.tr.State()
}

// Endpoint returns the address Connect was last called with.
func (p *Proxy) Endpoint() string {
	return p.endpoint
}

// Call performs a synchronous RPC: builds a REQUEST, sends it, and blocks
// up to timeout for the matching RESPONSE/ERROR, retrying per RetryPolicy
// on send failure or timeout.
func (p *Proxy) Call(ctx context.Context, method string, payload []byte, timeout time.Duration) (*Result, error) {
	start := time.Now()
	result, err := p.callWithRetry(ctx, method, payload, timeout, 0)
	result.Duration = time.Since(start)
	return result, err
}

func (p *Proxy) callWithRetry(ctx context.Context, method string, payload []byte, timeout time.Duration, attempt int) (*Result, error) {
	if !p.isConnected() {
		return &Result{Success: false, ErrorMessage: ErrNotConnected.Error()}, ErrNotConnected
	}

	req := message.NewRequest(p.serviceName, method, payload, false)
	call := newPendingCall(req.Header.MessageID, method, timeout)
	call.retryCount = attempt
	p.pending.Set(pendingKey(req.Header.MessageID), call)
	p.Stats.recordStart()
	defer p.Stats.recordEnd()

	if err := p.tr.Send(ctx, "", req); err != nil {
		p.pending.Del(pendingKey(req.Header.MessageID))
		if res, retried, rerr := p.maybeRetry(ctx, method, payload, timeout, attempt, err); retried {
			return res, rerr
		}
		p.Stats.recordFailure()
		return &Result{Success: false, ErrorMessage: err.Error(), RetryCount: attempt}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.resultCh:
		p.pending.Del(pendingKey(req.Header.MessageID))
		return p.deliver(resp, attempt, call.startTime)

	case <-timer.C:
		p.pending.Del(pendingKey(req.Header.MessageID))
		p.Stats.recordTimeout()
		if res, retried, rerr := p.maybeRetry(ctx, method, payload, timeout, attempt, ErrTimeout); retried {
			return res, rerr
		}
		return &Result{Success: false, ErrorCode: 3, ErrorMessage: ErrTimeout.Error(), RetryCount: attempt}, ErrTimeout

	case <-ctx.Done():
		p.pending.Del(pendingKey(req.Header.MessageID))
		return &Result{Success: false, ErrorMessage: ctx.Err().Error(), RetryCount: attempt}, ctx.Err()
	}
}

func (p *Proxy) maybeRetry(ctx context.Context, method string, payload []byte, timeout time.Duration, attempt int, cause error) (*Result, bool, error) {
	if !p.retry.Enabled || attempt+1 >= p.retry.MaxAttempts {
		return nil, false, nil
	}
	p.Stats.recordRetry()
	delay := p.retry.delayForAttempt(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return &Result{Success: false, ErrorMessage: ctx.Err().Error(), RetryCount: attempt}, true, ctx.Err()
	}
	res, err := p.callWithRetry(ctx, method, payload, timeout, attempt+1)
	return res, true, err
}

func (p *Proxy) deliver(resp *message.Message, attempt int, start time.Time) (*Result, error) {
	if resp.Header.Type == message.TypeError {
		r := &Result{Success: false, RetryCount: attempt}
		if resp.Error != nil {
			r.ErrorCode = resp.Error.ErrorCode
			r.ErrorMessage = resp.Error.ErrorMessage
		}
		p.Stats.recordFailure()
		return r, rpcerr.Unwrap(&rpcerr.Serializable{
			Code:    r.ErrorCode,
			Message: r.ErrorMessage,
		})
	}
	p.Stats.recordSuccess(time.Since(start).Microseconds())
	return &Result{Success: true, Data: resp.Payload, RetryCount: attempt}, nil
}

// CallOneWay sends a REQUEST with the ONEWAY semantic and returns only
// whether the send itself succeeded; no pending-call record is created
// and no RESPONSE is ever awaited.
func (p *Proxy) CallOneWay(ctx context.Context, method string, payload []byte) (bool, error) {
	if !p.isConnected() {
		return false, ErrNotConnected
	}
	req := message.NewRequest(p.serviceName, method, payload, true)
	if err := p.tr.Send(ctx, "", req); err != nil {
		return false, err
	}
	return true, nil
}

// CallAsync performs Call on a background goroutine and invokes cb with
// the result once it completes.
func (p *Proxy) CallAsync(ctx context.Context, method string, payload []byte, timeout time.Duration, cb func(*Result, error)) {
	go func() {
		res, err := p.Call(ctx, method, payload, timeout)
		cb(res, err)
	}()
}

// receiveLoop is the "one per connected proxy" receive thread of
// spec.md §4.F: it loops on transport.Receive, extracts correlation_id
// from RESPONSE/ERROR messages, and fulfils the matching pending call.
func (p *Proxy) receiveLoop() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		rctx, cancel := context.WithTimeout(ctx, receiveLoopInterval)
		m, err := p.tr.Receive(rctx)
		cancel()
		if err != nil {
			continue
		}
		if m.Header.Type != message.TypeResponse && m.Header.Type != message.TypeError {
			continue
		}
		key := pendingKey(m.Header.CorrelationID)
		call, ok := p.pending.Get(key)
		if !ok {
			logging.Component("proxy").Warn().
				Str("correlation_id", m.Header.CorrelationID.String()).
				Msg("proxy: response with no matching pending call, dropping")
			continue
		}
		call.fulfill(m)
	}
}

// timeoutLoop scans the pending map every 100ms and fails out any call
// whose deadline has elapsed, per spec.md §4.F.
func (p *Proxy) timeoutLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(timeoutScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			var expired []string
			p.pending.ForEach(func(key string, call *pendingCall) bool {
				if now.Sub(call.startTime) >= call.timeout {
					expired = append(expired, key)
				}
				return true
			})
			for _, key := range expired {
				if call, ok := p.pending.GetAndDel(key); ok {
					call.fulfill(message.NewErrorResponse(&message.Message{Header: message.Header{MessageID: call.callID}}, 3, fmt.Sprintf("%s: method %q", ErrTimeout, call.method), "timeout", ""))
				}
			}
		}
	}
}

// Disconnect stops both background threads, completes every pending call
// with an ERROR carrying ErrDisconnected's message, and tears down the
// transport.
func (p *Proxy) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.pending.ForEach(func(key string, call *pendingCall) bool {
		call.fulfill(message.NewErrorResponse(&message.Message{Header: message.Header{MessageID: call.callID}}, 0, ErrDisconnected.Error(), "disconnected", ""))
		p.pending.Del(key)
		return true
	})

	return p.tr.Disconnect(ctx)
}
