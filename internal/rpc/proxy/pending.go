package proxy

import (
	"sync/atomic"
	"time"

	"github.com/cdmf/ipc/internal/message"
)

// pendingCall is the proxy-local record awaiting a RESPONSE/ERROR for a
// previously sent REQUEST, keyed by hex(message_id) per spec.md §3.
type pendingCall struct {
	callID     message.ID
	method     string
	startTime  time.Time
	timeout    time.Duration
	retryCount int

	resultCh  chan *message.Message
	fulfilled atomic.Bool // guards at-most-one-satisfaction
}

func newPendingCall(callID message.ID, method string, timeout time.Duration) *pendingCall {
	return &pendingCall{
		callID:    callID,
		method:    method,
		startTime: time.Now(),
		timeout:   timeout,
		resultCh:  make(chan *message.Message, 1),
	}
}

// fulfill delivers m to the waiting caller exactly once; subsequent calls
// (a late RESPONSE racing a timeout, or a duplicate) are no-ops, enforcing
// spec.md §8's "at-most-one-satisfaction of a pending call" property.
func (p *pendingCall) fulfill(m *message.Message) bool {
	if !p.fulfilled.CompareAndSwap(false, true) {
		return false
	}
	p.resultCh <- m
	return true
}

func pendingKey(id message.ID) string {
	return id.String()
}
