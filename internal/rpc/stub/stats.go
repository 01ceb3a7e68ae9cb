package stub

import "sync/atomic"

// Stats is the server-side counterpart of proxy.Stats, generalizing the
// teacher's WorkerPoolMetrics (internal/arpc/worker_pool.go) to the full
// error-code floor a Stub can produce.
type Stats struct {
	totalRequests   atomic.Int64
	successCount    atomic.Int64
	failureCount    atomic.Int64
	activeHandlers  atomic.Int64
	methodNotFound  atomic.Int64
	validationFail  atomic.Int64
	authFail        atomic.Int64
	handlerPanics   atomic.Int64
	handlerTimeouts atomic.Int64
	rejectedFull    atomic.Int64
}

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	TotalRequests         int64
	SuccessCount          int64
	FailureCount          int64
	ActiveHandlers        int64
	MethodNotFoundCount   int64
	ValidationFailedCount int64
	AuthFailedCount       int64
	HandlerPanicCount     int64
	HandlerTimeoutCount   int64
	RejectedFullCount     int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:         s.totalRequests.Load(),
		SuccessCount:          s.successCount.Load(),
		FailureCount:          s.failureCount.Load(),
		ActiveHandlers:        s.activeHandlers.Load(),
		MethodNotFoundCount:   s.methodNotFound.Load(),
		ValidationFailedCount: s.validationFail.Load(),
		AuthFailedCount:       s.authFail.Load(),
		HandlerPanicCount:     s.handlerPanics.Load(),
		HandlerTimeoutCount:   s.handlerTimeouts.Load(),
		RejectedFullCount:     s.rejectedFull.Load(),
	}
}
