package proxy

import "sync/atomic"

// Stats is an atomics-backed counter set snapshotted into Snapshot;
// generalizes the teacher's WorkerPoolMetrics (internal/arpc/
// worker_pool.go) to the proxy's call lifecycle per SPEC_FULL.md §6's
// per-call statistics supplement.
type Stats struct {
	total       atomic.Int64
	success     atomic.Int64
	failed      atomic.Int64
	timeouts    atomic.Int64
	retries     atomic.Int64
	active      atomic.Int64
	avgRespUs   atomic.Int64 // exponential moving average, microseconds
}

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	Total              int64
	Success            int64
	Failed             int64
	Timeouts           int64
	Retries            int64
	ActiveCalls        int64
	AvgResponseTimeUs  int64
}

func (s *Stats) recordStart() {
	s.total.Add(1)
	s.active.Add(1)
}

func (s *Stats) recordEnd() {
	s.active.Add(-1)
}

func (s *Stats) recordSuccess(elapsedUs int64) {
	s.success.Add(1)
	s.updateMovingAverage(elapsedUs)
}

func (s *Stats) recordFailure() {
	s.failed.Add(1)
}

func (s *Stats) recordTimeout() {
	s.timeouts.Add(1)
}

func (s *Stats) recordRetry() {
	s.retries.Add(1)
}

// updateMovingAverage applies a simple exponential moving average (alpha
// = 1/8) over response latency, the same smoothing factor shape used by
// TCP RTT estimators and by the teacher's own latency-sensitive caches.
func (s *Stats) updateMovingAverage(sampleUs int64) {
	for {
		cur := s.avgRespUs.Load()
		if cur == 0 {
			if s.avgRespUs.CompareAndSwap(0, sampleUs) {
				return
			}
			continue
		}
		next := cur + (sampleUs-cur)/8
		if s.avgRespUs.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Snapshot composes the atomic counters into a plain aggregate.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Total:             s.total.Load(),
		Success:           s.success.Load(),
		Failed:            s.failed.Load(),
		Timeouts:          s.timeouts.Load(),
		Retries:           s.retries.Load(),
		ActiveCalls:       s.active.Load(),
		AvgResponseTimeUs: s.avgRespUs.Load(),
	}
}
