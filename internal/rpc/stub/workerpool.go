package stub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// job is one dispatched request; adapted from the teacher's WorkItem
// (internal/arpc/worker_pool.go), which pooled a *smux.Stream/*Router
// pair. This pool instead pools a plain closure since dispatch here
// hands off a decoded message.Message rather than a raw stream.
type job struct {
	run func()
}

var jobPool = sync.Pool{New: func() any { return &job{} }}

// dispatchPool is the bounded worker pool backing Stub.onMessage,
// generalizing the teacher's WorkerPool with the same progressive
// backpressure schedule (Submit's timeout shrinks as the queue fills).
type dispatchPool struct {
	workers int
	queue   chan *job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	queueDepth atomic.Int64
}

func newDispatchPool(ctx context.Context, cfg Config) *dispatchPool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 8
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &dispatchPool{
		workers: workers,
		queue:   make(chan *job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// submit enqueues fn with the same queue-utilization-scaled timeout the
// teacher's Submit uses; returns false if the pool is shutting down or
// the queue stayed full past the timeout (caller treats this as
// MAX_REQUESTS_EXCEEDED).
func (p *dispatchPool) submit(fn func()) bool {
	j := jobPool.Get().(*job)
	j.run = fn

	depth := p.queueDepth.Add(1)
	capacity := cap(p.queue)
	utilization := float64(depth) / float64(capacity)

	var timeout time.Duration
	switch {
	case utilization > 0.9:
		timeout = 100 * time.Millisecond
	case utilization > 0.7:
		timeout = 500 * time.Millisecond
	case utilization > 0.5:
		timeout = time.Second
	default:
		timeout = 5 * time.Second
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		p.queueDepth.Add(-1)
		return false
	case p.queue <- j:
		return true
	case <-timer.C:
		p.queueDepth.Add(-1)
		return false
	}
}

func (p *dispatchPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			p.queueDepth.Add(-1)
			j.run()
			j.run = nil
			jobPool.Put(j)
		}
	}
}

func (p *dispatchPool) shutdown() {
	p.cancel()
	p.wg.Wait()
}
