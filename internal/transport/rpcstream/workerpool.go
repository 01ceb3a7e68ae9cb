package rpcstream

import (
	"context"
	"sync"
)

// completionPool is the "pool of completion threads" spec.md §4.E asks
// for: a bounded set of goroutines draining queued work (here, one
// decoded-frame dispatch per submission), generalized from this module's
// arpc.WorkerPool down to a plain func() job instead of a
// smux.Stream+Router pair.
type completionPool struct {
	queue  chan func()
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newCompletionPool(ctx context.Context, workers, queueSize int) *completionPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 8
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &completionPool{
		queue:  make(chan func(), queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *completionPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			job()
		}
	}
}

// submit enqueues job, or returns false without running it if the pool is
// shutting down or the queue is saturated; the server logs such a
// rejected request and drops it, leaving the logical stream open.
func (p *completionPool) submit(job func()) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- job:
		return true
	default:
		return false
	}
}

func (p *completionPool) shutdown() {
	p.cancel()
	p.wg.Wait()
}
