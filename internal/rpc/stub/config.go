package stub

import (
	"runtime"
	"time"
)

// Config parameterizes a Stub's dispatch pool and per-call enforcement,
// generalizing the teacher's WorkerPoolConfig (internal/arpc/
// worker_pool.go) with the handler-timeout and request-ceiling knobs
// spec.md §4.F names for the server side of the RPC overlay.
type Config struct {
	Workers               int
	QueueSize             int
	HandlerTimeout        time.Duration
	MaxConcurrentRequests int64 // 0 = unbounded
	ShutdownTimeout       time.Duration
}

// DefaultConfig mirrors the teacher's NewWorkerPool defaults (GOMAXPROCS
// workers, an 8x queue) plus spec.md §4.G's handler-timeout floor.
func DefaultConfig() Config {
	workers := runtime.GOMAXPROCS(0)
	return Config{
		Workers:               workers,
		QueueSize:             workers * 8,
		HandlerTimeout:        30 * time.Second,
		MaxConcurrentRequests: 0,
		ShutdownTimeout:       10 * time.Second,
	}
}
