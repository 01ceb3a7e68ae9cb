package factory

import (
	"time"

	"github.com/cdmf/ipc/internal/rpc/proxy"
)

// Config parameterizes the Factory's cache lifecycle, generalizing the
// teacher's session_manager.go keyed-cache defaults and
// connection_states.go's reconnect backoff onto a process-scoped proxy
// pool.
type Config struct {
	IdleTimeout           time.Duration
	HealthCheckInterval   time.Duration
	CleanupInterval       time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	MaxReconnectAttempts  int
	ConnectTimeout        time.Duration
	// MaxCachedProxies bounds the cache per spec.md §4.H: once reached,
	// Get evicts idle-expired entries first, then the least-recently-used
	// entry, before inserting a newly built proxy. Zero means unbounded.
	MaxCachedProxies int
	Retry            proxy.RetryPolicy
	Breaker          proxy.CircuitBreakerConfig
}

// DefaultConfig matches the teacher's connection_states.go backoff
// defaults (100ms initial, 30s max) applied to the factory's background
// health-check and idle-eviction threads.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:           5 * time.Minute,
		HealthCheckInterval:   30 * time.Second,
		CleanupInterval:       time.Minute,
		ReconnectInitialDelay: 100 * time.Millisecond,
		ReconnectMaxDelay:     30 * time.Second,
		MaxReconnectAttempts:  10,
		ConnectTimeout:        5 * time.Second,
		MaxCachedProxies:      256,
		Retry:                 proxy.DefaultRetryPolicy(),
		Breaker:               proxy.DefaultCircuitBreakerConfig(),
	}
}
