package factory

import "sync/atomic"

// Stats aggregates factory-wide counters across every cached proxy,
// the "aggregated Stats (created/active/cached/...)" SPEC_FULL.md §7.G
// names for the Factory.
type Stats struct {
	created            atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	evicted            atomic.Int64
	healthCheckFailures atomic.Int64
	reconnectAttempts  atomic.Int64
	reconnectSuccesses atomic.Int64
}

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	Created             int64
	CacheHits           int64
	CacheMisses         int64
	Evicted             int64
	HealthCheckFailures int64
	ReconnectAttempts   int64
	ReconnectSuccesses  int64
	CachedCount         int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Created:             s.created.Load(),
		CacheHits:           s.cacheHits.Load(),
		CacheMisses:         s.cacheMisses.Load(),
		Evicted:             s.evicted.Load(),
		HealthCheckFailures: s.healthCheckFailures.Load(),
		ReconnectAttempts:   s.reconnectAttempts.Load(),
		ReconnectSuccesses:  s.reconnectSuccesses.Load(),
	}
}
