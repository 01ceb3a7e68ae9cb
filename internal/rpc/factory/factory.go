// Package factory implements the process-scoped proxy factory of
// spec.md §4.F: a cache of proxy.Proxy instances keyed by
// "service_name:endpoint", with background health-checking and idle
// eviction. Grounded on the teacher's internal/arpc session_manager.go
// keyed-cache shape and connection_states.go's reconnect state machine.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cdmf/ipc/internal/logging"
	"github.com/cdmf/ipc/internal/rpc/proxy"
	"github.com/cdmf/ipc/internal/transport"
	"github.com/cdmf/ipc/internal/utils/safemap"
)

// TransportBuilder constructs a fresh, not-yet-initialized Transport for
// a given service/endpoint pair. The factory is transport-agnostic: the
// caller supplies a builder bound to whichever concrete transport
// (unixsocket, shmtransport, rpcstream) the service uses.
type TransportBuilder func(serviceName, endpoint string) (transport.Transport, error)

type entry struct {
	proxy       *proxy.Proxy
	serviceName string
	endpoint    string
	createdAt   time.Time
	lastUsed    atomicTime
}

// atomicTime is a tiny mutex-guarded time.Time; sync/atomic has no
// native Time support and this is touched far less often than the
// call-hot paths that justify the haxmap/csmap choices elsewhere.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// Factory caches one Proxy per (service_name, endpoint) pair for the
// lifetime of the process, per spec.md §4.F.
type Factory struct {
	builder TransportBuilder
	cfg     Config

	cache *safemap.Map[string, *entry]

	Stats Stats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Factory that builds transports via builder and applies
// cfg to every proxy it creates.
func New(builder TransportBuilder, cfg Config) *Factory {
	f := &Factory{
		builder: builder,
		cfg:     cfg,
		cache:   safemap.New[string, *entry](),
		stopCh:  make(chan struct{}),
	}
	f.wg.Add(2)
	go f.healthCheckLoop()
	go f.cleanupLoop()
	return f
}

func cacheKey(serviceName, endpoint string) string {
	return fmt.Sprintf("%s:%s", serviceName, endpoint)
}

// Get returns the cached Proxy for (serviceName, endpoint), connecting a
// fresh one via the configured TransportBuilder on a cache miss.
func (f *Factory) Get(ctx context.Context, serviceName, endpoint string) (*proxy.Proxy, error) {
	key := cacheKey(serviceName, endpoint)

	if e, ok := f.cache.Get(key); ok {
		f.Stats.cacheHits.Add(1)
		e.lastUsed.set(time.Now())
		return e.proxy, nil
	}

	f.Stats.cacheMisses.Add(1)

	tr, err := f.builder(serviceName, endpoint)
	if err != nil {
		return nil, fmt.Errorf("factory: build transport for %s: %w", key, err)
	}
	if err := tr.Init(ctx); err != nil {
		return nil, fmt.Errorf("factory: init transport for %s: %w", key, err)
	}

	p := proxy.New(serviceName, tr, f.cfg.Retry, f.cfg.Breaker)
	connectCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()
	if err := p.Connect(connectCtx, endpoint); err != nil {
		return nil, fmt.Errorf("factory: connect to %s: %w", key, err)
	}

	e := &entry{proxy: p, serviceName: serviceName, endpoint: endpoint, createdAt: time.Now()}
	e.lastUsed.set(time.Now())

	f.makeRoom(ctx, key)

	if existing, loaded := f.cache.GetOrSet(key, e); loaded {
		// Lost the race against a concurrent Get for the same key; drop
		// the proxy we just built and reuse the winner's.
		_ = p.Disconnect(ctx)
		f.Stats.cacheHits.Add(1)
		existing.lastUsed.set(time.Now())
		return existing.proxy, nil
	}

	f.Stats.created.Add(1)
	return p, nil
}

// makeRoom enforces Config.MaxCachedProxies ahead of inserting newKey,
// per spec.md §4.H: "When the cache reaches max_cached_proxies, evict
// expired entries first ...; if still full, evict the LRU entry."
// Expired here means idle past Config.IdleTimeout; LRU is the entry with
// the oldest lastUsed timestamp.
func (f *Factory) makeRoom(ctx context.Context, newKey string) {
	if f.cfg.MaxCachedProxies <= 0 || f.cache.Len() < f.cfg.MaxCachedProxies {
		return
	}

	now := time.Now()
	var expired []string
	f.cache.ForEach(func(key string, e *entry) bool {
		if key != newKey && now.Sub(e.lastUsed.get()) > f.cfg.IdleTimeout {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		if e, ok := f.cache.GetAndDel(key); ok {
			f.Stats.evicted.Add(1)
			_ = e.proxy.Disconnect(ctx)
		}
	}
	if f.cache.Len() < f.cfg.MaxCachedProxies {
		return
	}

	var lruKey string
	var lruSeen time.Time
	f.cache.ForEach(func(key string, e *entry) bool {
		if key == newKey {
			return true
		}
		seen := e.lastUsed.get()
		if lruKey == "" || seen.Before(lruSeen) {
			lruKey, lruSeen = key, seen
		}
		return true
	})
	if lruKey == "" {
		return
	}
	if e, ok := f.cache.GetAndDel(lruKey); ok {
		f.Stats.evicted.Add(1)
		_ = e.proxy.Disconnect(ctx)
	}
}

// healthCheckLoop periodically checks every cached proxy's transport
// state and drives a reconnect with exponential backoff for any found
// disconnected, mirroring connection_states.go's reconnect handling.
func (f *Factory) healthCheckLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.cache.ForEach(func(key string, e *entry) bool {
				st := e.proxy.State()
				if st != transport.StateConnected {
					f.Stats.healthCheckFailures.Add(1)
					f.reconnect(e)
				}
				return true
			})
		}
	}
}

func (f *Factory) reconnect(e *entry) {
	delay := f.cfg.ReconnectInitialDelay
	ctx := context.Background()
	maxAttempts := f.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-f.stopCh:
			return
		default:
		}
		f.Stats.reconnectAttempts.Add(1)
		connectCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
		err := e.proxy.Connect(connectCtx, e.endpoint)
		cancel()
		if err == nil {
			f.Stats.reconnectSuccesses.Add(1)
			return
		}
		logging.Component("factory").Warn().Err(err).
			Str("service", e.serviceName).Str("endpoint", e.endpoint).
			Int("attempt", attempt).Msg("factory: reconnect attempt failed")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-f.stopCh:
			timer.Stop()
			return
		}
		delay = min(delay*2, f.cfg.ReconnectMaxDelay)
	}
}

// cleanupLoop evicts and disconnects proxies idle past Config.IdleTimeout.
func (f *Factory) cleanupLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			var stale []string
			f.cache.ForEach(func(key string, e *entry) bool {
				if now.Sub(e.lastUsed.get()) > f.cfg.IdleTimeout {
					stale = append(stale, key)
				}
				return true
			})
			for _, key := range stale {
				if e, ok := f.cache.GetAndDel(key); ok {
					f.Stats.evicted.Add(1)
					_ = e.proxy.Disconnect(context.Background())
				}
			}
		}
	}
}

// Shutdown stops the background threads and disconnects every cached
// proxy.
func (f *Factory) Shutdown(ctx context.Context) error {
	close(f.stopCh)
	f.wg.Wait()

	var firstErr error
	f.cache.ForEach(func(key string, e *entry) bool {
		if err := e.proxy.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	f.cache.Clear()
	return firstErr
}

// CachedCount reports the number of proxies currently cached.
func (f *Factory) CachedCount() int {
	return f.cache.Len()
}
