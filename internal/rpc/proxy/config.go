package proxy

import "time"

// RetryPolicy parameterizes Proxy.Call's retry-on-failure/timeout
// behavior per spec.md §4.F.
type RetryPolicy struct {
	Enabled            bool
	MaxAttempts        int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	ExponentialBackoff bool
	BackoffMultiplier  float64
}

// DefaultRetryPolicy disables retries; callers opt in explicitly, matching
// the teacher's ReconnectConfig{AutoReconnect: false} zero value.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:            false,
		MaxAttempts:        3,
		InitialDelay:       50 * time.Millisecond,
		MaxDelay:           2 * time.Second,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
	}
}

// delayForAttempt implements spec.md §4.F's schedule: min(initial *
// multiplier^k, max) when exponential, else the fixed initial delay.
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	if !p.ExponentialBackoff {
		return p.InitialDelay
	}
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// CircuitBreakerConfig carries the supplemented reconnect circuit-breaker
// behavior named in SPEC_FULL.md §6 (grounded on the teacher's
// connection_states.go StateFailed/circuitOpen handling): after
// consecutive reconnect failures, the proxy stops redialing for
// ResetAfter before trying again.
type CircuitBreakerConfig struct {
	Enabled            bool
	FailureThreshold   int
	ResetAfter         time.Duration
}

// DefaultCircuitBreakerConfig matches the teacher's
// connection_states.go CircuitBreakTime default of 60s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		ResetAfter:       60 * time.Second,
	}
}
