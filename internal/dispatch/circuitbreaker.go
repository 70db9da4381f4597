package dispatch

import (
	"sync"
	"time"
)

// circuitBreaker implements the queue client's auto-recovery rule (spec §5
// "Connection resilience"): after a run of consecutive failures the
// underlying connection is treated as broken and reset, then given a cool-
// down before the next attempt is allowed through.
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openSince time.Time
	open      bool
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a fetch attempt should proceed, half-opening the
// breaker once the cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if time.Since(b.openSince) > b.cooldown {
		// Half-open: one more failure re-trips, a success fully closes.
		b.open = false
		b.failures = b.threshold - 1
		return true
	}
	return false
}

// RecordSuccess clears the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure counts a failure, tripping the breaker at threshold
// consecutive failures and marking the connection for reset.
func (b *circuitBreaker) RecordFailure() (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openSince = time.Now()
		tripped = true
	}
	return tripped
}
