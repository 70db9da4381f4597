package dispatch

import (
	"testing"
	"time"
)

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	b := newCircuitBreaker(3, 50*time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected closed breaker to allow")
	}
	if tripped := b.RecordFailure(); tripped {
		t.Fatal("should not trip on failure 1")
	}
	if tripped := b.RecordFailure(); tripped {
		t.Fatal("should not trip on failure 2")
	}
	if tripped := b.RecordFailure(); !tripped {
		t.Fatal("expected trip on failure 3")
	}
	if b.Allow() {
		t.Fatal("expected open breaker to deny immediately after tripping")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := newCircuitBreaker(1, 20*time.Millisecond)
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected open breaker to deny before cooldown elapses")
	}
	time.Sleep(30 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected breaker to half-open after cooldown")
	}
}

func TestCircuitBreakerSuccessClearsFailures(t *testing.T) {
	b := newCircuitBreaker(3, time.Second)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if tripped := b.RecordFailure(); tripped {
		t.Fatal("failure count should have reset after RecordSuccess")
	}
}
