package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"chromeworker/internal/portregistry"
	"chromeworker/pkg/logger"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	health  map[string]HealthStatus
	healthErr map[string]error
	terminated []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{health: make(map[string]HealthStatus), healthErr: make(map[string]error)}
}

func (f *fakeSupervisor) HealthCheck(ctx context.Context, s *BrowserSession) (HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.healthErr[s.SessionID]; ok {
		return "", err
	}
	if status, ok := f.health[s.SessionID]; ok {
		return status, nil
	}
	return HealthActive, nil
}

func (f *fakeSupervisor) Terminate(ctx context.Context, s *BrowserSession, reason TerminationReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, s.SessionID+":"+string(reason))
	return nil
}

func newTestManager(sup Supervisor) *Manager {
	ports := portregistry.New(30000, 30001)
	return New(sup, ports, logger.NewDefault())
}

func TestSweepTerminatesExpired(t *testing.T) {
	sup := newFakeSupervisor()
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(-time.Second), HardExpiresAt: now.Add(time.Hour)})

	m.sweepOnce(context.Background(), false)

	if m.Lookup("s1") != nil {
		t.Fatal("expected expired session removed")
	}
	if len(sup.terminated) != 1 || sup.terminated[0] != "s1:expired" {
		t.Fatalf("terminated = %v", sup.terminated)
	}
}

func TestSweepTerminatesHardTTLBeforeExpired(t *testing.T) {
	sup := newFakeSupervisor()
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(-time.Second), HardExpiresAt: now.Add(-time.Minute)})

	m.sweepOnce(context.Background(), false)

	if len(sup.terminated) != 1 || sup.terminated[0] != "s1:hard_ttl_exceeded" {
		t.Fatalf("terminated = %v, want hard_ttl_exceeded first", sup.terminated)
	}
}

func TestSweepTerminatesCrashed(t *testing.T) {
	sup := newFakeSupervisor()
	sup.health["s1"] = HealthCrashed
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})

	m.sweepOnce(context.Background(), false)

	if m.Lookup("s1") != nil {
		t.Fatal("expected crashed session removed")
	}
}

func TestSweepLeavesHealthyActiveSession(t *testing.T) {
	sup := newFakeSupervisor()
	sup.health["s1"] = HealthActive
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})

	m.sweepOnce(context.Background(), false)

	if m.Lookup("s1") == nil {
		t.Fatal("expected healthy active session to survive the sweep")
	}
	if len(sup.terminated) != 0 {
		t.Fatalf("expected no terminations, got %v", sup.terminated)
	}
}

func TestSweepShutdownTerminatesEverything(t *testing.T) {
	sup := newFakeSupervisor()
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})

	m.sweepOnce(context.Background(), true)

	if m.Lookup("s1") != nil {
		t.Fatal("expected session removed on shutdown sweep")
	}
	if len(sup.terminated) != 1 || sup.terminated[0] != "s1:shutdown" {
		t.Fatalf("terminated = %v", sup.terminated)
	}
}

func TestCountActiveCountsLaunchingAndActiveOnly(t *testing.T) {
	sup := newFakeSupervisor()
	m := newTestManager(sup)

	now := time.Now()
	m.Insert(&BrowserSession{SessionID: "s1", State: Active, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})
	m.Insert(&BrowserSession{SessionID: "s2", State: Launching, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})
	m.Insert(&BrowserSession{SessionID: "s3", State: Terminated, CreatedAt: now, ExpiresAt: now.Add(time.Hour), HardExpiresAt: now.Add(2 * time.Hour)})

	if n := m.CountActive(); n != 2 {
		t.Fatalf("CountActive = %d, want 2", n)
	}
}
