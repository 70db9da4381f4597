package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chromeworker/internal/portregistry"
	"chromeworker/pkg/logger"
)

// HealthStatus is the Chrome Supervisor's health-check classification
// (spec §4.3.2).
type HealthStatus string

const (
	HealthActive            HealthStatus = "active"
	HealthIdle               HealthStatus = "idle"
	HealthUnhealthyTransient HealthStatus = "unhealthy_transient"
	HealthCrashed            HealthStatus = "crashed"
	HealthClosed             HealthStatus = "closed"
)

// Supervisor is the narrow slice of the Chrome Supervisor that the sweep
// loop needs. Defined here (consumer side) so this package never imports
// the chrome package; internal/chrome implements this interface instead.
type Supervisor interface {
	HealthCheck(ctx context.Context, s *BrowserSession) (HealthStatus, error)
	Terminate(ctx context.Context, s *BrowserSession, reason TerminationReason) error
}

const (
	// SweepInterval is how often the health/TTL sweep runs (spec §4.4).
	SweepInterval = 20 * time.Second
	// SweepBudget bounds the total time one sweep tick may spend
	// terminating sessions; sessions beyond the budget are revisited on
	// the next tick.
	SweepBudget = 120 * time.Second
	// TerminationTimeout bounds a single session's termination.
	TerminationTimeout = 10 * time.Second
	// historyCapacity bounds the terminated-session diagnostic ring.
	historyCapacity = 256
)

// Manager owns sessions: session_id -> BrowserSession, and runs the
// periodic sweep that terminates expired, crashed, or idle sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*BrowserSession
	history  []TerminatedRecord

	supervisor Supervisor
	ports      *portregistry.Registry
	log        *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Manager. Call Start to begin the sweep loop.
func New(supervisor Supervisor, ports *portregistry.Registry, log *logger.Logger) *Manager {
	return &Manager{
		sessions:   make(map[string]*BrowserSession),
		supervisor: supervisor,
		ports:      ports,
		log:        log,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Insert records a newly launched session. It is an error to insert a
// session_id that already exists.
func (m *Manager) Insert(s *BrowserSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
}

// Lookup returns the session for an id, or nil if not found.
func (m *Manager) Lookup(sessionID string) *BrowserSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Remove deletes a session_id from the map without terminating it (the
// caller is responsible for having already terminated the Chrome process).
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// ListIDs returns a snapshot of all live session ids.
func (m *Manager) ListIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CountActive returns the number of sessions in state Active or Launching
// (used for admission accounting, spec §4.5 step 1 and invariant 3).
func (m *Manager) CountActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.State == Active || s.State == Launching {
			n++
		}
	}
	return n
}

// History returns a copy of the terminated-session diagnostic ring.
func (m *Manager) History() []TerminatedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TerminatedRecord, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) appendHistory(rec TerminatedRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
}

// Start launches the sweep-loop goroutine.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Stop signals the sweep loop to terminate every remaining session with
// reason shutdown, then waits for it to finish (spec §5 cancellation).
func (m *Manager) Stop(ctx context.Context) {
	close(m.stopCh)
	select {
	case <-m.doneCh:
	case <-ctx.Done():
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepOnce(context.Background(), false)
		case <-m.stopCh:
			shutdownCtx, cancel := context.WithTimeout(context.Background(), SweepBudget)
			m.sweepOnce(shutdownCtx, true)
			cancel()
			return
		}
	}
}

// sweepOnce performs one sweep pass. If shutdown is true every live
// session is terminated with reason shutdown regardless of its own state.
func (m *Manager) sweepOnce(ctx context.Context, shutdown bool) {
	ids := m.ListIDs()
	deadline := time.Now().Add(SweepBudget)
	now := time.Now()

	if reclaimed := m.ports.SweepStaleReservations(now); reclaimed > 0 {
		m.log.Warn("reclaimed stale port reservations", zap.Int("count", reclaimed))
	}

	for i, id := range ids {
		if time.Now().After(deadline) {
			m.log.Warn("sweep budget exceeded, remaining sessions deferred to next tick",
				zap.Int("remaining", len(ids)-i))
			break
		}

		s := m.Lookup(id)
		if s == nil || s.State == Terminating || s.State == Terminated {
			continue
		}

		reason, ok := m.decide(s, now, shutdown)
		if !ok {
			continue
		}

		m.terminateOne(ctx, s, reason)
	}
}

// decide computes the termination decision for one session in the priority
// order specified by spec §4.4 step 2.
func (m *Manager) decide(s *BrowserSession, now time.Time, shutdown bool) (TerminationReason, bool) {
	if shutdown {
		return ReasonShutdown, true
	}
	if now.After(s.HardExpiresAt) {
		return ReasonHardTTLExceeded, true
	}
	if now.After(s.ExpiresAt) {
		return ReasonExpired, true
	}

	status, err := m.supervisor.HealthCheck(context.Background(), s)
	if err != nil {
		// A health-check error is logged and the session is left for the
		// next sweep. Consecutive errors are not counted, so repeated
		// errors alone never terminate a session.
		m.log.Warn("health check error", zap.String("session_id", s.SessionID), zap.Error(err))
		return "", false
	}

	switch status {
	case HealthCrashed:
		return ReasonCrashed, true
	case HealthClosed:
		return ReasonClosed, true
	case HealthIdle:
		if !s.everActivated && now.Sub(s.CreatedAt) > neverUsedTimeout(s) {
			return ReasonNeverUsed, true
		}
		return "", false
	case HealthActive:
		s.everActivated = true
		s.LastActiveAt = now
		return "", false
	default:
		// unhealthy_transient: tolerated.
		return "", false
	}
}

// defaultIdleTimeout is the package-wide never-used window; SetIdleTimeout
// overrides it from Config at startup.
var defaultIdleTimeout = 60 * time.Second

func neverUsedTimeout(s *BrowserSession) time.Duration {
	return defaultIdleTimeout
}

// SetIdleTimeout configures the never-used idle window from Config.
func SetIdleTimeout(d time.Duration) {
	if d > 0 {
		defaultIdleTimeout = d
	}
}

func (m *Manager) terminateOne(ctx context.Context, s *BrowserSession, reason TerminationReason) {
	s.State = Terminating

	termCtx, cancel := context.WithTimeout(ctx, TerminationTimeout)
	defer cancel()

	if err := m.supervisor.Terminate(termCtx, s, reason); err != nil {
		m.log.Warn("termination reported an error; port released regardless",
			zap.String("session_id", s.SessionID), zap.Error(err))
	}

	s.State = Terminated
	m.appendHistory(TerminatedRecord{
		SessionID:    s.SessionID,
		Reason:       reason,
		TerminatedAt: time.Now(),
		ExitCode:     s.lastKnownExitCode,
		ExitKnown:    s.exitCodeKnown,
	})
	m.Remove(s.SessionID)
}
