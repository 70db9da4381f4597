// Package chrome implements the Chrome Supervisor (spec §4.3): launch,
// readiness probe, health check, and termination for one browser process.
// The Supervisor is stateless between calls; all state lives in the
// session.BrowserSession record it receives and returns.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"chromeworker/internal/portregistry"
	"chromeworker/internal/session"
	"chromeworker/pkg/logger"
)

var (
	ErrLaunchTimeout  = errors.New("chrome: readiness probe timed out")
	ErrBinaryNotFound = errors.New("chrome: no Chrome/Chromium binary found on search path")
	ErrLauncherFailed = errors.New("chrome: custom launcher exited non-zero")
)

// Config configures launch strategy and cleanup helper commands
// (spec §4.1, §4.3.1, §6).
type Config struct {
	UseCustomLauncher bool
	LauncherCmd       string
	CleanupPortCmd    string
	CleanupSessionCmd string
	DevToolsWait      time.Duration
	HardTTL           time.Duration
}

// Supervisor launches, probes, and terminates Chrome processes.
type Supervisor struct {
	cfg   Config
	ports *portregistry.Registry
	log   *logger.Logger
}

// New creates a Supervisor.
func New(cfg Config, ports *portregistry.Registry, log *logger.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, ports: ports, log: log}
}

// launched is the internal handle held only during Launch; it never
// outlives the call (the Supervisor is stateless between calls).
type launched struct {
	cmd *exec.Cmd // nil in custom-launcher mode
	pid int
}

// Launch starts a Chrome process bound to port using profileDir, probes it
// for DevTools readiness, and returns a fully populated BrowserSession in
// state Launching (the caller transitions it to Active after
// PortRegistry.Activate succeeds, per spec §4.5 step 7).
func (s *Supervisor) Launch(ctx context.Context, workerID string, port int, req *session.Request, profileDir string, profileReused bool) (*session.BrowserSession, error) {
	start := time.Now()
	ctx = s.log.WithPort(ctx, port)
	ctx = s.log.WithWorkerID(ctx, workerID)

	allowed, dropped := filterArgs(req.ChromeArgs)
	if len(dropped) > 0 {
		s.log.WarnContext(ctx, "dropped denylisted chrome_args", zap.Strings("dropped", dropped))
	}
	args := append(baseArgs(port, profileDir), proxyArgs(req.ProxyConfig)...)
	args = append(args, allowed...)

	l, err := s.spawn(ctx, port, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchTimeout, err)
	}

	createTime, err := processCreateTime(l.pid)
	if err != nil {
		s.killBestEffort(l.pid)
		return nil, fmt.Errorf("chrome: capturing process create time: %w", err)
	}

	wait := s.cfg.DevToolsWait
	if wait <= 0 {
		wait = 90 * time.Second
	}
	v, err := waitForReady(ctx, port, wait)
	if err != nil {
		s.killBestEffort(l.pid)
		return nil, ErrLaunchTimeout
	}

	// Secondary tab-readiness confirmation: open and immediately discard a
	// remote-allocator context, matching the corpus's "open a tab to
	// verify browser is ready" double-check. Bounded short so it never
	// materially extends the probe deadline.
	s.confirmTabReady(ctx, port)

	now := time.Now()
	hardTTL := s.cfg.HardTTL
	if hardTTL <= 0 {
		hardTTL = 2 * time.Hour
	}
	ttl := time.Duration(req.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if ttl > hardTTL {
		// §3: ttl_minutes is clamped to hard_ttl so expires_at can never
		// exceed hard_expires_at (invariant 4).
		ttl = hardTTL
	}

	sess := &session.BrowserSession{
		WorkerID:          workerID,
		SessionID:         req.SessionID,
		DebugPort:         port,
		ProcessID:         l.pid,
		ProcessCreateTime: createTime,
		ProfilePath:       profileDir,
		ProfileIsReused:   profileReused,
		WebSocketURL:      v.WebSocketDebuggerURL,
		DebugURL:          devtoolsURL(port, "/"),
		CreatedAt:         now,
		LastActiveAt:      now,
		ExpiresAt:         now.Add(ttl),
		HardExpiresAt:     now.Add(hardTTL),
		State:             session.Launching,
	}
	if sess.SessionID == "" {
		sess.SessionID = fmt.Sprintf("s-%d-%d", port, now.UnixNano())
	}
	ctx = s.log.WithSessionID(ctx, sess.SessionID)

	s.log.InfoContext(ctx, "chrome launched",
		zap.Int("pid", l.pid), zap.Duration("launch_duration", time.Since(start)))

	return sess, nil
}

// confirmTabReady is a best-effort secondary readiness check; failures are
// ignored because /json/version already succeeded.
func (s *Supervisor) confirmTabReady(ctx context.Context, port int) {
	confirmCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(confirmCtx, devtoolsURL(port, ""))
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	_ = chromedp.Run(browserCtx, chromedp.ActionFunc(func(context.Context) error { return nil }))
}

// spawn dispatches to custom-launcher or direct-mode launch (spec §4.3.1 step 2).
func (s *Supervisor) spawn(ctx context.Context, port int, args []string) (*launched, error) {
	if s.cfg.UseCustomLauncher {
		return s.spawnCustom(ctx, port)
	}
	return s.spawnDirect(ctx, args)
}

func (s *Supervisor) spawnDirect(ctx context.Context, args []string) (*launched, error) {
	binary := findChromeBinary()
	if binary == "" {
		return nil, ErrBinaryNotFound
	}

	cmd := exec.Command(binary, args...)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("chrome: spawning %s: %w", binary, err)
	}
	return &launched{cmd: cmd, pid: cmd.Process.Pid}, nil
}

// spawnCustom invokes the configured launcher command with port and a
// listen IP; it is expected to start Chrome, configure host-level port
// forwarding and firewall rules, and print the Chrome PID on stdout. On
// empty output the supervisor falls back to an 8s scan for the process
// listening on the port (spec §4.3.1 step 2, §6).
func (s *Supervisor) spawnCustom(ctx context.Context, port int) (*launched, error) {
	cmd := exec.CommandContext(ctx, s.cfg.LauncherCmd, fmt.Sprintf("%d", port), "0.0.0.0")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLauncherFailed, err)
	}

	pidStr := strings.TrimSpace(string(out))
	if pidStr != "" {
		var pid int
		if _, scanErr := fmt.Sscanf(pidStr, "%d", &pid); scanErr == nil && pid > 0 {
			return &launched{pid: pid}, nil
		}
	}

	scanCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	for {
		pid, err := findPIDListeningOnPort(port)
		if err == nil {
			return &launched{pid: pid}, nil
		}
		select {
		case <-scanCtx.Done():
			return nil, fmt.Errorf("chrome: launcher printed no PID and port scan timed out: %w", err)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *Supervisor) killBestEffort(pid int) {
	if err := killTree(pid); err != nil {
		s.log.Warn("best-effort kill of failed launch failed", zap.Int("pid", pid), zap.Error(err))
	}
}

// HealthCheck implements session.Supervisor: verify liveness and PID
// identity, then classify via /json/list (spec §4.3.2).
func (s *Supervisor) HealthCheck(ctx context.Context, sess *session.BrowserSession) (session.HealthStatus, error) {
	if !isProcessAlive(sess.ProcessID) {
		return session.HealthCrashed, nil
	}

	createTime, err := processCreateTime(sess.ProcessID)
	if err != nil || !createTime.Equal(sess.ProcessCreateTime) {
		// The PID has been reused by an unrelated process; from this
		// worker's perspective the original Chrome is gone.
		return session.HealthCrashed, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pages, err := fetchPageList(probeCtx, sess.DebugPort)
	if err != nil {
		if isProcessAlive(sess.ProcessID) {
			return session.HealthUnhealthyTransient, nil
		}
		return session.HealthCrashed, nil
	}

	for _, p := range pages {
		if p.URL != "" && p.URL != "about:blank" {
			return session.HealthActive, nil
		}
		if p.WebSocketDebuggerURL != "" {
			// A client has an open DevTools WebSocket to this page even
			// though it hasn't navigated away from blank yet (spec
			// §4.3.2: active also covers "any page with an active
			// WebSocket").
			return session.HealthActive, nil
		}
	}
	return session.HealthIdle, nil
}

// Terminate implements session.Supervisor: kill the process tree (after
// re-verifying PID identity), run the cleanup helper, and release the port
// (spec §4.3.3). The profile directory itself is not deleted here; that is
// delegated to the Profile Janitor.
func (s *Supervisor) Terminate(ctx context.Context, sess *session.BrowserSession, reason session.TerminationReason) error {
	ctx = s.log.WithSessionID(ctx, sess.SessionID)
	ctx = s.log.WithPort(ctx, sess.DebugPort)
	ctx = s.log.WithWorkerID(ctx, sess.WorkerID)

	var firstErr error

	createTime, err := processCreateTime(sess.ProcessID)
	sameProcess := err == nil && createTime.Equal(sess.ProcessCreateTime)

	if sameProcess && isProcessAlive(sess.ProcessID) {
		if err := killTree(sess.ProcessID); err != nil {
			firstErr = fmt.Errorf("chrome: kill tree pid %d: %w", sess.ProcessID, err)
			s.log.WarnContext(ctx, "kill tree failed", zap.Int("pid", sess.ProcessID), zap.Error(err), zap.String("reason", string(reason)))
		}
	}

	if s.cfg.CleanupSessionCmd != "" {
		cmd := exec.CommandContext(ctx, s.cfg.CleanupSessionCmd,
			fmt.Sprintf("%d", sess.ProcessID), fmt.Sprintf("%d", sess.DebugPort), sess.ProfilePath)
		if err := cmd.Run(); err != nil {
			s.log.WarnContext(ctx, "session cleanup helper failed", zap.Error(err))
		}
	}

	if s.cfg.CleanupPortCmd != "" {
		cmd := exec.CommandContext(ctx, s.cfg.CleanupPortCmd, fmt.Sprintf("%d", sess.DebugPort))
		if err := cmd.Run(); err != nil {
			s.log.WarnContext(ctx, "port cleanup helper failed", zap.Error(err))
		}
	}

	if err := s.ports.Release(sess.DebugPort, sess.WorkerID); err != nil {
		s.log.WarnContext(ctx, "port release failed", zap.Error(err))
	}

	return firstErr
}
