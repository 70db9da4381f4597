// Command worker runs one browser-session worker process: it polls a queue
// for session requests, launches and supervises Chrome processes against a
// bounded debug-port range, and reports results through an optional
// callback channel.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chromeworker/internal/callback"
	"chromeworker/internal/chrome"
	"chromeworker/internal/config"
	"chromeworker/internal/dispatch"
	"chromeworker/internal/hostinfo"
	"chromeworker/internal/portregistry"
	"chromeworker/internal/profile"
	"chromeworker/internal/queue"
	"chromeworker/internal/session"
	"chromeworker/internal/status"
	"chromeworker/pkg/banner"
	"chromeworker/pkg/logger"
	"chromeworker/pkg/metrics"

	"go.uber.org/zap"
)

// shutdownDeadline bounds how long graceful shutdown waits for the
// dispatcher and the shutdown sweep (spec §5 cancellation). Once it passes
// the process exits; Chrome processes the sweep has not yet terminated are
// not killed.
const shutdownDeadline = 60 * time.Second

// Exit codes per spec §6/§7: 0 clean, 1 fatal_config, 2 unrecoverable
// runtime failure.
const (
	exitClean        = 0
	exitFatalConfig  = 1
	exitRuntimeFault = 2
)

func main() {
	banner.Print()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: configuration error: %v\n", err)
		os.Exit(exitFatalConfig)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: cfg.LogPath,
		Async:  true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: logger init failed: %v\n", err)
		os.Exit(exitFatalConfig)
	}
	defer log.Sync()

	workerID := generateWorkerID()
	log.Info("starting",
		zap.String("worker_id", workerID),
		zap.Int("port_start", cfg.PortStart),
		zap.Int("port_end", cfg.PortEnd),
		zap.Int("max_sessions", cfg.MaxSessions),
		zap.String("queue_request_url", cfg.QueueRequestURL))

	session.SetIdleTimeout(cfg.IdleTimeout)

	ports := portregistry.New(cfg.PortStart, cfg.PortEnd)
	m := metrics.New()

	sup := chrome.New(chrome.Config{
		UseCustomLauncher: cfg.UseCustomLauncher,
		LauncherCmd:       cfg.LauncherCmd,
		CleanupPortCmd:    cfg.CleanupPortCmd,
		CleanupSessionCmd: cfg.CleanupSessionCmd,
		DevToolsWait:      cfg.DevToolsWait,
		HardTTL:           cfg.HardTTL,
	}, ports, log)

	sessions := session.New(sup, ports, log)
	sessions.Start()

	cb := callback.New(cfg.CallbackURL, cfg.CallbackTimeout)

	var q queue.Queue
	if cfg.IsLocalMode() {
		if err := os.MkdirAll(cfg.QueueWorkDir, 0o755); err != nil {
			log.Error("creating local queue work dir failed", zap.Error(err))
			os.Exit(exitFatalConfig)
		}
		local := queue.NewLocal(cfg.QueueWorkDir, log)
		defer local.Close()
		q = local
	} else {
		q = queue.NewRemote(cfg.QueueRequestURL, cfg.QueueResponseURL)
	}

	d := dispatch.New(workerID, cfg, q, ports, sessions, sup, cb, m, log)
	d.Start()

	janitor := profile.New(cfg.ProfileRoot, cfg.ProfileMaxAge, cfg.ProfileCleanupInterval, d, log)
	janitor.Start()

	hub := status.NewHub()
	statusTask := status.New(workerID, cfg.StatusLogInterval, sessions, ports, m, log, hub)
	statusTask.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/metrics.json", m.JSONHandler())
	mux.HandleFunc("/status", statusTask.StatusHandler())
	mux.HandleFunc("/status/ws", hub.ServeWS)
	httpSrv := &http.Server{Addr: ":9400", Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("observability http server exited", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitClean
	select {
	case <-sigCh:
		log.Info("shutdown signal received, draining")
	case <-d.Done():
		log.Error("dispatch loop exited unexpectedly, shutting down", zap.Error(d.Err()))
		exitCode = exitRuntimeFault
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	d.Stop(shutdownCtx)
	sessions.Stop(shutdownCtx)
	janitor.Stop()
	statusTask.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	_ = httpSrv.Shutdown(httpShutdownCtx)

	log.Info("shutdown complete", zap.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

func generateWorkerID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		host := hostinfo.OutboundIP()
		return fmt.Sprintf("w-%s-%d", host, time.Now().UnixNano())
	}
	return "w-" + hex.EncodeToString(b)
}
