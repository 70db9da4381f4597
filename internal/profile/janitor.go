// Package profile implements the Profile Janitor (spec §4.6): periodic,
// best-effort pruning of stale Chrome profile directories.
package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"chromeworker/pkg/logger"
)

// namePrefix is the profile directory naming scheme used by the dispatcher
// for port-keyed profile reuse (spec §4.5 step 6): "p{port}".
const namePrefix = "p"

// LiveDirs is queried at prune time to avoid ever deleting a directory
// referenced by a live session (spec §4.6).
type LiveDirs interface {
	LiveProfileDirs() map[string]struct{}
}

// Janitor periodically scans Root for subdirectories matching the worker's
// naming pattern whose mtime exceeds MaxAge, and deletes them.
type Janitor struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	live     LiveDirs
	log      *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Janitor. Call Start to begin the ticking scan.
func New(root string, maxAge, interval time.Duration, live LiveDirs, log *logger.Logger) *Janitor {
	return &Janitor{
		root:     root,
		maxAge:   maxAge,
		interval: interval,
		live:     live,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the ticking scan goroutine.
func (j *Janitor) Start() {
	go j.loop()
}

// Stop signals the loop to exit and waits for it.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) loop() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweepOnce()
		case <-j.stopCh:
			return
		}
	}
}

// sweepOnce scans Root once, deleting stale, non-live profile directories.
// Locked directories are skipped silently and retried next interval.
func (j *Janitor) sweepOnce() {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn("profile janitor: reading root failed", zap.String("root", j.root), zap.Error(err))
		}
		return
	}

	live := j.live.LiveProfileDirs()
	now := time.Now()
	deleted := 0

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), namePrefix) {
			continue
		}
		full := filepath.Join(j.root, e.Name())
		if _, ok := live[full]; ok {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= j.maxAge {
			continue
		}

		if err := os.RemoveAll(full); err != nil {
			// Best-effort: a directory locked by a lingering file
			// handle is skipped silently and retried next interval.
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.log.Info("profile janitor: pruned stale profiles", zap.Int("count", deleted))
	}
}

// NewDirName builds the port-keyed profile directory name used when
// profile reuse is enabled (spec §4.5 step 6, §9 Open Question #4).
func NewDirName(port int) string {
	return namePrefix + strconv.Itoa(port)
}
