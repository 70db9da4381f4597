package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"chromeworker/pkg/logger"
)

const (
	requestFile     = "test_request.json"
	statusQueryFile = "test_status_request.json"
)

// Local implements the filesystem queue backend selected by
// queue_request_url=="local" (spec §6). It watches workDir with fsnotify
// for the appearance of the request/status-query files rather than tight-
// loop polling, falling back to a coarse poll ticker if the watcher fails
// to initialize (fsnotify is occasionally unavailable in locked-down
// environments).
type Local struct {
	workDir string
	log     *logger.Logger
	watcher *fsnotify.Watcher
}

// NewLocal creates a Local queue rooted at workDir.
func NewLocal(workDir string, log *logger.Logger) *Local {
	l := &Local{workDir: workDir, log: log}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify unavailable, local queue will poll instead", zap.Error(err))
		return l
	}
	if err := w.Add(workDir); err != nil {
		log.Warn("fsnotify add failed, local queue will poll instead", zap.Error(err))
		w.Close()
		return l
	}
	l.watcher = w
	return l
}

// Fetch waits up to `wait` for either file to appear, then returns it as a
// single-element batch (the local backend has no concept of batching).
func (l *Local) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if msg, ok := l.tryRead(); ok {
		return []Message{msg}, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	if l.watcher != nil {
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline.C:
				return nil, nil
			case event, ok := <-l.watcher.Events:
				if !ok {
					return nil, nil
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if msg, ok := l.tryRead(); ok {
					return []Message{msg}, nil
				}
			case err, ok := <-l.watcher.Errors:
				if ok {
					l.log.Warn("fsnotify watcher error", zap.Error(err))
				}
			}
		}
	}

	// Poll fallback.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
			if msg, ok := l.tryRead(); ok {
				return []Message{msg}, nil
			}
		}
	}
}

func (l *Local) tryRead() (Message, bool) {
	if body, ok := l.readIfExists(requestFile); ok {
		return Message{Body: body, ReceiptHandle: requestFile, Kind: KindRequest}, true
	}
	if body, ok := l.readIfExists(statusQueryFile); ok {
		return Message{Body: body, ReceiptHandle: statusQueryFile, Kind: KindStatusQuery}, true
	}
	return Message{}, false
}

func (l *Local) readIfExists(name string) ([]byte, bool) {
	path := filepath.Join(l.workDir, name)
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return body, true
}

// Delete removes the backing file (receiptHandle is the filename).
func (l *Local) Delete(ctx context.Context, receiptHandle string) error {
	path := filepath.Join(l.workDir, receiptHandle)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("queue: deleting %s: %w", path, err)
	}
	return nil
}

// Extend is a no-op in local mode: there is only one consumer and no
// redelivery race to defend against.
func (l *Local) Extend(ctx context.Context, receiptHandle string, delta time.Duration) error {
	return nil
}

// Respond is a no-op in local mode; no response or status snapshot file is
// written.
func (l *Local) Respond(ctx context.Context, body []byte) error {
	return nil
}

// Close releases the fsnotify watcher, if any.
func (l *Local) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
