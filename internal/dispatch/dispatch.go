// Package dispatch implements the Request Dispatcher (spec §4.5): the
// single long-lived loop that polls the queue, admits requests against the
// Port Registry, drives Chrome launches, and reports results back through
// the callback channel — generalized from the corpus's worker task-loop
// request/process/report shape.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chromeworker/internal/callback"
	"chromeworker/internal/chrome"
	"chromeworker/internal/config"
	"chromeworker/internal/hostinfo"
	"chromeworker/internal/portregistry"
	"chromeworker/internal/profile"
	"chromeworker/internal/queue"
	"chromeworker/internal/session"
	"chromeworker/pkg/logger"
	"chromeworker/pkg/metrics"
)

const (
	queueBatchMax        = 4
	longPollWait         = 20 * time.Second
	noSlotsSleep         = 300 * time.Millisecond
	circuitThreshold     = 3
	circuitCooldown      = 10 * time.Second
	noSlotsExtend        = 30 * time.Second
	launchFailedExtend   = 10 * time.Second
	unexpectedErrExtend  = 15 * time.Second
)

// resetter is implemented by queue backends that hold a pooled connection
// worth resetting after repeated failures (the local filesystem backend has
// none and need not implement it).
type resetter interface {
	Reset()
}

// Dispatcher is the Request Dispatcher (C5).
type Dispatcher struct {
	workerID string
	cfg      *config.Config

	q         queue.Queue
	ports     *portregistry.Registry
	sessions  *session.Manager
	chrome    *chrome.Supervisor
	callback  *callback.Client
	metrics   *metrics.Collector
	log       *logger.Logger
	breaker   *circuitBreaker

	pendingLaunches int32
	launches        *errgroup.Group

	fault  error
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Dispatcher. workerID identifies this process to the Port
// Registry and Session Manager as the reservation/session holder.
func New(workerID string, cfg *config.Config, q queue.Queue, ports *portregistry.Registry, sessions *session.Manager, sup *chrome.Supervisor, cb *callback.Client, m *metrics.Collector, log *logger.Logger) *Dispatcher {
	launches := &errgroup.Group{}
	launches.SetLimit(cfg.MaxSessions)
	return &Dispatcher{
		workerID: workerID,
		cfg:      cfg,
		q:        q,
		ports:    ports,
		sessions: sessions,
		chrome:   sup,
		callback: cb,
		metrics:  m,
		log:      log,
		breaker:  newCircuitBreaker(circuitThreshold, circuitCooldown),
		launches: launches,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the dispatch loop goroutine.
func (d *Dispatcher) Start() {
	go d.loop()
}

// Done returns a channel closed when the dispatch loop exits, whether from
// a normal Stop or an unrecoverable fault. The caller distinguishes the two
// by whether Stop was ever called.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

// Err returns the fault that caused the loop to exit on its own, or nil if
// the loop is still running or exited via a clean Stop.
func (d *Dispatcher) Err() error {
	return d.fault
}

// Stop signals the loop to stop fetching new work, waits for in-flight
// launches to finish (bounded by the caller's ctx), and returns.
func (d *Dispatcher) Stop(ctx context.Context) {
	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		_ = d.launches.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("dispatcher shutdown deadline exceeded with launches still in flight")
	}
	<-d.doneCh
}

func (d *Dispatcher) loop() {
	defer close(d.doneCh)
	defer func() {
		if r := recover(); r != nil {
			d.fault = fmt.Errorf("dispatch: loop panicked: %v", r)
			d.log.Error("dispatch loop panicked, worker process must restart", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}
		d.iterate()
	}
}

// iterate runs one pass of the per-iteration algorithm (spec §4.5).
func (d *Dispatcher) iterate() {
	available := d.cfg.MaxSessions - d.sessions.CountActive() - int(atomic.LoadInt32(&d.pendingLaunches))
	if available <= 0 {
		time.Sleep(noSlotsSleep)
		return
	}

	if !d.breaker.Allow() {
		time.Sleep(noSlotsSleep)
		return
	}

	batch := available
	if batch > queueBatchMax {
		batch = queueBatchMax
	}

	ctx, cancel := context.WithTimeout(context.Background(), longPollWait+5*time.Second)
	msgs, err := d.q.Fetch(ctx, batch, longPollWait)
	cancel()
	if err != nil {
		d.metrics.QueueFetchErrors.Inc()
		if tripped := d.breaker.RecordFailure(); tripped {
			d.log.Warn("queue client circuit breaker tripped, resetting connection", zap.Error(err))
			if r, ok := d.q.(resetter); ok {
				r.Reset()
			}
		}
		return
	}
	d.breaker.RecordSuccess()

	for _, msg := range msgs {
		select {
		case <-d.stopCh:
			return
		default:
		}
		if stop := d.handleMessage(msg); stop {
			// §4.5 step 5: a failed port reservation means the registry is
			// exhausted; stop processing this batch rather than spinning
			// through the rest of it against the same exhaustion.
			return
		}
	}
}

// handleMessage processes one message and reports whether the dispatcher
// should stop processing the rest of the current batch.
func (d *Dispatcher) handleMessage(msg queue.Message) (stopBatch bool) {
	if msg.Kind == queue.KindStatusQuery {
		// A local-mode status query triggers no snapshot here; the message
		// is only deleted so it isn't reprocessed. Worker status is
		// reported by the status task's periodic log line and its /status
		// HTTP handler.
		d.deleteMessage(msg)
		return false
	}

	req, err := parseRequest(msg.Body)
	if err != nil {
		d.log.Warn("poison message: failed to parse, deleting", zap.Error(err))
		d.deleteMessage(msg)
		return false
	}

	if req.IsDeleteAction() {
		d.handleDelete(msg, req)
		return false
	}

	return d.handleLaunch(msg, req)
}

func parseRequest(body []byte) (*session.Request, error) {
	req, err := session.ParseRequest(body)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// handleDelete implements spec §4.5 step 4.
func (d *Dispatcher) handleDelete(msg queue.Message, req *session.Request) {
	sess := d.sessions.Lookup(req.SessionID)
	if sess != nil && sess.WorkerID == d.workerID {
		ctx, cancel := context.WithTimeout(context.Background(), session.TerminationTimeout)
		defer cancel()
		if err := d.chrome.Terminate(ctx, sess, session.ReasonDeleteAction); err != nil {
			d.log.Warn("delete-action termination reported an error", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		d.metrics.RecordTermination(string(session.ReasonDeleteAction))
		d.sessions.Remove(sess.SessionID)
		d.deleteMessage(msg)
		return
	}

	// Not ours: return it immediately so another worker can claim it.
	d.extendVisibility(msg, 0)
}

// handleLaunch implements spec §4.5 steps 5-8. It reports whether port
// reservation failed, signaling iterate to stop processing the rest of
// the batch (spec §4.5 step 5: extend and stop on port exhaustion).
func (d *Dispatcher) handleLaunch(msg queue.Message, req *session.Request) (stopBatch bool) {
	port, err := d.ports.Reserve(d.workerID)
	if err != nil {
		d.extendVisibility(msg, noSlotsExtend)
		return true
	}

	atomic.AddInt32(&d.pendingLaunches, 1)
	d.launches.Go(func() error {
		defer atomic.AddInt32(&d.pendingLaunches, -1)
		d.launchOne(msg, req, port)
		return nil
	})
	return false
}

func (d *Dispatcher) launchOne(msg queue.Message, req *session.Request, port int) {
	profileDir, reused := d.selectProfile(port)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.LaunchBudget)
	defer cancel()

	sess, err := d.chrome.Launch(ctx, d.workerID, port, req, profileDir, reused)
	if err != nil {
		d.log.Warn("launch failed", zap.Int("port", port), zap.Error(err))
		if relErr := d.ports.Release(port, d.workerID); relErr != nil {
			d.log.Warn("port release after launch failure failed", zap.Int("port", port), zap.Error(relErr))
		}
		d.metrics.RecordTermination(string(session.ReasonLaunchFailed))
		d.extendVisibility(msg, launchFailedExtend)
		return
	}

	if err := d.ports.Activate(port, d.workerID); err != nil {
		d.log.Error("activating reserved port failed after successful launch", zap.Int("port", port), zap.Error(err))
		d.extendVisibility(msg, unexpectedErrExtend)
		return
	}

	sess.State = session.Active
	d.sessions.Insert(sess)
	d.metrics.RecordLaunch(time.Since(start))

	if !d.cfg.CallbackEnabled {
		d.deleteMessage(msg)
		return
	}

	hostIP := hostinfo.OutboundIP()
	wsURL := sess.WebSocketURL
	if u, err := url.Parse(wsURL); err == nil && u.Host != "" {
		u.Host = net.JoinHostPort(hostIP, fmt.Sprint(sess.DebugPort))
		wsURL = u.String()
	}

	payload := callback.Payload{
		RequestID:    req.RequestID,
		SessionID:    sess.SessionID,
		WorkerID:     d.workerID,
		Status:       "launched",
		DebugURL:     fmt.Sprintf("http://%s:%d", hostIP, sess.DebugPort),
		WebSocketURL: wsURL,
		CreatedAt:    sess.CreatedAt.Format(time.RFC3339),
		ExpiresAt:    sess.ExpiresAt.Format(time.RFC3339),
	}

	cbCtx, cbCancel := context.WithTimeout(context.Background(), d.cfg.CallbackTimeout)
	defer cbCancel()
	if err := d.callback.Post(cbCtx, payload); err != nil {
		d.log.Warn("callback post failed, message will redeliver", zap.Error(err))
		d.metrics.CallbackFailures.Inc()
		d.extendVisibility(msg, launchFailedExtend)
		return
	}

	d.deleteMessage(msg)
}

// selectProfile implements spec §4.5 step 6 / Open Question #4: reuse is
// keyed purely by debug port, never by requester or proxy identity.
func (d *Dispatcher) selectProfile(port int) (dir string, reused bool) {
	name := profile.NewDirName(port)
	if !d.cfg.ProfileReuseEnabled {
		fresh := fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
		return filepath.Join(d.cfg.ProfileRoot, fresh), false
	}
	return filepath.Join(d.cfg.ProfileRoot, name), true
}

func (d *Dispatcher) deleteMessage(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.q.Delete(ctx, msg.ReceiptHandle); err != nil {
		d.log.Warn("deleting queue message failed", zap.Error(err))
	}
}

func (d *Dispatcher) extendVisibility(msg queue.Message, delta time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.q.Extend(ctx, msg.ReceiptHandle, delta); err != nil {
		d.log.Warn("extending message visibility failed", zap.Duration("delta", delta), zap.Error(err))
	}
}

// LiveProfileDirs implements profile.LiveDirs, letting the Profile Janitor
// avoid deleting a directory a current session still has open.
func (d *Dispatcher) LiveProfileDirs() map[string]struct{} {
	live := make(map[string]struct{})
	for _, id := range d.sessions.ListIDs() {
		if s := d.sessions.Lookup(id); s != nil {
			live[s.ProfilePath] = struct{}{}
		}
	}
	return live
}
