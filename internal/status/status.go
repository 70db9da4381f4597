// Package status implements the periodic structured status line (spec §5
// "status task") and an optional WebSocket push surface for connected
// operator tooling, grounded on the corpus's metrics-streaming hub pattern.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chromeworker/internal/portregistry"
	"chromeworker/internal/session"
	"chromeworker/pkg/logger"
	"chromeworker/pkg/metrics"
)

// Line is the structured payload logged (and pushed) every interval.
type Line struct {
	Timestamp      time.Time           `json:"timestamp"`
	WorkerID       string              `json:"worker_id"`
	ActiveSessions int                 `json:"active_sessions"`
	Ports          portregistry.Snapshot `json:"ports"`
	Metrics        metrics.Snapshot    `json:"metrics"`
}

// Hub fans a Line out to connected WebSocket clients. Broadcasting never
// blocks status emission: a slow or stalled client misses Lines rather than
// being allowed to back-pressure the status task.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan Line
}

// NewHub creates a status push Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]chan Line),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP connection and streams status Lines to it until
// the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan Line, 8)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	for line := range ch {
		if err := conn.WriteJSON(line); err != nil {
			return
		}
	}
}

// Broadcast pushes a Line to every connected client, dropping it for any
// client whose outbound buffer is already full.
func (h *Hub) Broadcast(l Line) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- l:
		default:
		}
	}
}

// Task runs the periodic status emission loop (spec §5).
type Task struct {
	workerID string
	interval time.Duration
	sessions *session.Manager
	ports    *portregistry.Registry
	metrics  *metrics.Collector
	log      *logger.Logger
	hub      *Hub

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a status Task. hub may be nil to disable the WebSocket push
// surface (structured logging still happens either way).
func New(workerID string, interval time.Duration, sessions *session.Manager, ports *portregistry.Registry, m *metrics.Collector, log *logger.Logger, hub *Hub) *Task {
	return &Task{
		workerID: workerID,
		interval: interval,
		sessions: sessions,
		ports:    ports,
		metrics:  m,
		log:      log,
		hub:      hub,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic emission goroutine.
func (t *Task) Start() {
	go t.loop()
}

// Stop signals the loop to exit and waits for it.
func (t *Task) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Task) loop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.emit()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Task) emit() {
	portSnap := t.ports.Snapshot()
	t.metrics.SetActiveSessions(t.sessions.CountActive())
	t.metrics.SetPortCounts(portSnap.Free, portSnap.Reserved, portSnap.Active)

	line := Line{
		Timestamp:      time.Now(),
		WorkerID:       t.workerID,
		ActiveSessions: t.sessions.CountActive(),
		Ports:          portSnap,
		Metrics:        t.metrics.GetSnapshot(),
	}

	t.log.Info("status",
		zap.Int("active_sessions", line.ActiveSessions),
		zap.Int("ports_free", portSnap.Free),
		zap.Int("ports_reserved", portSnap.Reserved),
		zap.Int("ports_active", portSnap.Active))

	if t.hub != nil {
		t.hub.Broadcast(line)
	}
}

// StatusHandler serves the current snapshot as JSON for one-shot polling
// (complementing the WebSocket push surface and the Prometheus endpoint).
func (t *Task) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		portSnap := t.ports.Snapshot()
		line := Line{
			Timestamp:      time.Now(),
			WorkerID:       t.workerID,
			ActiveSessions: t.sessions.CountActive(),
			Ports:          portSnap,
			Metrics:        t.metrics.GetSnapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(line)
	}
}
