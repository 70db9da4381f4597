package status

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chromeworker/internal/portregistry"
	"chromeworker/internal/session"
	"chromeworker/pkg/logger"
	"chromeworker/pkg/metrics"
)

type noopSupervisor struct{}

func (noopSupervisor) HealthCheck(ctx context.Context, s *session.BrowserSession) (session.HealthStatus, error) {
	return session.HealthActive, nil
}
func (noopSupervisor) Terminate(ctx context.Context, s *session.BrowserSession, reason session.TerminationReason) error {
	return nil
}

var testMetricsOnce sync.Once
var testMetrics *metrics.Collector

func sharedTestMetrics() *metrics.Collector {
	testMetricsOnce.Do(func() { testMetrics = metrics.New() })
	return testMetrics
}

func newTestTask(hub *Hub) *Task {
	ports := portregistry.New(31000, 31001)
	sessions := session.New(noopSupervisor{}, ports, logger.NewDefault())
	return New("w-test", 20*time.Millisecond, sessions, ports, sharedTestMetrics(), logger.NewDefault(), hub)
}

func TestStatusHandlerServesSnapshot(t *testing.T) {
	task := newTestTask(nil)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	task.StatusHandler()(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status code = %d", rec.Code)
	}
	var line Line
	if err := json.Unmarshal(rec.Body.Bytes(), &line); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if line.WorkerID != "w-test" {
		t.Fatalf("worker_id = %q", line.WorkerID)
	}
	if line.Ports.Free != 2 {
		t.Fatalf("ports.free = %d, want 2", line.Ports.Free)
	}
}

func TestHubBroadcastDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	ch := make(chan Line, 1)
	conn := &websocket.Conn{}
	h.conns[conn] = ch

	// Fill the buffer, then broadcast once more; that call may not block.
	h.Broadcast(Line{WorkerID: "a"})
	done := make(chan struct{})
	go func() {
		h.Broadcast(Line{WorkerID: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full subscriber channel")
	}
}

func TestTaskStartStop(t *testing.T) {
	task := newTestTask(nil)
	task.Start()
	time.Sleep(30 * time.Millisecond)
	task.Stop()
}
