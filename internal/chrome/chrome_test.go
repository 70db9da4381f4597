package chrome

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"chromeworker/internal/portregistry"
	"chromeworker/internal/session"
	"chromeworker/pkg/logger"
)

func TestFilterArgsDropsDenylisted(t *testing.T) {
	allowed, dropped := filterArgs([]string{
		"--remote-debugging-port=9999",
		"--window-size=1024,768",
		"--user-data-dir=/tmp/evil",
	})
	if len(dropped) != 2 {
		t.Fatalf("dropped = %v, want 2 entries", dropped)
	}
	if len(allowed) != 1 || allowed[0] != "--window-size=1024,768" {
		t.Fatalf("allowed = %v", allowed)
	}
}

func TestBaseArgsIncludesPortAndProfile(t *testing.T) {
	args := baseArgs(9222, "/tmp/profiles/p9222")
	found := 0
	for _, a := range args {
		if a == "--remote-debugging-port=9222" || a == "--user-data-dir=/tmp/profiles/p9222" {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("baseArgs = %v, missing port or profile dir flag", args)
	}
}

// listenOn binds an ephemeral 127.0.0.1 port so devtoolsURL's hardcoded
// 127.0.0.1 host resolves to our fake DevTools server.
func listenOn(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestFetchVersionAndPageList(t *testing.T) {
	l, port := listenOn(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(versionResponse{WebSocketDebuggerURL: "ws://127.0.0.1:1/devtools/browser/abc"})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]pageEntry{{ID: "1", URL: "https://example.com"}})
	})
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	defer srv.Close()

	v, err := fetchVersion(context.Background(), port)
	if err != nil {
		t.Fatalf("fetchVersion: %v", err)
	}
	if v.WebSocketDebuggerURL == "" {
		t.Fatal("expected non-empty websocket debugger url")
	}

	pages, err := fetchPageList(context.Background(), port)
	if err != nil {
		t.Fatalf("fetchPageList: %v", err)
	}
	if len(pages) != 1 || pages[0].URL != "https://example.com" {
		t.Fatalf("pages = %+v", pages)
	}
}

func TestWaitForReadyTimesOutWithNoServer(t *testing.T) {
	_, port := listenOn(t) // bound but nothing ever Accept()s or serves DevTools
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := waitForReady(ctx, port, 300*time.Millisecond); err == nil {
		t.Fatal("expected waitForReady to time out against a non-DevTools listener")
	}
}

func TestHealthCheckClassifiesOwnProcess(t *testing.T) {
	pid := os.Getpid()
	createTime, err := processCreateTime(pid)
	if err != nil {
		t.Fatalf("processCreateTime: %v", err)
	}

	l, port := listenOn(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]pageEntry{{ID: "1", URL: "https://example.com"}})
	})
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	defer srv.Close()

	ports := portregistry.New(33000, 33000)
	sup := New(Config{}, ports, logger.NewDefault())

	sess := &session.BrowserSession{ProcessID: pid, ProcessCreateTime: createTime, DebugPort: port}
	status, err := sup.HealthCheck(context.Background(), sess)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if status != session.HealthActive {
		t.Fatalf("status = %v, want active (page has a non-blank url)", status)
	}
}

func TestHealthCheckDetectsPIDReuse(t *testing.T) {
	ports := portregistry.New(33010, 33010)
	sup := New(Config{}, ports, logger.NewDefault())

	sess := &session.BrowserSession{ProcessID: os.Getpid(), ProcessCreateTime: time.Now().Add(-time.Hour), DebugPort: 33010}
	status, err := sup.HealthCheck(context.Background(), sess)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if status != session.HealthCrashed {
		t.Fatalf("status = %v, want crashed on create-time mismatch (simulated PID reuse)", status)
	}
}
