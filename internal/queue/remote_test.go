package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRemoteFetchDecodesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]wireMessage{
			{Body: json.RawMessage(`{"id":"r1"}`), ReceiptHandle: "h1"},
		})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "")
	msgs, err := r.Fetch(context.Background(), 4, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ReceiptHandle != "h1" || msgs[0].Kind != KindRequest {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestRemoteFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "")
	if _, err := r.Fetch(context.Background(), 1, 10*time.Millisecond); err == nil {
		t.Fatal("expected error on 503 response")
	}
}

func TestRemoteDeleteAndExtend(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "")
	if err := r.Delete(context.Background(), "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Extend(context.Background(), "h1", 30*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if len(gotPaths) != 2 {
		t.Fatalf("expected 2 requests, got %v", gotPaths)
	}
}

func TestRemoteRespondNoopWithoutURL(t *testing.T) {
	r := NewRemote("http://unused", "")
	if err := r.Respond(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("Respond with no response url should be a no-op, got %v", err)
	}
}

func TestRemoteResetWithNoConnectionsDoesNotPanic(t *testing.T) {
	r := NewRemote("http://unused", "")
	// Reset must not panic even with no connections ever opened.
	r.Reset()
}
