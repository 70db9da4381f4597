package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostSuccess(t *testing.T) {
	var gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Post(context.Background(), Payload{RequestID: "r1", SessionID: "s1"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content-type = %s", gotContentType)
	}
}

func TestPostNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Post(context.Background(), Payload{RequestID: "r1"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestPostDisabledIsNoop(t *testing.T) {
	c := New("", time.Second)
	if err := c.Post(context.Background(), Payload{RequestID: "r1"}); err != nil {
		t.Fatalf("Post with empty url should be a no-op, got %v", err)
	}
}
