package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chromeworker/pkg/logger"
)

func TestLocalFetchImmediate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, requestFile), []byte(`{"id":"r1"}`), 0o644); err != nil {
		t.Fatalf("seed request file: %v", err)
	}

	l := NewLocal(dir, logger.NewDefault())
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := l.Fetch(ctx, 1, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindRequest {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestLocalFetchStatusQuery(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, statusQueryFile), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed status query file: %v", err)
	}

	l := NewLocal(dir, logger.NewDefault())
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := l.Fetch(ctx, 1, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindStatusQuery {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestLocalFetchTimesOutWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, logger.NewDefault())
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := l.Fetch(ctx, 1, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %+v", msgs)
	}
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, requestFile)
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed request file: %v", err)
	}

	l := NewLocal(dir, logger.NewDefault())
	defer l.Close()

	if err := l.Delete(context.Background(), requestFile); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := l.Delete(context.Background(), requestFile); err != nil {
		t.Fatalf("second Delete (already gone) should be a no-op: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}
