package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetchWritesBodyToDestination(t *testing.T) {
	body := strings.Repeat("flixor", 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "movie.mp4")
	d := &Downloader{Client: server.Client()}

	written, err := d.Fetch(context.Background(), server.URL, dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if written != int64(len(body)) {
		t.Errorf("written = %d, want %d", written, len(body))
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(data) != body {
		t.Error("destination contents differ from body")
	}
}

func TestFetchReportsProgress(t *testing.T) {
	body := strings.Repeat("x", 300*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "307200")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := &Downloader{Client: server.Client()}

	var calls int
	var lastBytes, lastTotal int64
	_, err := d.Fetch(context.Background(), server.URL, dest, func(bytesDownloaded, bytesTotal, _ int64) {
		calls++
		lastBytes = bytesDownloaded
		lastTotal = bytesTotal
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls == 0 {
		t.Fatal("progress callback never invoked")
	}
	if lastBytes != int64(len(body)) {
		t.Errorf("final progress bytes = %d, want %d", lastBytes, len(body))
	}
	if lastTotal != int64(len(body)) {
		t.Errorf("total = %d, want %d", lastTotal, len(body))
	}
}

func TestFetchTruncatesExistingDestination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("short"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(dest, []byte(strings.Repeat("stale", 100)), 0o644); err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	d := &Downloader{Client: server.Client()}
	if _, err := d.Fetch(context.Background(), server.URL, dest, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(data) != "short" {
		t.Errorf("stale bytes survived: %d bytes", len(data))
	}
}

func TestFetchAbortReturnsContextError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(make([]byte, 256*1024))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	dest := filepath.Join(t.TempDir(), "file.bin")
	d := &Downloader{Client: server.Client()}

	_, err := d.Fetch(ctx, server.URL, dest, func(bytesDownloaded, _, _ int64) {
		if bytesDownloaded > 0 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The partial file stays in place for diagnostics; restarts truncate it.
	if _, statErr := os.Stat(dest); statErr != nil {
		t.Errorf("partial file missing: %v", statErr)
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := &Downloader{Client: server.Client()}

	if _, err := d.Fetch(context.Background(), server.URL, dest, nil); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination should not be created on error status")
	}
}
