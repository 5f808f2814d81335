package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type countingFetcher struct {
	calls int
	body  string
}

func (f *countingFetcher) FetchImage(_ context.Context, _ string) (io.ReadCloser, error) {
	f.calls++
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestLocalizeArtworkFetchesOnce(t *testing.T) {
	base := t.TempDir()
	store := NewAt(base, filepath.Join(base, "artwork"))
	fetcher := &countingFetcher{body: "image-bytes"}
	ctx := context.Background()

	first, err := store.LocalizeArtwork(ctx, fetcher, "srv", "/library/metadata/42/thumb/1.jpg")
	if err != nil {
		t.Fatalf("LocalizeArtwork: %v", err)
	}
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read artwork: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected artwork contents %q", data)
	}

	// Same (server, image) pair: the pooled file short-circuits the fetch.
	second, err := store.LocalizeArtwork(ctx, fetcher, "srv", "/library/metadata/42/thumb/1.jpg")
	if err != nil {
		t.Fatalf("LocalizeArtwork second call: %v", err)
	}
	if second != first {
		t.Errorf("paths diverged: %q vs %q", first, second)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected a single fetch, got %d", fetcher.calls)
	}
}

func TestLocalizeArtworkRejectsEmptyRef(t *testing.T) {
	base := t.TempDir()
	store := NewAt(base, filepath.Join(base, "artwork"))

	if _, err := store.LocalizeArtwork(context.Background(), &countingFetcher{}, "srv", "   "); err == nil {
		t.Fatal("expected error for empty image reference")
	}
}

func TestLocalizeArtworkLeavesNoPartialOnFetchError(t *testing.T) {
	base := t.TempDir()
	store := NewAt(base, filepath.Join(base, "artwork"))

	_, err := store.LocalizeArtwork(context.Background(), failingFetcher{}, "srv", "/thumb.png")
	if err == nil {
		t.Fatal("expected fetch error")
	}

	entries, readErr := os.ReadDir(filepath.Join(base, "artwork"))
	if readErr != nil {
		// Directory may not exist when the failure happened before creation.
		return
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".partial") {
			t.Errorf("partial file left behind: %s", entry.Name())
		}
	}
}

type failingFetcher struct{}

func (failingFetcher) FetchImage(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, io.ErrUnexpectedEOF
}
