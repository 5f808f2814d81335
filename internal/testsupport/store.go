package testsupport

import (
	"context"
	"testing"
	"time"

	"flixor/internal/config"
	"flixor/internal/kvstore"
	"flixor/internal/media"
	"flixor/internal/records"
)

// MustOpenKV opens a kvstore.Store for tests and registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) *kvstore.Store {
	t.Helper()

	store, err := kvstore.Open(cfg)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenRecords opens a record store backed by a fresh test database.
func MustOpenRecords(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()
	return records.New(MustOpenKV(t, cfg))
}

// SeedMedia persists a queued media record for tests and returns it.
func SeedMedia(t testing.TB, store *records.Store, serverID, contentID string, kind media.ContentKind) *media.Media {
	t.Helper()

	record := &media.Media{
		GlobalKey:  media.MakeGlobalKey(serverID, contentID),
		ServerID:   serverID,
		ContentID:  contentID,
		Kind:       kind,
		Status:     media.StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := store.SaveMedia(context.Background(), record); err != nil {
		t.Fatalf("store.SaveMedia: %v", err)
	}
	return record
}
