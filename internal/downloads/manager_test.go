package downloads_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"flixor/internal/config"
	"flixor/internal/downloads"
	"flixor/internal/filestore"
	"flixor/internal/logging"
	"flixor/internal/media"
	"flixor/internal/records"
	"flixor/internal/services"
	"flixor/internal/state"
	"flixor/internal/testsupport"
	"flixor/internal/transfer"
)

type stubSource struct {
	mu        sync.Mutex
	streamURL string
	streamErr error
	markers   []media.ChapterMarker
	image     []byte
	urlCalls  int
}

func (s *stubSource) ResolveStreamURL(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlCalls++
	if s.streamErr != nil {
		return "", s.streamErr
	}
	return s.streamURL, nil
}

func (s *stubSource) ResolveImageURL(_ context.Context, imageRef string, _ int) (string, error) {
	return imageRef, nil
}

func (s *stubSource) ChapterMarkers(_ context.Context, _ string) ([]media.ChapterMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers, nil
}

func (s *stubSource) FetchImage(_ context.Context, _ string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return nil, errors.New("no image configured")
	}
	return io.NopCloser(bytes.NewReader(s.image)), nil
}

type fixture struct {
	cfg     *config.Config
	records *records.Store
	state   *state.Store
	source  *stubSource
	manager *downloads.Manager
}

// instantFetch writes a small payload and reports one complete progress event.
func instantFetch(_ context.Context, _ string, dest string, progress transfer.ProgressFunc) (int64, error) {
	payload := []byte("video-bytes")
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return 0, err
	}
	if progress != nil {
		progress(int64(len(payload)), int64(len(payload)), 0)
	}
	return int64(len(payload)), nil
}

// blockingFetch parks until released or the transfer context is cancelled.
func blockingFetch(release <-chan struct{}) downloads.FetchFunc {
	return func(ctx context.Context, _ string, dest string, _ transfer.ProgressFunc) (int64, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-release:
		}
		payload := []byte("video-bytes")
		if err := os.WriteFile(dest, payload, 0o644); err != nil {
			return 0, err
		}
		return int64(len(payload)), nil
	}
}

func newFixture(t *testing.T, opts ...downloads.ManagerOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrent(1))
	recordStore := testsupport.MustOpenRecords(t, cfg)
	stateStore := state.NewStore()
	source := &stubSource{streamURL: "http://plex.test/stream/item.mkv"}

	allOpts := append([]downloads.ManagerOption{downloads.WithFetcher(instantFetch)}, opts...)
	manager := downloads.NewManager(cfg, recordStore, filestore.New(cfg), source, stateStore, logging.NewNop(), allOpts...)

	return &fixture{cfg: cfg, records: recordStore, state: stateStore, source: source, manager: manager}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(f.manager.Stop)
}

func movieRequest(contentID, title string) downloads.Request {
	return downloads.Request{
		ServerID:  "srv",
		ContentID: contentID,
		Kind:      media.KindMovie,
		Title:     title,
		Year:      2024,
	}
}

func waitForStatus(t *testing.T, store *records.Store, key string, want media.Status) *media.Media {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.GetMedia(context.Background(), key)
		if err == nil && record.Status == want {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	record, err := store.GetMedia(context.Background(), key)
	t.Fatalf("timed out waiting for %s to reach %s (record=%+v err=%v)", key, want, record, err)
	return nil
}

func TestEnqueueRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	record := waitForStatus(t, f.records, req.GlobalKey(), media.StatusCompleted)
	if record.FilePath == "" {
		t.Fatal("completed record has no file path")
	}
	if _, err := os.Stat(record.FilePath); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
	if record.Progress != 100 || record.CompletedAt == nil {
		t.Errorf("completion fields not set: progress=%v completed_at=%v", record.Progress, record.CompletedAt)
	}

	// The ephemeral progress snapshot is cleared on completion.
	if _, err := f.records.GetProgress(context.Background(), req.GlobalKey()); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("progress snapshot survived completion: %v", err)
	}

	snapshot := f.state.SnapshotFor(req.GlobalKey())
	if snapshot == nil || snapshot.Media.Status != media.StatusCompleted {
		t.Errorf("state store not updated: %+v", snapshot)
	}
}

func TestEnqueueDuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("duplicate enqueue should be a no-op, got %v", err)
	}
	if got := len(f.manager.QueueSnapshot()); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestConcurrentEnqueuesAllSurvive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 32
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.manager.Enqueue(ctx, movieRequest(strconv.Itoa(i), "Movie "+strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Enqueue: %v", err)
		}
	}

	if got := len(f.manager.QueueSnapshot()); got != n {
		t.Errorf("in-memory queue length = %d, want %d", got, n)
	}
	persisted, err := f.records.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(persisted) != n {
		t.Errorf("persisted queue length = %d, want %d", len(persisted), n)
	}
	all, err := f.records.LoadAllMedia(ctx)
	if err != nil {
		t.Fatalf("LoadAllMedia: %v", err)
	}
	if len(all) != n {
		t.Errorf("media record count = %d, want %d", len(all), n)
	}
}

func TestEnqueueRejectsCompletedItem(t *testing.T) {
	f := newFixture(t)

	req := movieRequest("1", "Dune")
	record := testsupport.SeedMedia(t, f.records, req.ServerID, req.ContentID, media.KindMovie)
	record.Status = media.StatusCompleted
	if err := f.records.SaveMedia(context.Background(), record); err != nil {
		t.Fatalf("SaveMedia: %v", err)
	}

	if err := f.manager.Enqueue(context.Background(), req); !errors.Is(err, downloads.ErrAlreadyDownloaded) {
		t.Errorf("got %v, want ErrAlreadyDownloaded", err)
	}
}

func TestEnqueueRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	err := f.manager.Enqueue(context.Background(), downloads.Request{ServerID: "srv", Kind: media.KindMovie, Title: "x"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}
}

func TestEnqueueChecksFreeSpace(t *testing.T) {
	f := newFixture(t, downloads.WithFreeSpace(func(string) (int64, error) {
		return 1024, nil
	}))
	f.cfg.Downloads.MinFreeMiB = 100

	err := f.manager.Enqueue(context.Background(), movieRequest("1", "Dune"))
	if !errors.Is(err, services.ErrResource) {
		t.Errorf("got %v, want resource error", err)
	}
}

func TestEnqueueToleratesFreeSpaceProbeFailure(t *testing.T) {
	f := newFixture(t, downloads.WithFreeSpace(func(string) (int64, error) {
		return 0, errors.New("statfs unavailable")
	}))
	f.cfg.Downloads.MinFreeMiB = 100

	if err := f.manager.Enqueue(context.Background(), movieRequest("1", "Dune")); err != nil {
		t.Errorf("probe failure should not block enqueue: %v", err)
	}
}

func TestConcurrencyCeilingHoldsSecondItem(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, downloads.WithFetcher(blockingFetch(release)))
	f.start(t)

	first := movieRequest("1", "Dune")
	second := movieRequest("2", "Arrival")
	if err := f.manager.Enqueue(context.Background(), first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	waitForStatus(t, f.records, first.GlobalKey(), media.StatusDownloading)

	if err := f.manager.Enqueue(context.Background(), second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if got := f.manager.ActiveCount(); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}
	record, err := f.records.GetMedia(context.Background(), second.GlobalKey())
	if err != nil || record.Status != media.StatusQueued {
		t.Errorf("second item should wait queued, got %+v err=%v", record, err)
	}

	close(release)
	waitForStatus(t, f.records, first.GlobalKey(), media.StatusCompleted)
	waitForStatus(t, f.records, second.GlobalKey(), media.StatusCompleted)
}

func TestPauseAbortsActiveTransfer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, downloads.WithFetcher(blockingFetch(release)))
	f.start(t)

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForStatus(t, f.records, req.GlobalKey(), media.StatusDownloading)

	if err := f.manager.Pause(context.Background(), req.GlobalKey()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitForStatus(t, f.records, req.GlobalKey(), media.StatusPaused)

	// The aborted executor must not flip the record to failed afterwards.
	time.Sleep(50 * time.Millisecond)
	record, err := f.records.GetMedia(context.Background(), req.GlobalKey())
	if err != nil || record.Status != media.StatusPaused {
		t.Errorf("status after abort = %+v err=%v, want paused", record, err)
	}
	if f.manager.ActiveCount() != 0 {
		t.Errorf("slot not released after pause")
	}
}

func TestPauseClearsProgressSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	snapshot := &media.Progress{GlobalKey: req.GlobalKey(), Status: media.StatusDownloading, Percent: 47}
	if err := f.records.SaveProgress(ctx, snapshot); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	f.state.SetProgress(snapshot)

	if err := f.manager.Pause(ctx, req.GlobalKey()); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if _, err := f.records.GetProgress(ctx, req.GlobalKey()); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("progress snapshot survived pause: %v", err)
	}
	if f.state.Progress(req.GlobalKey()) != nil {
		t.Error("state store still holds a progress snapshot after pause")
	}
}

// A pause racing the executor's queued-to-downloading flip must always win:
// once Pause returns, the record never reads downloading again.
func TestPauseNeverLosesToStatusFlip(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		req := movieRequest(strconv.Itoa(i), "Movie")
		if err := f.manager.Enqueue(ctx, req); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if err := f.manager.Pause(ctx, req.GlobalKey()); err != nil && !errors.Is(err, downloads.ErrInvalidTransition) {
			t.Fatalf("Pause: %v", err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if f.manager.ActiveCount() == 0 && len(f.manager.QueueSnapshot()) == 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		record, err := f.records.GetMedia(ctx, req.GlobalKey())
		if err != nil {
			t.Fatalf("GetMedia: %v", err)
		}
		if record.Status == media.StatusDownloading {
			t.Fatalf("iteration %d: record left downloading after pause with no active transfer", i)
		}
	}
}

func TestResumeInsertsAtQueueHead(t *testing.T) {
	f := newFixture(t)

	first := movieRequest("1", "Dune")
	second := movieRequest("2", "Arrival")
	if err := f.manager.Enqueue(context.Background(), first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := f.manager.Enqueue(context.Background(), second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	if err := f.manager.Pause(context.Background(), first.GlobalKey()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := len(f.manager.QueueSnapshot()); got != 1 {
		t.Fatalf("paused item still queued: %d entries", got)
	}

	if err := f.manager.Resume(context.Background(), first.GlobalKey()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	queue := f.manager.QueueSnapshot()
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if queue[0].GlobalKey != first.GlobalKey() {
		t.Errorf("resumed item not at head: %v", queue[0].GlobalKey)
	}
	if queue[0].Priority >= queue[1].Priority {
		t.Errorf("head priority %d not below %d", queue[0].Priority, queue[1].Priority)
	}

	record, err := f.records.GetMedia(context.Background(), first.GlobalKey())
	if err != nil || record.Status != media.StatusQueued {
		t.Errorf("resumed record = %+v err=%v, want queued", record, err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	f := newFixture(t)
	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.manager.Resume(context.Background(), req.GlobalKey()); !errors.Is(err, downloads.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestRetryResetsFailureStateAtHead(t *testing.T) {
	f := newFixture(t)

	other := movieRequest("2", "Arrival")
	if err := f.manager.Enqueue(context.Background(), other); err != nil {
		t.Fatalf("enqueue other: %v", err)
	}

	failed := testsupport.SeedMedia(t, f.records, "srv", "1", media.KindMovie)
	failed.SetFailed("network unreachable")
	failed.RetryCount = 1
	failed.Progress = 37
	failed.BytesDownloaded = 370
	failed.BytesTotal = 1000
	if err := f.records.SaveMedia(context.Background(), failed); err != nil {
		t.Fatalf("SaveMedia: %v", err)
	}
	if err := f.records.SaveProgress(context.Background(), &media.Progress{GlobalKey: failed.GlobalKey, Status: media.StatusDownloading, Percent: 37}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	if err := f.manager.Retry(context.Background(), failed.GlobalKey); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	record, err := f.records.GetMedia(context.Background(), failed.GlobalKey)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if record.Status != media.StatusQueued || record.RetryCount != 2 || record.ErrorMessage != "" {
		t.Errorf("retry did not reset record: %+v", record)
	}
	if record.Progress != 0 || record.BytesDownloaded != 0 || record.BytesTotal != 0 {
		t.Errorf("retry left transfer counters: %+v", record)
	}
	if _, err := f.records.GetProgress(context.Background(), failed.GlobalKey); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("progress snapshot survived retry: %v", err)
	}

	queue := f.manager.QueueSnapshot()
	if len(queue) != 2 || queue[0].GlobalKey != failed.GlobalKey {
		t.Errorf("retried item not at queue head: %+v", queue)
	}
}

func TestRetryRequiresFailed(t *testing.T) {
	f := newFixture(t)
	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.manager.Retry(context.Background(), req.GlobalKey()); !errors.Is(err, downloads.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.manager.Cancel(context.Background(), req.GlobalKey()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := len(f.manager.QueueSnapshot()); got != 0 {
		t.Errorf("cancelled item still queued: %d entries", got)
	}
	if err := f.manager.Cancel(context.Background(), req.GlobalKey()); !errors.Is(err, downloads.ErrInvalidTransition) {
		t.Errorf("second cancel got %v, want ErrInvalidTransition", err)
	}
}

func TestOperationsOnUnknownKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, op := range map[string]func(context.Context, string) error{
		"pause":  f.manager.Pause,
		"resume": f.manager.Resume,
		"cancel": f.manager.Cancel,
		"retry":  f.manager.Retry,
		"remove": f.manager.Remove,
	} {
		if err := op(ctx, "srv:absent"); !errors.Is(err, downloads.ErrUnknownKey) {
			t.Errorf("%s: got %v, want ErrUnknownKey", name, err)
		}
	}
}

func TestRemoveErasesRecordsAndFiles(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	record := waitForStatus(t, f.records, req.GlobalKey(), media.StatusCompleted)

	if err := f.manager.Remove(context.Background(), req.GlobalKey()); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(record.FilePath); !os.IsNotExist(err) {
		t.Errorf("media file survived removal: %v", err)
	}
	if _, err := f.records.GetMedia(context.Background(), req.GlobalKey()); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("media record survived removal: %v", err)
	}
	if f.state.SnapshotFor(req.GlobalKey()) != nil {
		t.Error("state snapshot survived removal")
	}
}

func TestStartReconcilesInterruptedDownload(t *testing.T) {
	f := newFixture(t)

	// Simulate a crash mid-transfer: downloading status with no queue entry.
	record := testsupport.SeedMedia(t, f.records, "srv", "1", media.KindMovie)
	record.Status = media.StatusDownloading
	if err := f.records.SaveMedia(context.Background(), record); err != nil {
		t.Fatalf("SaveMedia: %v", err)
	}
	meta := &media.Metadata{GlobalKey: record.GlobalKey, Kind: media.KindMovie, Title: "Dune", Year: 2024}
	if err := f.records.SaveMetadata(context.Background(), meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	f.start(t)

	waitForStatus(t, f.records, record.GlobalKey, media.StatusCompleted)
}

func TestStartClearsStaleProgressSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := testsupport.SeedMedia(t, f.records, "srv", "1", media.KindMovie)
	record.Status = media.StatusPaused
	if err := f.records.SaveMedia(ctx, record); err != nil {
		t.Fatalf("SaveMedia: %v", err)
	}
	if err := f.records.SaveProgress(ctx, &media.Progress{GlobalKey: record.GlobalKey, Status: media.StatusDownloading, Percent: 47}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	f.start(t)

	if _, err := f.records.GetProgress(ctx, record.GlobalKey); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("stale progress snapshot survived startup: %v", err)
	}
	loaded, err := f.records.GetMedia(ctx, record.GlobalKey)
	if err != nil || loaded.Status != media.StatusPaused {
		t.Errorf("paused record disturbed by reconcile: %+v err=%v", loaded, err)
	}
}

func TestExecutorFailsOnStreamResolution(t *testing.T) {
	f := newFixture(t)
	f.source.streamErr = errors.New("item deleted upstream")
	f.start(t)

	req := movieRequest("1", "Dune")
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	record := waitForStatus(t, f.records, req.GlobalKey(), media.StatusFailed)
	if record.ErrorMessage == "" {
		t.Error("failed record carries no error message")
	}
}

func TestExecutorCapturesArtworkAndMarkers(t *testing.T) {
	f := newFixture(t)
	f.source.image = []byte("poster-bytes")
	f.source.markers = []media.ChapterMarker{{StartMillis: 0, EndMillis: 90000, Kind: "intro"}}
	f.start(t)

	req := movieRequest("1", "Dune")
	req.ImageRef = "/library/metadata/1/thumb/123"
	if err := f.manager.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	record := waitForStatus(t, f.records, req.GlobalKey(), media.StatusCompleted)

	meta, err := f.records.GetMetadata(context.Background(), req.GlobalKey())
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.LocalArtworkPath == "" {
		t.Fatal("artwork was not localized")
	}
	if _, err := os.Stat(meta.LocalArtworkPath); err != nil {
		t.Errorf("artwork file missing: %v", err)
	}
	if record.ArtworkPath != meta.LocalArtworkPath {
		t.Errorf("media record artwork path %q != metadata %q", record.ArtworkPath, meta.LocalArtworkPath)
	}
	if !meta.HasMarkers {
		t.Error("marker flag not set")
	}
	markers, err := f.records.GetMarkers(context.Background(), req.GlobalKey())
	if err != nil || len(markers) != 1 || markers[0].Kind != "intro" {
		t.Errorf("markers not persisted: %+v err=%v", markers, err)
	}
}
