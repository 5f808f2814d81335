package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flixor/internal/api"
	"flixor/internal/downloads"
	"flixor/internal/filestore"
	"flixor/internal/logging"
	"flixor/internal/media"
	"flixor/internal/offline"
	"flixor/internal/state"
	"flixor/internal/testsupport"
	"flixor/internal/transfer"
)

type stubSource struct{}

func (stubSource) ResolveStreamURL(context.Context, string) (string, error) {
	return "http://plex.test/stream/item.mp4", nil
}

func (stubSource) ResolveImageURL(_ context.Context, imageRef string, _ int) (string, error) {
	return imageRef, nil
}

func (stubSource) ChapterMarkers(context.Context, string) ([]media.ChapterMarker, error) {
	return nil, nil
}

func (stubSource) FetchImage(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("no image configured")
}

type fixture struct {
	state   *state.Store
	manager *downloads.Manager
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	recordStore := testsupport.MustOpenRecords(t, cfg)
	stateStore := state.NewStore()
	manager := downloads.NewManager(cfg, recordStore, filestore.New(cfg), stubSource{}, stateStore, logging.NewNop(),
		downloads.WithFetcher(func(context.Context, string, string, transfer.ProgressFunc) (int64, error) {
			return 0, errors.New("no transfers in handler tests")
		}),
	)
	server := api.NewServer(cfg, manager, stateStore, offline.New(recordStore, stateStore), logging.NewNop())

	return &fixture{state: stateStore, manager: manager, handler: server.Routes()}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func enqueueBody(contentID, title string) map[string]any {
	return map[string]any{
		"server_id":  "srv",
		"content_id": contentID,
		"kind":       "movie",
		"title":      title,
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" || body["service"] != "flixor" {
		t.Errorf("unexpected health payload: %v", body)
	}
}

func TestEnqueueReturnsSnapshot(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	snapshot := decodeBody[state.Snapshot](t, rec)
	if snapshot.GlobalKey != "srv:1" || snapshot.Media == nil || snapshot.Media.Status != media.StatusQueued {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)

	body := enqueueBody("1", "Dune")
	body["kind"] = "album"
	rec := f.request(t, http.MethodPost, "/api/v1/downloads", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnqueueRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetDownload(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))

	rec := f.request(t, http.MethodGet, "/api/v1/downloads/srv:1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snapshot := decodeBody[state.Snapshot](t, rec)
	if snapshot.Metadata == nil || snapshot.Metadata.Title != "Dune" {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}

	if rec := f.request(t, http.MethodGet, "/api/v1/downloads/srv:absent", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", rec.Code)
	}
}

func TestListDownloads(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("2", "Arrival"))

	rec := f.request(t, http.MethodGet, "/api/v1/downloads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snapshots := decodeBody[[]state.Snapshot](t, rec)
	if len(snapshots) != 2 {
		t.Errorf("got %d snapshots, want 2", len(snapshots))
	}
}

func TestTransitionEndpoints(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))

	rec := f.request(t, http.MethodPost, "/api/v1/downloads/srv:1/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d body=%s", rec.Code, rec.Body.String())
	}
	snapshot := decodeBody[state.Snapshot](t, rec)
	if snapshot.Media.Status != media.StatusPaused {
		t.Errorf("status after pause = %s", snapshot.Media.Status)
	}

	// Pausing a paused item is an invalid transition.
	if rec := f.request(t, http.MethodPost, "/api/v1/downloads/srv:1/pause", nil); rec.Code != http.StatusConflict {
		t.Errorf("double pause status = %d, want 409", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/downloads/srv:1/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	if rec := f.request(t, http.MethodPost, "/api/v1/downloads/srv:absent/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", rec.Code)
	}
}

func TestRemoveEndpoint(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))

	rec := f.request(t, http.MethodDelete, "/api/v1/downloads/srv:1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.request(t, http.MethodGet, "/api/v1/downloads/srv:1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("removed item still served: %d", rec.Code)
	}
}

func TestQueueEndpoint(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("2", "Arrival"))

	rec := f.request(t, http.MethodGet, "/api/v1/queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	queue := decodeBody[[]media.QueueItem](t, rec)
	if len(queue) != 2 {
		t.Errorf("queue length = %d, want 2", len(queue))
	}
}

func TestMovieViewEndpoint(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))

	rec := f.request(t, http.MethodGet, "/api/v1/views/movies", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	movies := decodeBody[[]state.Movie](t, rec)
	if len(movies) != 1 || movies[0].GlobalKey != "srv:1" {
		t.Errorf("unexpected movie view: %+v", movies)
	}
}

func TestOfflineEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/offline", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	items := decodeBody[[]offline.Item](t, rec)
	if len(items) != 0 {
		t.Errorf("expected empty offline list, got %+v", items)
	}

	if rec := f.request(t, http.MethodGet, "/api/v1/offline/srv:absent", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown offline item status = %d, want 404", rec.Code)
	}
}

func TestViewOffsetEndpoint(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/v1/downloads", enqueueBody("1", "Dune"))

	rec := f.request(t, http.MethodPut, "/api/v1/downloads/srv:1/view-offset", map[string]any{
		"view_offset_millis": 90000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := f.state.Metadata("srv:1"); got == nil || got.ViewOffsetMillis != 90000 {
		t.Errorf("offset not mirrored into state: %+v", got)
	}
}

func TestEventStreamDeliversStateEvents(t *testing.T) {
	f := newFixture(t)

	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	// Headers arrive before the handler subscribes, so keep emitting until
	// the stream delivers.
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			f.state.SetMedia(&media.Media{
				GlobalKey:  "srv:1",
				Kind:       media.KindMovie,
				Status:     media.StatusQueued,
				EnqueuedAt: time.Now().UTC(),
			})
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Type      string `json:"type"`
			GlobalKey string `json:"global_key"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != string(state.EventState) || event.GlobalKey != "srv:1" {
			t.Errorf("unexpected event: %+v", event)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
}
