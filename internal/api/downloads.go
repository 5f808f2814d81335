package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"flixor/internal/downloads"
	"flixor/internal/media"
	"flixor/internal/offline"
	"flixor/internal/records"
	"flixor/internal/services"
	"flixor/internal/state"
)

// enqueuePayload is the wire shape of a download request.
type enqueuePayload struct {
	ServerID       string `json:"server_id"`
	ContentID      string `json:"content_id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Year           int    `json:"year"`
	Summary        string `json:"summary"`
	ImageRef       string `json:"image_ref"`
	ShowTitle      string `json:"show_title"`
	ParentID       string `json:"parent_id"`
	GrandparentID  string `json:"grandparent_id"`
	SeasonNumber   int    `json:"season_number"`
	EpisodeNumber  int    `json:"episode_number"`
	DurationMillis int64  `json:"duration_millis"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var payload enqueuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	kind, ok := media.ParseKind(payload.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown content kind %q", payload.Kind))
		return
	}

	req := downloads.Request{
		ServerID:       payload.ServerID,
		ContentID:      payload.ContentID,
		Kind:           kind,
		Title:          payload.Title,
		Year:           payload.Year,
		Summary:        payload.Summary,
		ImageRef:       payload.ImageRef,
		ShowTitle:      payload.ShowTitle,
		ParentID:       payload.ParentID,
		GrandparentID:  payload.GrandparentID,
		SeasonNumber:   payload.SeasonNumber,
		EpisodeNumber:  payload.EpisodeNumber,
		DurationMillis: payload.DurationMillis,
	}

	if err := s.manager.Enqueue(r.Context(), req); err != nil {
		writeDownloadError(w, err)
		return
	}

	snapshot := s.state.SnapshotFor(req.GlobalKey())
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleListDownloads(w http.ResponseWriter, _ *http.Request) {
	keys := s.state.Keys()
	snapshots := make([]*state.Snapshot, 0, len(keys))
	for _, key := range keys {
		if snapshot := s.state.SnapshotFor(key); snapshot != nil {
			snapshots = append(snapshots, snapshot)
		}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	snapshot := s.state.SnapshotFor(key)
	if snapshot == nil || snapshot.Media == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown download %q", key))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.manager.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.manager.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.manager.Cancel)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.manager.Retry)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	if err := s.manager.Remove(r.Context(), key); err != nil {
		writeDownloadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type viewOffsetPayload struct {
	ViewOffsetMillis int64 `json:"view_offset_millis"`
}

func (s *Server) handleViewOffset(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	var payload viewOffsetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.offline.UpdateViewOffset(r.Context(), key, payload.ViewOffsetMillis); err != nil {
		writeDownloadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global_key":         key,
		"view_offset_millis": payload.ViewOffsetMillis,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.QueueSnapshot())
}

func (s *Server) handleMovieView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Derived().Movies)
}

func (s *Server) handleShowView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Derived().Shows)
}

func (s *Server) handleOfflineList(w http.ResponseWriter, r *http.Request) {
	items, err := s.offline.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleOfflineItem(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	item, err := s.offline.Item(r.Context(), key)
	if err != nil {
		writeDownloadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, key string) error) {
	key := requestKey(r)
	if err := op(r.Context(), key); err != nil {
		writeDownloadError(w, err)
		return
	}
	snapshot := s.state.SnapshotFor(key)
	writeJSON(w, http.StatusOK, snapshot)
}

func requestKey(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "key"))
}

// writeDownloadError maps pipeline errors onto HTTP statuses.
func writeDownloadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, downloads.ErrUnknownKey),
		errors.Is(err, offline.ErrNotAvailable),
		errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, downloads.ErrAlreadyDownloaded),
		errors.Is(err, downloads.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, services.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrResource):
		writeError(w, http.StatusInsufficientStorage, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
