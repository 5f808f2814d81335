package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"flixor/internal/logging"
	"flixor/internal/media"
	"flixor/internal/state"
)

// sseEvent is the wire shape of one server-sent event.
type sseEvent struct {
	Type      string          `json:"type"`
	GlobalKey string          `json:"global_key"`
	Progress  *media.Progress `json:"progress,omitempty"`
}

// handleEvents streams store events as SSE. The state store notifies
// synchronously, so events are bridged through a buffered channel; a client
// too slow to drain it loses intermediate progress frames, never structural
// ones it cannot recover (the next GET re-reads full state).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := make(chan sseEvent, 256)
	unsubscribe := s.state.Subscribe(func(event state.Event) {
		out := sseEvent{
			Type:      string(event.Type),
			GlobalKey: event.GlobalKey,
			Progress:  event.Progress,
		}
		select {
		case stream <- out:
		default:
			// Slow client; drop rather than block the pipeline.
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-stream:
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("failed to encode event", logging.Error(err))
				continue
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
