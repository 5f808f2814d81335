package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flixor/internal/config"
	"flixor/internal/downloads"
	"flixor/internal/logging"
	"flixor/internal/offline"
	"flixor/internal/state"
)

// Server exposes the download pipeline over HTTP: queue operations, derived
// library views, offline playback data, and a server-sent event stream of
// state changes.
type Server struct {
	cfg     *config.Config
	manager *downloads.Manager
	state   *state.Store
	offline *offline.Accessor
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer wires the control API to a running manager and its stores.
func NewServer(cfg *config.Config, manager *downloads.Manager, stateStore *state.Store, offlineAccessor *offline.Accessor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		state:   stateStore,
		offline: offlineAccessor,
		logger:  logging.NewComponentLogger(logger, "api"),
	}
}

// Routes builds the chi handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/events", s.handleEvents)

		api.Get("/downloads", s.handleListDownloads)
		api.Post("/downloads", s.handleEnqueue)
		api.Get("/downloads/{key}", s.handleGetDownload)
		api.Delete("/downloads/{key}", s.handleRemove)
		api.Post("/downloads/{key}/pause", s.handlePause)
		api.Post("/downloads/{key}/resume", s.handleResume)
		api.Post("/downloads/{key}/cancel", s.handleCancel)
		api.Post("/downloads/{key}/retry", s.handleRetry)
		api.Put("/downloads/{key}/view-offset", s.handleViewOffset)

		api.Get("/queue", s.handleQueue)
		api.Get("/views/movies", s.handleMovieView)
		api.Get("/views/shows", s.handleShowView)

		api.Get("/offline", s.handleOfflineList)
		api.Get("/offline/{key}", s.handleOfflineItem)
	})

	return r
}

// ListenAndServe runs the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Paths.APIBind,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info("control api listening", logging.String("bind", s.cfg.Paths.APIBind))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "flixor",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"active":  s.manager.ActiveCount(),
	})
}
