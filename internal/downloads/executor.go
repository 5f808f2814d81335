package downloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flixor/internal/config"
	"flixor/internal/filestore"
	"flixor/internal/fileutil"
	"flixor/internal/logging"
	"flixor/internal/media"
	"flixor/internal/notifications"
	"flixor/internal/records"
	"flixor/internal/services"
	"flixor/internal/services/plex"
	"flixor/internal/state"
	"flixor/internal/transfer"
)

// FetchFunc streams a remote URL into a destination file, reporting raw
// progress along the way. transfer.Downloader.Fetch is the production
// implementation.
type FetchFunc func(ctx context.Context, url, dest string, progress transfer.ProgressFunc) (int64, error)

// Executor runs a single download end to end: status flip, URL resolution,
// transfer, artwork and marker capture, and final persistence. One executor
// instance serves all slots; per-item state lives on the stack of Run.
type Executor struct {
	cfg      *config.Config
	records  *records.Store
	files    *filestore.Store
	source   plex.Service
	state    *state.Store
	notifier notifications.Service
	logger   *slog.Logger

	// opMu is the manager's operation lock. Every status read-check-write on
	// a media record happens under it, so a pause or cancel landing between
	// the executor's check and its write can never be overwritten.
	opMu *sync.Mutex

	fetch FetchFunc
	now   func() time.Time
}

func newExecutor(cfg *config.Config, recordStore *records.Store, files *filestore.Store, source plex.Service, stateStore *state.Store, logger *slog.Logger) *Executor {
	downloader := &transfer.Downloader{}
	return &Executor{
		cfg:     cfg,
		opMu:    &sync.Mutex{},
		records: recordStore,
		files:   files,
		source:  source,
		state:   stateStore,
		logger:  logging.NewComponentLogger(logger, "executor"),
		fetch:   downloader.Fetch,
		now:     time.Now,
	}
}

// Run processes one dequeued item. It never returns an error: failures are
// persisted onto the media record, and an abort (pause, cancel, shutdown)
// leaves the record untouched for the caller's transition or the next
// startup reconciliation to resolve.
func (e *Executor) Run(ctx context.Context, item media.QueueItem) {
	sessionID := uuid.NewString()
	ctx = services.WithGlobalKey(ctx, item.GlobalKey)
	ctx = services.WithSessionID(ctx, sessionID)

	logger := e.logger.With(
		logging.String(logging.FieldGlobalKey, item.GlobalKey),
		logging.String(logging.FieldSessionID, sessionID),
	)

	// Check and flip under the operation lock: a concurrent pause or cancel
	// either lands before (the check sees it) or after (its write wins).
	e.opMu.Lock()
	record, err := e.records.GetMedia(ctx, item.GlobalKey)
	if err != nil {
		e.opMu.Unlock()
		logger.Error("dequeued item has no media record", logging.Error(err))
		return
	}
	if record.Status != media.StatusQueued {
		// Paused, cancelled, or removed between dequeue and execution.
		e.opMu.Unlock()
		logger.Info("skipping dequeued item",
			logging.String(logging.FieldStatus, string(record.Status)),
		)
		return
	}
	active := *record
	active.Status = media.StatusDownloading
	if err := e.records.SaveMedia(ctx, &active); err != nil {
		e.opMu.Unlock()
		logger.Error("failed to persist downloading status", logging.Error(err))
		return
	}
	e.state.SetMedia(&active)
	e.opMu.Unlock()

	meta, err := e.records.GetMetadata(ctx, item.GlobalKey)
	if err != nil {
		e.fail(ctx, logger, &active, nil, fmt.Errorf("load metadata: %w", err))
		return
	}

	logger.Info("download started",
		logging.String(logging.FieldContentKind, string(active.Kind)),
		logging.String("title", meta.Title),
	)

	streamURL, err := e.source.ResolveStreamURL(ctx, active.ContentID)
	if err != nil {
		e.fail(ctx, logger, &active, meta, fmt.Errorf("resolve stream url: %w", err))
		return
	}

	dest := e.destinationPath(meta, streamURL)
	if err := fileutil.EnsureDir(filepath.Dir(dest)); err != nil {
		e.fail(ctx, logger, &active, meta, fmt.Errorf("create destination directory: %w", err))
		return
	}

	written, err := e.transfer(ctx, &active, streamURL, dest)
	if err != nil {
		if services.IsAbort(err) {
			// Pause, cancel, remove, or shutdown own the record now.
			logger.Info("download aborted", logging.Int64("bytes_downloaded", written))
			return
		}
		e.fail(ctx, logger, &active, meta, err)
		return
	}

	e.captureArtwork(ctx, logger, &active, meta)
	e.captureMarkers(ctx, logger, &active, meta)

	e.complete(ctx, logger, &active, meta, dest, written)
}

// transfer streams the remote file, forwarding gated progress into the state
// store and persisting throttled snapshots.
func (e *Executor) transfer(ctx context.Context, record *media.Media, streamURL, dest string) (int64, error) {
	gate := transfer.NewProgressGate(
		time.Duration(e.cfg.Downloads.ProgressIntervalMS)*time.Millisecond,
		e.cfg.Downloads.ProgressDeltaPercent,
	)

	progress := func(bytesDownloaded, bytesTotal, speedBPS int64) {
		if ctx.Err() != nil {
			// Aborted; the owning transition has already cleared snapshots.
			return
		}
		var percent float64
		if bytesTotal > 0 {
			percent = float64(bytesDownloaded) / float64(bytesTotal) * 100
		}
		if !gate.ShouldForward(e.now(), percent) {
			return
		}
		snapshot := &media.Progress{
			GlobalKey:       record.GlobalKey,
			Status:          media.StatusDownloading,
			Percent:         percent,
			BytesDownloaded: bytesDownloaded,
			BytesTotal:      bytesTotal,
			SpeedBPS:        speedBPS,
		}
		if err := e.records.SaveProgress(ctx, snapshot); err != nil && !services.IsAbort(err) {
			e.logger.Warn("failed to persist progress snapshot", logging.Error(err))
		}
		e.state.SetProgress(snapshot)
	}

	return e.fetch(ctx, streamURL, dest, progress)
}

// destinationPath derives the library-relative video path from metadata. The
// container extension comes from the resolved stream URL, falling back to mp4
// when the URL carries none.
func (e *Executor) destinationPath(meta *media.Metadata, streamURL string) string {
	ext := "mp4"
	if parsed, err := url.Parse(streamURL); err == nil {
		if candidate := strings.TrimPrefix(path.Ext(parsed.Path), "."); candidate != "" {
			ext = candidate
		}
	}
	if meta.Kind == media.KindEpisode {
		return e.files.EpisodePath(meta.ShowTitle, meta.Year, meta.SeasonNumber, meta.EpisodeNumber, meta.Title, ext)
	}
	return e.files.MoviePath(meta.Title, meta.Year, ext)
}

// captureArtwork pools the item's poster locally. Best effort: a completed
// video without artwork is still a completed download.
func (e *Executor) captureArtwork(ctx context.Context, logger *slog.Logger, record *media.Media, meta *media.Metadata) {
	if meta.ImageRef == "" || meta.LocalArtworkPath != "" {
		return
	}
	localPath, err := e.files.LocalizeArtwork(ctx, e.source, record.ServerID, meta.ImageRef)
	if err != nil {
		if !services.IsAbort(err) {
			logger.Warn("artwork capture failed", logging.Error(err))
		}
		return
	}
	meta.LocalArtworkPath = localPath
	record.ArtworkPath = localPath
	if err := e.records.SaveMetadata(ctx, meta); err != nil {
		logger.Warn("failed to persist artwork path", logging.Error(err))
	}
}

// captureMarkers caches intro/credits ranges for offline skipping. Best
// effort, same as artwork.
func (e *Executor) captureMarkers(ctx context.Context, logger *slog.Logger, record *media.Media, meta *media.Metadata) {
	markers, err := e.source.ChapterMarkers(ctx, record.ContentID)
	if err != nil {
		if !services.IsAbort(err) {
			logger.Warn("marker capture failed", logging.Error(err))
		}
		return
	}
	if len(markers) == 0 {
		return
	}
	if err := e.records.SaveMarkers(ctx, record.GlobalKey, markers); err != nil {
		logger.Warn("failed to persist markers", logging.Error(err))
		return
	}
	meta.HasMarkers = true
	if err := e.records.SaveMetadata(ctx, meta); err != nil {
		logger.Warn("failed to persist marker flag", logging.Error(err))
	}
}

// complete finalizes a fully transferred item. The record is re-read first:
// if a pause or cancel landed after the last byte, that transition wins and
// the finished file stays on disk for a later resume to reuse the slot.
func (e *Executor) complete(ctx context.Context, logger *slog.Logger, record *media.Media, meta *media.Metadata, dest string, written int64) {
	persistCtx := context.WithoutCancel(ctx)

	e.opMu.Lock()
	fresh, err := e.records.GetMedia(persistCtx, record.GlobalKey)
	if err != nil {
		e.opMu.Unlock()
		if errors.Is(err, records.ErrNotFound) {
			// Removed mid-transfer; nothing left to finalize.
			return
		}
		logger.Error("failed to re-read media record", logging.Error(err))
		return
	}
	if fresh.Status != media.StatusDownloading {
		e.opMu.Unlock()
		logger.Info("skipping completion, status changed mid-transfer",
			logging.String(logging.FieldStatus, string(fresh.Status)),
		)
		return
	}

	completedAt := e.now().UTC()
	fresh.Status = media.StatusCompleted
	fresh.Progress = 100
	fresh.BytesDownloaded = written
	fresh.BytesTotal = written
	fresh.FilePath = dest
	fresh.ArtworkPath = record.ArtworkPath
	fresh.CompletedAt = &completedAt
	fresh.ErrorMessage = ""

	if err := e.records.SaveMedia(persistCtx, fresh); err != nil {
		e.opMu.Unlock()
		logger.Error("failed to persist completion", logging.Error(err))
		return
	}
	if err := e.records.DeleteProgress(persistCtx, fresh.GlobalKey); err != nil {
		logger.Warn("failed to clear progress snapshot", logging.Error(err))
	}

	e.state.SetMedia(fresh)
	e.state.SetProgress(&media.Progress{
		GlobalKey:       fresh.GlobalKey,
		Status:          media.StatusCompleted,
		Percent:         100,
		BytesDownloaded: written,
		BytesTotal:      written,
	})
	e.opMu.Unlock()

	logger.Info("download completed",
		logging.Int64("bytes_downloaded", written),
		logging.String("file_path", dest),
	)
	if err := e.notifier.NotifyDownloadCompleted(persistCtx, displayTitle(meta)); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
}

// fail persists a failed status unless a pause or cancel beat the failure to
// the record.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, record *media.Media, meta *media.Metadata, cause error) {
	persistCtx := context.WithoutCancel(ctx)

	logger.Error("download failed", logging.Error(cause))

	e.opMu.Lock()
	fresh, err := e.records.GetMedia(persistCtx, record.GlobalKey)
	if err != nil {
		e.opMu.Unlock()
		if !errors.Is(err, records.ErrNotFound) {
			logger.Error("failed to re-read media record", logging.Error(err))
		}
		return
	}
	if fresh.Status != media.StatusDownloading && fresh.Status != media.StatusQueued {
		e.opMu.Unlock()
		return
	}

	fresh.SetFailed(cause.Error())
	if err := e.records.SaveMedia(persistCtx, fresh); err != nil {
		e.opMu.Unlock()
		logger.Error("failed to persist failure", logging.Error(err))
		return
	}
	if err := e.records.DeleteProgress(persistCtx, fresh.GlobalKey); err != nil {
		logger.Warn("failed to clear progress snapshot", logging.Error(err))
	}
	e.state.SetMedia(fresh)
	e.state.ClearProgress(fresh.GlobalKey)
	e.opMu.Unlock()

	if e.cfg.Notifications.Errors {
		title := record.GlobalKey
		if meta != nil && meta.Title != "" {
			title = displayTitle(meta)
		}
		if err := e.notifier.NotifyDownloadFailed(persistCtx, title, cause.Error()); err != nil {
			logger.Warn("failure notification failed", logging.Error(err))
		}
	}
}

func displayTitle(meta *media.Metadata) string {
	if meta.Kind == media.KindEpisode && meta.ShowTitle != "" {
		return fmt.Sprintf("%s - S%02dE%02d - %s", meta.ShowTitle, meta.SeasonNumber, meta.EpisodeNumber, meta.Title)
	}
	return meta.Title
}
