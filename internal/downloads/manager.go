package downloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

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
)

// ErrAlreadyDownloaded is returned when enqueue targets a key whose media
// record is already completed.
var ErrAlreadyDownloaded = errors.New("downloads: item already downloaded")

// ErrInvalidTransition is returned when pause/resume/retry is requested from
// a status that does not allow it.
var ErrInvalidTransition = errors.New("downloads: invalid status transition")

// ErrUnknownKey is returned for operations on keys that were never enqueued.
var ErrUnknownKey = errors.New("downloads: unknown global key")

// Manager orders pending work, enforces the concurrency ceiling, and drains
// items into the executor. It is the only component that mutates the queue,
// and it hands each global key to at most one executor at a time.
type Manager struct {
	cfg      *config.Config
	records  *records.Store
	files    *filestore.Store
	source   plex.Service
	state    *state.Store
	notifier notifications.Service
	logger   *slog.Logger
	executor *Executor

	now       func() time.Time
	freeSpace func(path string) (int64, error)

	// opMu serializes every read-modify-write-persist sequence touching the
	// queue record and the per-key media records, across the manager and the
	// executor. Without it, concurrent mutators overwrite each other's queue
	// snapshots and an executor can flip a just-paused record back to
	// downloading. Lock order is always opMu before mu.
	opMu sync.Mutex

	mu         sync.Mutex
	queue      []media.QueueItem
	active     map[string]context.CancelFunc
	draining   bool
	drainAgain bool

	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier injects a notification service (used in tests).
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = notifier }
}

// WithFetcher overrides the transfer function (used in tests).
func WithFetcher(fetch FetchFunc) ManagerOption {
	return func(m *Manager) { m.executor.fetch = fetch }
}

// WithClock overrides the wall clock (used in tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
		m.executor.now = now
	}
}

// WithFreeSpace overrides the free-space probe (used in tests).
func WithFreeSpace(probe func(path string) (int64, error)) ManagerOption {
	return func(m *Manager) { m.freeSpace = probe }
}

// NewManager constructs a queue manager and its executor.
func NewManager(cfg *config.Config, recordStore *records.Store, files *filestore.Store, source plex.Service, stateStore *state.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	manager := &Manager{
		cfg:       cfg,
		records:   recordStore,
		files:     files,
		source:    source,
		state:     stateStore,
		notifier:  notifications.NewService(cfg),
		logger:    logging.NewComponentLogger(logger, "queue"),
		now:       time.Now,
		freeSpace: fileutil.FreeSpace,
		active:    make(map[string]context.CancelFunc),
	}
	manager.executor = newExecutor(cfg, recordStore, files, source, stateStore, logger)
	manager.executor.opMu = &manager.opMu
	for _, opt := range opts {
		opt(manager)
	}
	manager.executor.notifier = manager.notifier
	return manager
}

// Start loads persisted state, reconciles records interrupted by a previous
// process exit, seeds the reactive store, and begins draining.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("downloads: manager already started")
	}
	m.runCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.started = true
	m.mu.Unlock()

	if err := m.reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile persisted state: %w", err)
	}

	m.Drain()
	return nil
}

// Stop aborts in-flight transfers and waits for executors to return. Aborted
// items keep their persisted downloading status and are reconciled back to
// queued on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// reconcile restores the invariant that every non-terminal media record has a
// queue entry: items left downloading by a crash revert to queued (the
// transfer restarts from zero), and queued records whose queue entry was lost
// are re-inserted ordered by their original enqueue time. Progress snapshots
// describe transfers that no longer exist, so they are all dropped.
func (m *Manager) reconcile(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	queue, err := m.records.LoadQueue(ctx)
	if err != nil {
		return err
	}
	queued := make(map[string]struct{}, len(queue))
	for _, item := range queue {
		queued[item.GlobalKey] = struct{}{}
	}

	mediaMap, err := m.records.LoadAllMedia(ctx)
	if err != nil {
		return err
	}
	metaMap, err := m.records.LoadAllMetadata(ctx)
	if err != nil {
		return err
	}

	changed := false
	for key, record := range mediaMap {
		needsRequeue := false
		if record.Status == media.StatusDownloading {
			fresh := *record
			fresh.Status = media.StatusQueued
			if err := m.records.SaveMedia(ctx, &fresh); err != nil {
				return err
			}
			mediaMap[key] = &fresh
			record = &fresh
			needsRequeue = true
			m.logger.Info("requeued interrupted download",
				logging.String(logging.FieldGlobalKey, key),
				logging.String(logging.FieldEventType, "reconcile_requeue"),
			)
		}
		if record.Status == media.StatusQueued {
			if _, ok := queued[key]; !ok {
				queue = append(queue, m.queueItemFor(record, metaMap[key]))
				queued[key] = struct{}{}
				needsRequeue = true
			}
		}
		if needsRequeue {
			changed = true
		}
		if err := m.records.DeleteProgress(ctx, key); err != nil {
			m.logger.Warn("failed to clear stale progress snapshot",
				logging.String(logging.FieldGlobalKey, key),
				logging.Error(err),
			)
		}
	}

	sortQueue(queue)
	if changed {
		if err := m.records.SaveQueue(ctx, queue); err != nil {
			return err
		}
	}

	m.state.Bootstrap(mediaMap, metaMap)

	m.mu.Lock()
	m.queue = queue
	m.mu.Unlock()
	return nil
}

func (m *Manager) queueItemFor(record *media.Media, meta *media.Metadata) media.QueueItem {
	item := media.QueueItem{
		GlobalKey:  record.GlobalKey,
		ServerID:   record.ServerID,
		ContentID:  record.ContentID,
		Kind:       record.Kind,
		Priority:   record.EnqueuedAt.UnixMilli(),
		EnqueuedAt: record.EnqueuedAt,
	}
	if meta != nil && meta.ShowKey != "" {
		if _, grandparentID, ok := media.SplitGlobalKey(meta.ShowKey); ok {
			item.GrandparentID = grandparentID
		}
	}
	return item
}

// Enqueue validates and persists a new download request, then triggers a
// drain pass. A request whose key is already queued or in flight is a no-op;
// a key with a completed record is rejected with ErrAlreadyDownloaded.
func (m *Manager) Enqueue(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if m.source == nil {
		return services.Wrap(services.ErrConfiguration, "downloads", "enqueue", "no active media source connection", nil)
	}
	if err := m.checkFreeSpace(); err != nil {
		return err
	}

	mediaRecord, metaRecord, err := m.insert(ctx, req)
	if err != nil || mediaRecord == nil {
		return err
	}

	m.state.SetMedia(mediaRecord)
	m.state.SetMetadata(metaRecord)

	m.logger.Info("enqueued download",
		logging.String(logging.FieldGlobalKey, mediaRecord.GlobalKey),
		logging.String(logging.FieldContentKind, string(req.Kind)),
		logging.String("title", req.Title),
	)

	m.Drain()
	return nil
}

// insert persists the three enqueue records under the operation lock so
// concurrent enqueues never overwrite each other's queue snapshot. A nil
// record with a nil error means the key was already queued or in flight.
func (m *Manager) insert(ctx context.Context, req Request) (*media.Media, *media.Metadata, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	globalKey := req.GlobalKey()

	if existing, err := m.records.GetMedia(ctx, globalKey); err == nil {
		switch existing.Status {
		case media.StatusCompleted:
			return nil, nil, ErrAlreadyDownloaded
		case media.StatusQueued, media.StatusDownloading:
			return nil, nil, nil
		}
	} else if !errors.Is(err, records.ErrNotFound) {
		return nil, nil, err
	}

	now := m.now().UTC()
	queueItem := media.QueueItem{
		GlobalKey:     globalKey,
		ServerID:      req.ServerID,
		ContentID:     req.ContentID,
		Kind:          req.Kind,
		Priority:      now.UnixMilli(),
		EnqueuedAt:    now,
		ParentID:      req.ParentID,
		GrandparentID: req.GrandparentID,
	}
	mediaRecord := &media.Media{
		GlobalKey:  globalKey,
		ServerID:   req.ServerID,
		ContentID:  req.ContentID,
		Kind:       req.Kind,
		Status:     media.StatusQueued,
		EnqueuedAt: now,
	}
	metaRecord := &media.Metadata{
		GlobalKey:      globalKey,
		Kind:           req.Kind,
		Title:          req.Title,
		Year:           req.Year,
		Summary:        req.Summary,
		ImageRef:       req.ImageRef,
		ShowTitle:      req.ShowTitle,
		ShowKey:        req.showKey(),
		SeasonNumber:   req.SeasonNumber,
		EpisodeNumber:  req.EpisodeNumber,
		DurationMillis: req.DurationMillis,
	}

	m.mu.Lock()
	if _, isActive := m.active[globalKey]; isActive {
		m.mu.Unlock()
		return nil, nil, nil
	}
	for _, item := range m.queue {
		if item.GlobalKey == globalKey {
			m.mu.Unlock()
			return nil, nil, nil
		}
	}
	queue := append(append([]media.QueueItem(nil), m.queue...), queueItem)
	m.mu.Unlock()
	sortQueue(queue)

	// Write-through before any in-memory notification fires.
	if err := m.records.SaveMedia(ctx, mediaRecord); err != nil {
		return nil, nil, err
	}
	if err := m.records.SaveMetadata(ctx, metaRecord); err != nil {
		return nil, nil, err
	}
	if err := m.records.SaveQueue(ctx, queue); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.queue = queue
	m.mu.Unlock()
	return mediaRecord, metaRecord, nil
}

func (m *Manager) checkFreeSpace() error {
	minFree := m.cfg.Downloads.MinFreeMiB * 1024 * 1024
	if minFree <= 0 {
		return nil
	}
	free, err := m.freeSpace(m.files.BaseDir())
	if err != nil {
		// The probe itself failing should not block enqueue.
		m.logger.Warn("free space probe failed", logging.Error(err))
		return nil
	}
	if free < minFree {
		return services.Wrap(services.ErrResource, "downloads", "enqueue",
			fmt.Sprintf("insufficient free space: %d bytes available, %d required", free, minFree), nil)
	}
	return nil
}

// Pause aborts the in-flight transfer for key (if active), removes any queue
// entry, and flips the media record to paused.
func (m *Manager) Pause(ctx context.Context, key string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	record, err := m.loadMedia(ctx, key)
	if err != nil {
		return err
	}
	switch record.Status {
	case media.StatusQueued, media.StatusDownloading:
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, record.Status)
	}

	if err := m.detach(ctx, key); err != nil {
		return err
	}

	fresh := *record
	fresh.Status = media.StatusPaused
	if err := m.records.SaveMedia(ctx, &fresh); err != nil {
		return err
	}
	m.clearProgress(ctx, key)
	m.state.SetMedia(&fresh)
	m.logger.Info("paused download", logging.String(logging.FieldGlobalKey, key))
	return nil
}

// Resume re-inserts a paused item at the head of the queue with a fresh
// priority and flips it back to queued. Previously captured metadata is
// untouched; the transfer itself restarts from zero.
func (m *Manager) Resume(ctx context.Context, key string) error {
	m.opMu.Lock()
	record, err := m.loadMedia(ctx, key)
	if err != nil {
		m.opMu.Unlock()
		return err
	}
	if record.Status != media.StatusPaused {
		m.opMu.Unlock()
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, record.Status)
	}

	fresh := *record
	fresh.Status = media.StatusQueued
	if err := m.requeueAtHead(ctx, &fresh); err != nil {
		m.opMu.Unlock()
		return err
	}
	m.opMu.Unlock()

	m.logger.Info("resumed download", logging.String(logging.FieldGlobalKey, key))
	m.Drain()
	return nil
}

// Cancel aborts the in-flight transfer (if active), removes any queue entry,
// and flips the media record to its terminal cancelled status.
func (m *Manager) Cancel(ctx context.Context, key string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	record, err := m.loadMedia(ctx, key)
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, record.Status)
	}

	if err := m.detach(ctx, key); err != nil {
		return err
	}

	fresh := *record
	fresh.Status = media.StatusCancelled
	if err := m.records.SaveMedia(ctx, &fresh); err != nil {
		return err
	}
	m.clearProgress(ctx, key)
	m.state.SetMedia(&fresh)
	m.logger.Info("cancelled download", logging.String(logging.FieldGlobalKey, key))
	return nil
}

// Retry moves a failed item back to queued at the head of the queue: the
// retry counter increments, progress and byte counters reset, and the error
// message clears.
func (m *Manager) Retry(ctx context.Context, key string) error {
	m.opMu.Lock()
	record, err := m.loadMedia(ctx, key)
	if err != nil {
		m.opMu.Unlock()
		return err
	}
	if record.Status != media.StatusFailed {
		m.opMu.Unlock()
		return fmt.Errorf("%w: retry is only valid from failed, not %s", ErrInvalidTransition, record.Status)
	}

	fresh := *record
	fresh.ResetForRetry()
	if err := m.requeueAtHead(ctx, &fresh); err != nil {
		m.opMu.Unlock()
		return err
	}
	m.opMu.Unlock()

	m.logger.Info("retrying download",
		logging.String(logging.FieldGlobalKey, key),
		logging.Int("retry_count", fresh.RetryCount),
	)
	m.Drain()
	return nil
}

// Remove aborts any in-flight transfer, deletes local files, and erases every
// persisted record for the key. Valid from any status.
func (m *Manager) Remove(ctx context.Context, key string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	record, err := m.loadMedia(ctx, key)
	if err != nil {
		return err
	}

	if err := m.detach(ctx, key); err != nil {
		return err
	}

	if record.FilePath != "" {
		if err := m.files.RemoveMediaFile(record.FilePath); err != nil {
			m.logger.Warn("failed to remove media file",
				logging.String(logging.FieldGlobalKey, key),
				logging.Error(err),
			)
		}
	}
	m.removeArtworkIfUnshared(ctx, key)

	if err := m.records.DeleteAll(ctx, key); err != nil {
		return err
	}
	m.state.Remove(key)
	m.logger.Info("removed download", logging.String(logging.FieldGlobalKey, key))
	return nil
}

// removeArtworkIfUnshared deletes the pooled artwork file only when no other
// metadata record references the same local path.
func (m *Manager) removeArtworkIfUnshared(ctx context.Context, key string) {
	meta, err := m.records.GetMetadata(ctx, key)
	if err != nil || meta.LocalArtworkPath == "" {
		return
	}
	all, err := m.records.LoadAllMetadata(ctx)
	if err != nil {
		return
	}
	for otherKey, other := range all {
		if otherKey != key && other.LocalArtworkPath == meta.LocalArtworkPath {
			return
		}
	}
	if err := m.files.RemoveArtworkFile(meta.LocalArtworkPath); err != nil {
		m.logger.Warn("failed to remove artwork file",
			logging.String(logging.FieldGlobalKey, key),
			logging.Error(err),
		)
	}
}

// Drain is idempotent and reentrant-safe: overlapping calls collapse into a
// single pass. While slots are free and the queue is non-empty it pops the
// lowest-priority item, persists the shortened queue, and hands the item to
// the executor.
func (m *Manager) Drain() {
	m.mu.Lock()
	if m.draining {
		m.drainAgain = true
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	for {
		m.drainPass()

		m.mu.Lock()
		if !m.drainAgain {
			m.draining = false
			m.mu.Unlock()
			return
		}
		m.drainAgain = false
		m.mu.Unlock()
	}
}

func (m *Manager) drainPass() {
	for {
		m.opMu.Lock()
		m.mu.Lock()
		if !m.started || len(m.queue) == 0 || len(m.active) >= m.ceiling() {
			m.mu.Unlock()
			m.opMu.Unlock()
			return
		}

		sortQueue(m.queue)
		item := m.queue[0]
		shortened := append([]media.QueueItem(nil), m.queue[1:]...)
		runCtx := m.runCtx
		m.mu.Unlock()

		// Persist before dequeue so an abrupt exit loses only the in-memory
		// active slot, never queue order.
		if err := m.records.SaveQueue(context.WithoutCancel(runCtx), shortened); err != nil {
			m.opMu.Unlock()
			m.logger.Error("failed to persist queue before dequeue",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_persist_failed"),
			)
			return
		}

		m.mu.Lock()
		m.queue = shortened
		transferCtx, cancel := context.WithCancel(runCtx)
		m.active[item.GlobalKey] = cancel
		m.mu.Unlock()
		m.opMu.Unlock()

		m.wg.Add(1)
		go func(item media.QueueItem) {
			defer m.wg.Done()
			m.executor.Run(transferCtx, item)
			m.release(item.GlobalKey)
			m.Drain()
		}(item)
	}
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	if cancel, ok := m.active[key]; ok {
		delete(m.active, key)
		cancel()
	}
	m.mu.Unlock()
}

// detach aborts the key's transfer if active and removes any queue entry,
// persisting the shortened queue.
func (m *Manager) detach(ctx context.Context, key string) error {
	m.mu.Lock()
	if cancel, ok := m.active[key]; ok {
		cancel()
	}
	queue := make([]media.QueueItem, 0, len(m.queue))
	removed := false
	for _, item := range m.queue {
		if item.GlobalKey == key {
			removed = true
			continue
		}
		queue = append(queue, item)
	}
	m.mu.Unlock()

	if removed {
		if err := m.records.SaveQueue(ctx, queue); err != nil {
			return err
		}
		m.mu.Lock()
		m.queue = queue
		m.mu.Unlock()
	}
	return nil
}

// requeueAtHead persists the media record and inserts its queue entry ahead
// of all currently queued work with a fresh priority. Callers hold opMu.
func (m *Manager) requeueAtHead(ctx context.Context, record *media.Media) error {
	m.mu.Lock()
	priority := m.now().UnixMilli()
	for _, item := range m.queue {
		if item.Priority <= priority {
			priority = item.Priority - 1
		}
	}
	meta := m.state.Metadata(record.GlobalKey)
	item := m.queueItemFor(record, meta)
	item.Priority = priority
	queue := append([]media.QueueItem{item}, m.queue...)
	m.mu.Unlock()

	if err := m.records.SaveMedia(ctx, record); err != nil {
		return err
	}
	if err := m.records.SaveQueue(ctx, queue); err != nil {
		return err
	}

	m.mu.Lock()
	m.queue = queue
	m.mu.Unlock()

	m.clearProgress(ctx, record.GlobalKey)
	m.state.SetMedia(record)
	return nil
}

// clearProgress drops the persisted and in-memory progress snapshot for a key
// leaving the downloading state, so stale percentages never outlive it.
func (m *Manager) clearProgress(ctx context.Context, key string) {
	if err := m.records.DeleteProgress(ctx, key); err != nil {
		m.logger.Warn("failed to clear progress snapshot",
			logging.String(logging.FieldGlobalKey, key),
			logging.Error(err),
		)
	}
	m.state.ClearProgress(key)
}

func (m *Manager) loadMedia(ctx context.Context, key string) (*media.Media, error) {
	record, err := m.records.GetMedia(ctx, key)
	if errors.Is(err, records.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (m *Manager) ceiling() int {
	if n := m.cfg.Downloads.MaxConcurrent; n > 0 {
		return n
	}
	return 1
}

// QueueSnapshot returns the pending queue in drain order.
func (m *Manager) QueueSnapshot() []media.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]media.QueueItem(nil), m.queue...)
	sortQueue(out)
	return out
}

// ActiveCount returns the number of occupied concurrency slots.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func sortQueue(queue []media.QueueItem) {
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Priority != queue[j].Priority {
			return queue[i].Priority < queue[j].Priority
		}
		return queue[i].EnqueuedAt.Before(queue[j].EnqueuedAt)
	})
}
