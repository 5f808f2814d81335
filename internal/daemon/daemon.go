package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"flixor/internal/api"
	"flixor/internal/config"
	"flixor/internal/downloads"
	"flixor/internal/filestore"
	"flixor/internal/kvstore"
	"flixor/internal/logging"
	"flixor/internal/notifications"
	"flixor/internal/offline"
	"flixor/internal/records"
	"flixor/internal/services/plex"
	"flixor/internal/state"
)

// Daemon owns the long-running download pipeline: the persisted record store,
// the queue manager, the reactive state store, and the local control API. It
// enforces single-instance execution with a flock lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	kv      *kvstore.Store
	records *records.Store
	state   *state.Store
	manager *downloads.Manager
	server  *api.Server
	offline *offline.Accessor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status reports daemon runtime information.
type Status struct {
	Running         bool   `json:"running"`
	ActiveDownloads int    `json:"active_downloads"`
	QueuedDownloads int    `json:"queued_downloads"`
	StateDBPath     string `json:"state_db_path"`
	LockFilePath    string `json:"lock_file_path"`
	APIBind         string `json:"api_bind"`
}

// New constructs a daemon with all pipeline dependencies wired. The media
// source client is built from configuration; construction fails when no
// server connection is configured.
func New(cfg *config.Config, logger *slog.Logger, opts ...downloads.ManagerOption) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	source, err := plex.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	kv, err := kvstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	recordStore := records.New(kv)
	stateStore := state.NewStore()
	files := filestore.New(cfg)

	managerOpts := append([]downloads.ManagerOption{
		downloads.WithNotifier(notifications.NewService(cfg)),
	}, opts...)
	manager := downloads.NewManager(cfg, recordStore, files, source, stateStore, logger, managerOpts...)
	offlineAccessor := offline.New(recordStore, stateStore)

	lockPath := filepath.Join(cfg.Paths.LogDir, "flixord.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		kv:       kv,
		records:  recordStore,
		state:    stateStore,
		manager:  manager,
		server:   api.NewServer(cfg, manager, stateStore, offlineAccessor, logger),
		offline:  offlineAccessor,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, restores persisted state, and launches
// the queue manager and control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another flixor daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start download manager: %w", err)
	}
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.ListenAndServe(runCtx); err != nil {
			d.logger.Error("control api terminated", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("flixor daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.cfg.Paths.APIBind),
	)
	return nil
}

// Stop halts the pipeline and releases the instance lock. In-flight
// transfers are aborted; their records are reconciled on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("flixor daemon stopped")
}

// Close stops the daemon and releases the underlying database.
func (d *Daemon) Close() error {
	d.Stop()
	if d.kv != nil {
		return d.kv.Close()
	}
	return nil
}

// Manager exposes the queue manager for command-line operations.
func (d *Daemon) Manager() *downloads.Manager {
	return d.manager
}

// State exposes the reactive store for read-only consumers.
func (d *Daemon) State() *state.Store {
	return d.state
}

// Offline exposes the offline accessor.
func (d *Daemon) Offline() *offline.Accessor {
	return d.offline
}

// TestNotification sends a test push using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:         d.running.Load(),
		ActiveDownloads: d.manager.ActiveCount(),
		QueuedDownloads: len(d.manager.QueueSnapshot()),
		StateDBPath:     filepath.Join(d.cfg.Paths.StateDir, "state.db"),
		LockFilePath:    d.lockPath,
		APIBind:         d.cfg.Paths.APIBind,
	}
}
