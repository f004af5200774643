package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/dori/taskgate/internal/alarm"
	"github.com/dori/taskgate/internal/api"
	"github.com/dori/taskgate/internal/backup"
	"github.com/dori/taskgate/internal/blocker"
	"github.com/dori/taskgate/internal/blockpage"
	"github.com/dori/taskgate/internal/bridge"
	"github.com/dori/taskgate/internal/config"
	"github.com/dori/taskgate/internal/db"
	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/notify"
	"github.com/dori/taskgate/internal/syncstore"
	"github.com/dori/taskgate/internal/tabs"
	"github.com/dori/taskgate/internal/telemetry"
)

// Version is reported in telemetry and by the CLI
var Version = "0.1.0"

// App holds the daemon's state and dependencies
type App struct {
	Config   *config.Config
	DB       *db.DB
	Gate     *gate.Gate
	Backups  *backup.Manager
	Alarms   *alarm.Scheduler
	Hub      *tabs.Hub
	Bridge   *bridge.Manager
	Notifier *notify.Notifier
	Metrics  *telemetry.Metrics

	log      *slog.Logger
	level    *slog.LevelVar
	autoSync *backup.AutoSync
	remote   *syncstore.SQLKV
	lockFile *flock.Flock
}

// New creates the daemon. level is adjusted when the config file changes.
func New(ctx context.Context, cfg *config.Config, level *slog.LevelVar, log *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	app := &App{
		Config:   cfg,
		Notifier: notify.NewNotifier(),
		log:      log,
		level:    level,
	}
	app.Notifier.SetEnabled(cfg.Notify.Enabled)

	// Acquire lock to ensure single instance
	if err := app.acquireLock(cfg.LockPath()); err != nil {
		return nil, err
	}

	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	metrics, err := telemetry.Setup(ctx, cfg.Telemetry.Stdout, Version)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.Metrics = metrics

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database

	a.Alarms = alarm.New(database, a.log)
	a.Hub = tabs.NewHub(blockPageURL(cfg), a.log)

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	var g *gate.Gate
	queue := blocker.NewQueue(engine, func(ctx context.Context) ([]string, error) {
		return g.BlockedDomains(ctx)
	}, metrics, a.log)

	taskFile := cfg.Bridge.TaskFile
	if taskFile == "" {
		if taskFile, err = database.GetTaskFilePath(ctx); err != nil {
			return err
		}
	}
	dial := bridge.CommandDialer(cfg.Bridge.Command, taskFile)

	a.Bridge = bridge.NewManager(dial, a, metrics, a.log.With("component", "bridge"))

	deps := gate.Deps{
		DB:       database,
		Alarms:   a.Alarms,
		Rules:    queue,
		Tabs:     a.Hub,
		Notifier: a.Notifier,
		Metrics:  metrics,
		Log:      a.log,
	}
	if dial != nil {
		deps.Tasks = a.Bridge
	}
	g = gate.New(deps)
	a.Gate = g

	var remote syncstore.ObjectStore
	if cfg.Remote.Driver != "" {
		kv, err := syncstore.OpenSQL(ctx, cfg.Remote.Driver, cfg.Remote.DSN)
		if err != nil {
			return fmt.Errorf("failed to open remote store: %w", err)
		}
		a.remote = kv
		remote = syncstore.NewChunkedStore(kv)
	}
	a.Backups = backup.New(database, remote, metrics, a.log.With("component", "backup"))
	if remote != nil {
		a.autoSync = backup.NewAutoSync(a.Backups, backup.AutoSyncDelay, a.log)
		database.OnChange(a.autoSync.OnChange)
	}
	return nil
}

// Tasks serves task list reads from the task source
func (a *App) Tasks(ctx context.Context) ([]model.Task, error) {
	return a.Gate.Tasks(ctx)
}

// ApplyExternalTasks stores a task list edited in the task source
func (a *App) ApplyExternalTasks(ctx context.Context, tasks []model.Task) error {
	return a.Gate.ApplyExternalTasks(ctx, tasks)
}

func newEngine(cfg *config.Config) (blocker.Engine, error) {
	switch cfg.Block.Engine {
	case "hosts", "":
		return blocker.NewHostsFile(cfg.Block.HostsFile, cfg.Block.Address, cfg.Block.Subdomains...), nil
	case "none", "memory":
		return blocker.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown block engine %q", cfg.Block.Engine)
	}
}

func blockPageURL(cfg *config.Config) string {
	return "http://" + cfg.Block.Listen + blockpage.Path
}

// Run recovers the lock state and serves until ctx ends or a server fails
func (a *App) Run(ctx context.Context, loader *config.Loader) error {
	if err := a.Alarms.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore alarms: %w", err)
	}
	if err := a.Gate.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover lock state: %w", err)
	}

	if loader != nil {
		loader.Watch(a.reconfigure)
	}

	group, ctx := errgroup.WithContext(ctx)

	controlAPI := api.NewServer(a.Gate, a.Backups, a.Hub, a.log.With("component", "api"))
	group.Go(func() error {
		return controlAPI.Run(ctx, a.Config.Listen)
	})

	page := blockpage.New(a.Gate, a.log.With("component", "blockpage"))
	group.Go(func() error {
		return page.Run(ctx, a.Config.Block.Listen)
	})

	group.Go(func() error {
		return a.Bridge.Run(ctx)
	})

	group.Go(func() error {
		return a.handleAlarms(ctx)
	})

	a.log.Info("Daemon started", "listen", a.Config.Listen, "block_listen", a.Config.Block.Listen)
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) handleAlarms(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-a.Alarms.Fired():
			if err := a.Gate.HandleAlarm(ctx, name); err != nil {
				a.log.Error("Alarm handler failed", "alarm", name, "error", err)
			}
		}
	}
}

// reconfigure applies the settings that can change without a restart
func (a *App) reconfigure(cfg *config.Config, err error) {
	if err != nil {
		a.log.Warn("Ignoring invalid config change", "error", err)
		return
	}
	a.level.Set(config.ParseLevel(cfg.Log.Level))
	a.Notifier.SetEnabled(cfg.Notify.Enabled)
	a.log.Info("Config reloaded", "level", cfg.Log.Level, "notify", cfg.Notify.Enabled)
}

// acquireLock acquires an exclusive file lock to prevent multiple instances
func (a *App) acquireLock(lockPath string) error {
	a.lockFile = flock.New(lockPath)

	locked, err := a.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("another instance of taskgate is already running")
	}

	return nil
}

// releaseLock releases the file lock
func (a *App) releaseLock() {
	if a.lockFile != nil {
		a.lockFile.Unlock()
	}
}

// Close cleans up application resources
func (a *App) Close() error {
	var errs []error

	if a.autoSync != nil {
		a.autoSync.Stop()
	}
	if a.Bridge != nil {
		a.Bridge.Close()
	}
	if a.Alarms != nil {
		a.Alarms.Stop()
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close remote store: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush metrics: %w", err))
		}
	}

	a.releaseLock()

	return errors.Join(errs...)
}
