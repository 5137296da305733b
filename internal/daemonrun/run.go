package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/manager"
	"conduit/internal/store"
	"conduit/internal/worker"
)

const (
	shutdownTimeout  = 15 * time.Second
	historyRetention = 30 * 24 * time.Hour
	pruneInterval    = 6 * time.Hour
)

// ErrAlreadyRunning is returned when another process holds the role lock.
var ErrAlreadyRunning = errors.New("daemonrun: already running")

// Options configures a daemon role.
type Options struct {
	ConfigPath  string
	LogLevel    string
	Development bool
	// Logger replaces the logger built from config.
	Logger *slog.Logger
}

// process is what the manager and worker roles share: a run id, a logger,
// a lock and a pid file.
type process struct {
	role    string
	runID   string
	logger  *slog.Logger
	lock    *flock.Flock
	pidPath string
}

func startProcess(cfg *config.Config, role, lockName string, opts Options) (*process, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	p := &process{role: role, runID: uuid.NewString()}
	logger := opts.Logger
	if logger == nil {
		built, err := newLogger(cfg, role, p.runID, opts)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		logger = built
	}
	p.logger = logger

	lockPath := filepath.Join(cfg.Paths.StateDir, lockName+".lock")
	p.lock = flock.New(lockPath)
	ok, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s (lock %s)", ErrAlreadyRunning, lockName, lockPath)
	}

	p.pidPath = filepath.Join(cfg.Paths.StateDir, lockName+".pid")
	if err := writePIDFile(p.pidPath); err != nil {
		_ = p.lock.Unlock()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return p, nil
}

func newLogger(cfg *config.Config, role, runID string, opts Options) (*slog.Logger, error) {
	if cfg == nil {
		return logging.NewFromConfig(nil, role, runID)
	}
	copied := *cfg
	if opts.LogLevel != "" {
		copied.Logging.Level = opts.LogLevel
	}
	if opts.Development {
		copied.Logging.Level = "debug"
	}
	return logging.NewFromConfig(&copied, role, runID)
}

func (p *process) close() {
	_ = os.Remove(p.pidPath)
	if err := p.lock.Unlock(); err != nil {
		p.logger.Warn("failed to release lock", logging.Error(err))
	}
}

// RunManager serves the manager until the context ends or a signal arrives.
func RunManager(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := startProcess(cfg, "manager", "manager", opts)
	if err != nil {
		return err
	}
	defer p.close()
	logger := p.logger

	history, err := store.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer history.Close()

	v, err := manager.New(cfg, manager.Options{Logger: logger, Store: history})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := v.Start(signalCtx); err != nil {
		return err
	}
	logger.Info("manager running",
		logging.String("run_id", p.runID),
		logging.String("listen", v.Addr()),
		logging.String("http", v.HTTPAddr()),
		logging.String("database", cfg.DatabasePath()),
	)

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		pruneHistory(groupCtx, history, logger)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("manager shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return v.Shutdown(ctx)
	})
	return group.Wait()
}

func pruneHistory(ctx context.Context, history *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		removed, err := history.Prune(ctx, time.Now().Add(-historyRetention))
		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(logger, "history prune failed", "history_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old history rows stay in the database"),
				logging.String(logging.FieldErrorHint, "check the database under state_dir"),
			)
		} else if removed > 0 {
			logger.Info("history pruned", logging.Int64("rows", removed))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunWorker serves the worker until the context ends, a signal arrives, or
// the manager connection drops.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := startProcess(cfg, "worker", "worker-"+cfg.Worker.Name, opts)
	if err != nil {
		return err
	}
	defer p.close()
	logger := p.logger

	b, err := worker.New(cfg, worker.Options{Logger: logger, ConfigPath: opts.ConfigPath})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := b.Start(signalCtx); err != nil {
		return err
	}
	logger.Info("worker running", logging.String("run_id", p.runID))

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		select {
		case <-b.Done():
			logging.WarnWithContext(logger, "manager connection lost", "worker_manager_lost",
				logging.String("manager", cfg.Worker.Manager),
				logging.String(logging.FieldImpact, "worker stops its jobs and exits"),
				logging.String(logging.FieldErrorHint, "restart the worker once the manager is reachable"),
			)
			return errors.New("manager connection lost")
		case <-groupCtx.Done():
			return nil
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("worker shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Shutdown(ctx)
	})
	return group.Wait()
}

// RunJob runs one job process for the worker at socket.
func RunJob(cmdCtx context.Context, cfg *config.Config, socket, avatarID string, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		built, err := newLogger(cfg, "job-"+avatarID, uuid.NewString(), opts)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = built
	}
	logger.Info("job starting",
		logging.String(logging.FieldAvatarID, avatarID),
		logging.String("socket", socket),
		logging.Int("pid", os.Getpid()),
	)
	return worker.RunJob(signalCtx, worker.JobOptions{Socket: socket, AvatarID: avatarID, Logger: logger})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
