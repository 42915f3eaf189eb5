package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/audit"
	"github.com/bueste/switchbackup/internal/backup"
	"github.com/bueste/switchbackup/internal/harvest"
	"github.com/bueste/switchbackup/internal/inventory"
	"github.com/bueste/switchbackup/internal/logging"
	"github.com/bueste/switchbackup/internal/metrics"
	"github.com/bueste/switchbackup/internal/notify"
	"github.com/bueste/switchbackup/internal/runner"
	"github.com/bueste/switchbackup/internal/transport"
	"github.com/bueste/switchbackup/pkg/models"
)

// app holds the wired components of one process
type app struct {
	config  *Config
	logger  *zap.Logger
	loader  *inventory.Loader
	devices *deviceSource
	store   *backup.Store
	history *audit.Service
	metrics *metrics.Metrics
	runner  *runner.Runner

	closers []func()
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	logger, closeLog, err := logging.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFatalConfig, err)
	}

	a := &app{
		config:  cfg,
		logger:  logger,
		loader:  inventory.NewLoader(logger),
		metrics: metrics.New(),
		closers: []func(){closeLog},
	}
	a.devices = &deviceSource{loader: a.loader, path: cfg.DevicesFile}

	dialer, err := transport.NewSSHDialer(logger, &cfg.SSH)
	if err != nil {
		a.Close()
		return nil, err
	}
	harvester, err := harvest.NewHarvester(logger, &cfg.Harvest)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = backup.NewStore(afero.NewOsFs(), logger, cfg.Backup.Root)
	a.history = audit.NewService(a.openHistory(ctx), logger)

	a.runner = runner.NewRunner(
		dialer,
		harvester,
		backup.NewManager(a.store, logger),
		a.openNotifier(),
		a.history,
		a.metrics,
		logger,
		cfg.RunnerConfig(),
	)
	return a, nil
}

// openNotifier returns nil when the relay settings cannot be read; failures are then only logged
func (a *app) openNotifier() notify.Notifier {
	relay, err := a.loader.LoadNotificationConfig(a.config.SMTPFile)
	if err != nil {
		a.logger.Warn("notification config unavailable, failure emails disabled", zap.Error(err))
		return nil
	}
	return notify.NewSMTPNotifier(relay, a.logger, &a.config.SMTP)
}

// openHistory uses Postgres when a database URL is configured and falls back to memory otherwise
func (a *app) openHistory(ctx context.Context) audit.Repository {
	dbCfg := a.config.Audit.Database
	if dbCfg.URL == "" {
		return audit.NewInMemoryRepository(a.config.Audit.MaxInMemory)
	}

	repo, err := openPostgres(ctx, dbCfg)
	if err != nil {
		a.logger.Warn("run history database unavailable, keeping history in memory", zap.Error(err))
		return audit.NewInMemoryRepository(a.config.Audit.MaxInMemory)
	}
	a.closers = append(a.closers, repo.pool.Close)
	return repo
}

type postgresHistory struct {
	*audit.PostgresRepository
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg DatabaseConfig) (*postgresHistory, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := audit.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresHistory{PostgresRepository: repo, pool: pool}, nil
}

// runOnce loads the device list and backs up every device.
// Only an unreadable device list is returned as an error.
func (a *app) runOnce(ctx context.Context) (*runner.RunSummary, error) {
	devices, err := a.devices.Reload()
	if err != nil {
		a.logger.Error("unable to read device list", zap.Error(err))
		return nil, err
	}

	summary, err := a.runner.Run(ctx, devices)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, nil
}

// Close releases the process resources in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// deviceSource keeps the most recently loaded device list for the HTTP API
type deviceSource struct {
	loader *inventory.Loader
	path   string

	mu      sync.RWMutex
	devices []models.DeviceProfile
}

// Reload reads the device file again and caches the result
func (s *deviceSource) Reload() ([]models.DeviceProfile, error) {
	devices, err := s.loader.LoadDevices(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	return devices, nil
}

// ListDevices returns the cached device list
func (s *deviceSource) ListDevices() ([]models.DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices, nil
}
