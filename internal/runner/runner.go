// Package runner walks the device list once, one device at a time.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/audit"
	"github.com/bueste/switchbackup/internal/backup"
	"github.com/bueste/switchbackup/internal/metrics"
	"github.com/bueste/switchbackup/internal/notify"
	"github.com/bueste/switchbackup/internal/transport"
	"github.com/bueste/switchbackup/pkg/models"
)

// Notification policies
const (
	NotifyOnConnect = "connect" // connection failures only
	NotifyOnAll     = "all"     // any failed device pass
)

// Harvester pages a device's configuration out of an open session
type Harvester interface {
	Harvest(ctx context.Context, session transport.Session, profile models.DeviceProfile) (*models.HarvestResult, error)
}

// Applier stores a harvest and applies retention
type Applier interface {
	Apply(ctx context.Context, profile models.DeviceProfile, result *models.HarvestResult) (*backup.ApplyResult, error)
}

// Config contains runner configuration
type Config struct {
	NotifyOn        string `mapstructure:"notify_on"`
	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

// DefaultConfig returns default runner configuration
func DefaultConfig() *Config {
	return &Config{NotifyOn: NotifyOnConnect}
}

// RunSummary is the result of one pass over all devices
type RunSummary struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []*models.RunRecord
	// Err combines the per-device failures; it never aborts the run.
	Err error
}

// Counts returns the number of devices per outcome
func (s *RunSummary) Counts() map[models.Outcome]int {
	counts := make(map[models.Outcome]int)
	for _, r := range s.Records {
		counts[r.Outcome]++
	}
	return counts
}

// Failed returns the number of devices skipped because of an error
func (s *RunSummary) Failed() int {
	n := 0
	for _, r := range s.Records {
		if r.Outcome.IsFailure() {
			n++
		}
	}
	return n
}

// Runner processes devices strictly sequentially
type Runner struct {
	dialer    transport.Dialer
	harvester Harvester
	applier   Applier
	notifier  notify.Notifier
	history   *audit.Service
	metrics   *metrics.Metrics
	config    *Config
	logger    *zap.Logger
}

// NewRunner creates a new runner. notifier, history and m may be nil.
func NewRunner(
	dialer transport.Dialer,
	harvester Harvester,
	applier Applier,
	notifier notify.Notifier,
	history *audit.Service,
	m *metrics.Metrics,
	logger *zap.Logger,
	config *Config,
) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Runner{
		dialer:    dialer,
		harvester: harvester,
		applier:   applier,
		notifier:  notifier,
		history:   history,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

// Run backs up every device in order. Device failures are collected in the summary;
// the returned error is non-nil only when ctx is cancelled between devices.
func (r *Runner) Run(ctx context.Context, devices []models.DeviceProfile) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With(zap.String("run_id", summary.RunID.String()))
	logger.Info("backup run started", zap.Int("devices", len(devices)))

	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			logger.Warn("backup run interrupted", zap.Error(err))
			summary.FinishedAt = time.Now().UTC()
			return summary, err
		}

		record, err := r.processDevice(ctx, logger, summary.RunID, device)
		summary.Records = append(summary.Records, record)
		summary.Err = multierr.Append(summary.Err, err)

		if r.history != nil {
			r.history.Record(ctx, record)
		}
		if r.metrics != nil {
			r.metrics.ObserveDevice(device.Alias, record.Outcome, record.Pruned, record.FinishedAt)
		}
	}

	summary.FinishedAt = time.Now().UTC()
	r.finishRun(logger, summary)
	return summary, nil
}

func (r *Runner) finishRun(logger *zap.Logger, summary *RunSummary) {
	counts := summary.Counts()
	logger.Info("backup run finished",
		zap.Int("saved", counts[models.OutcomeSaved]),
		zap.Int("unchanged", counts[models.OutcomeUnchanged]+counts[models.OutcomeDuplicate]),
		zap.Int("failed", summary.Failed()),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	if r.metrics == nil {
		return
	}
	r.metrics.ObserveRun()
	if r.config.MetricsTextfile != "" {
		if err := r.metrics.WriteTextfile(r.config.MetricsTextfile); err != nil {
			logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
}

// processDevice runs one device pass. The session is closed before the store is touched.
func (r *Runner) processDevice(ctx context.Context, logger *zap.Logger, runID uuid.UUID, device models.DeviceProfile) (*models.RunRecord, error) {
	record := models.NewRunRecord(runID, device)
	logger = logger.With(zap.String("alias", device.Alias), zap.String("host", device.Host))

	result, outcome, err := r.harvest(ctx, logger, device)
	if err != nil {
		record.Finish(outcome, err)
		r.notify(ctx, logger, device, outcome, err)
		return record, err
	}

	applied, err := r.applier.Apply(ctx, device, result)
	if applied != nil && applied.Snapshot != nil {
		record.Snapshot = applied.Snapshot.Name
	}
	if err != nil {
		err = models.NewBackupError(device.Alias, "store", err)
		logger.Error("failed to store backup", zap.Error(err))
		record.Finish(models.OutcomeStoreFailed, err)
		r.notify(ctx, logger, device, models.OutcomeStoreFailed, err)
		return record, err
	}

	record.Pruned = len(applied.Pruned)
	record.Finish(applied.Outcome, nil)
	return record, nil
}

func (r *Runner) harvest(ctx context.Context, logger *zap.Logger, device models.DeviceProfile) (*models.HarvestResult, models.Outcome, error) {
	session, err := r.dialer.Open(ctx, device)
	if err != nil {
		err = models.NewBackupError(device.Alias, "connect", err)
		logger.Error("unable to establish SSH connection", zap.Error(err))
		return nil, models.OutcomeConnectFailed, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("failed to close session", zap.Error(cerr))
		}
	}()

	result, err := r.harvester.Harvest(ctx, session, device)
	if err != nil {
		err = models.NewBackupError(device.Alias, "harvest", err)
		logger.Error("failed to harvest configuration", zap.Error(err))
		return nil, models.OutcomeHarvestFailed, err
	}

	if r.metrics != nil {
		r.metrics.ObserveHarvest(result.Duration)
	}
	return result, "", nil
}

func (r *Runner) notify(ctx context.Context, logger *zap.Logger, device models.DeviceProfile, outcome models.Outcome, cause error) {
	if outcome != models.OutcomeConnectFailed && r.config.NotifyOn != NotifyOnAll {
		return
	}
	if r.notifier == nil {
		logger.Warn("no notifier configured, alert not sent")
		return
	}

	logger.Info("sending failure notification", zap.String("outcome", string(outcome)))
	err := r.notifier.Notify(ctx, notify.Alert{
		Device:  device,
		Outcome: outcome,
		Cause:   cause,
		Time:    time.Now(),
	})
	if err != nil {
		logger.Error("failed to send notification", zap.Error(err))
	}
}
