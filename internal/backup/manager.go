package backup

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

// ApplyResult describes what happened to a device's snapshot history
type ApplyResult struct {
	Outcome  models.Outcome
	Snapshot *models.Snapshot
	Pruned   []string
}

// Manager decides whether a harvest becomes a new snapshot and applies retention
type Manager struct {
	store  *Store
	logger *zap.Logger
}

// NewManager creates a new backup manager
func NewManager(store *Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Apply stores the harvested configuration of a device.
// Content equal to the latest snapshot is skipped outright. Anything else goes through Save,
// which re-checks the full history. Retention is applied afterwards in both cases.
func (m *Manager) Apply(ctx context.Context, profile models.DeviceProfile, result *models.HarvestResult) (*ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &ApplyResult{}

	latest, err := m.store.Latest(profile.Alias)
	switch {
	case errors.Is(err, models.ErrNoBackup):
		m.logger.Info("no recent backup found", zap.String("alias", profile.Alias))
	case err != nil:
		return nil, err
	}

	if latest != nil && latest.Content == result.Content {
		m.logger.Info(profile.Host+" config has not changed",
			zap.String("alias", profile.Alias),
			zap.String("latest", latest.Name),
		)
		res.Outcome = models.OutcomeUnchanged
		res.Snapshot = latest
	} else {
		snap, err := m.store.Save(profile.Alias, result.Content)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			res.Outcome = models.OutcomeDuplicate
		} else {
			res.Outcome = models.OutcomeSaved
			res.Snapshot = snap
		}
	}

	pruned, err := m.store.Prune(profile.Alias, profile.RetentionCount)
	if err != nil {
		return res, err
	}
	res.Pruned = pruned

	return res, nil
}
