// Package audit keeps the history of backup runs.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

const defaultLimit = 100

// Repository stores run records
type Repository interface {
	Append(ctx context.Context, record *models.RunRecord) error
	Recent(ctx context.Context, filter Filter) ([]*models.RunRecord, error)
}

// Filter selects run records
type Filter struct {
	Alias string
	Limit int
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultLimit
	}
	return f.Limit
}

// Service records device passes. Recording never fails a run.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new audit service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Record stores the record, logging instead of returning storage errors
func (s *Service) Record(ctx context.Context, record *models.RunRecord) {
	if err := s.repo.Append(ctx, record); err != nil {
		s.logger.Error("failed to record run",
			zap.String("run_id", record.RunID.String()),
			zap.String("alias", record.Alias),
			zap.Error(err),
		)
	}
}

// Recent returns the newest run records
func (s *Service) Recent(ctx context.Context, filter Filter) ([]*models.RunRecord, error) {
	return s.repo.Recent(ctx, filter)
}
