package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bueste/switchbackup/pkg/models"
)

// Schema creates the run history table
const Schema = `
CREATE TABLE IF NOT EXISTS backup_runs (
	id          UUID PRIMARY KEY,
	run_id      UUID NOT NULL,
	alias       TEXT NOT NULL,
	host        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	snapshot    TEXT NOT NULL DEFAULT '',
	pruned      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS backup_runs_alias_started_idx ON backup_runs (alias, started_at DESC);
`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the table if it does not exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: creating schema: %v", models.ErrDatabaseError, err)
	}
	return nil
}

// Append stores a run record (append-only)
func (r *PostgresRepository) Append(ctx context.Context, record *models.RunRecord) error {
	query := `
		INSERT INTO backup_runs (
			id, run_id, alias, host, outcome, error, snapshot, pruned, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.RunID,
		record.Alias,
		record.Host,
		string(record.Outcome),
		record.Error,
		record.Snapshot,
		record.Pruned,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDatabaseError, err)
	}
	return nil
}

// Recent returns the newest records, optionally for one alias
func (r *PostgresRepository) Recent(ctx context.Context, filter Filter) ([]*models.RunRecord, error) {
	query := `
		SELECT id, run_id, alias, host, outcome, error, snapshot, pruned, started_at, finished_at
		FROM backup_runs
		WHERE ($1 = '' OR alias = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, filter.Alias, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseError, err)
	}
	defer rows.Close()

	var records []*models.RunRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseError, err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*models.RunRecord, error) {
	var (
		record  models.RunRecord
		outcome string
	)
	err := row.Scan(
		&record.ID,
		&record.RunID,
		&record.Alias,
		&record.Host,
		&outcome,
		&record.Error,
		&record.Snapshot,
		&record.Pruned,
		&record.StartedAt,
		&record.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseError, err)
	}
	record.Outcome = models.Outcome(outcome)
	return &record, nil
}

// InMemoryRepository keeps records in process memory
type InMemoryRepository struct {
	mu      sync.RWMutex
	records []*models.RunRecord
	max     int
}

// NewInMemoryRepository creates a repository holding at most max records (0 means unbounded)
func NewInMemoryRepository(max int) *InMemoryRepository {
	return &InMemoryRepository{max: max}
}

// Append stores a copy of the record
func (r *InMemoryRepository) Append(ctx context.Context, record *models.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *record
	r.records = append(r.records, &cp)
	if r.max > 0 && len(r.records) > r.max {
		r.records = r.records[len(r.records)-r.max:]
	}
	return nil
}

// Recent returns the newest records, optionally for one alias
func (r *InMemoryRepository) Recent(ctx context.Context, filter Filter) ([]*models.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.RunRecord
	for _, rec := range r.records {
		if filter.Alias != "" && rec.Alias != filter.Alias {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
