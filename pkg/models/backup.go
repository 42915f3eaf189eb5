package models

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is one stored, timestamped copy of a device's configuration.
// Identity is (Alias, Timestamp).
type Snapshot struct {
	Alias     string    `json:"alias"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Content   string    `json:"content,omitempty"`
}

// HarvestResult is the sanitized configuration text produced by one successful harvest
type HarvestResult struct {
	Alias      string        `json:"alias"`
	Content    string        `json:"content"`
	Chunks     int           `json:"chunks"`
	PacingSent int           `json:"pacing_sent"`
	RawBytes   int           `json:"raw_bytes"`
	Duration   time.Duration `json:"duration"`
}

// Outcome represents how a device's pass ended
type Outcome string

const (
	OutcomeSaved         Outcome = "saved"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeConnectFailed Outcome = "connect_failed"
	OutcomeHarvestFailed Outcome = "harvest_failed"
	OutcomeStoreFailed   Outcome = "store_failed"
)

// IsFailure returns true for outcomes that skipped the device
func (o Outcome) IsFailure() bool {
	switch o {
	case OutcomeConnectFailed, OutcomeHarvestFailed, OutcomeStoreFailed:
		return true
	}
	return false
}

// RunRecord records the result of one device's pass within a run
type RunRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RunID      uuid.UUID `json:"run_id" db:"run_id"`
	Alias      string    `json:"alias" db:"alias"`
	Host       string    `json:"host" db:"host"`
	Outcome    Outcome   `json:"outcome" db:"outcome"`
	Error      string    `json:"error,omitempty" db:"error"`
	Snapshot   string    `json:"snapshot,omitempty" db:"snapshot"`
	Pruned     int       `json:"pruned" db:"pruned"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// NewRunRecord creates a record for a device pass that starts now
func NewRunRecord(runID uuid.UUID, device DeviceProfile) *RunRecord {
	return &RunRecord{
		ID:        uuid.New(),
		RunID:     runID,
		Alias:     device.Alias,
		Host:      device.Host,
		StartedAt: time.Now().UTC(),
	}
}

// Finish stamps the record with its outcome
func (r *RunRecord) Finish(outcome Outcome, err error) {
	r.Outcome = outcome
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = time.Now().UTC()
}

// Duration returns how long the device pass took
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
