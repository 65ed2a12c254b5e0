package storage

import (
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// Store persists per (target, class) run history
type Store interface {
	// RecordStart notes that a run of key began
	RecordStart(key types.JobKey, runID string, at time.Time) error
	// RecordFinish notes the outcome of a run of key
	RecordFinish(key types.JobKey, runID string, outcome types.Outcome, at time.Time) error

	GetStats(key types.JobKey) (*types.RunStats, error)
	ListStats() ([]*types.RunStats, error)
	// Stale lists pairs that have not finished successfully within after
	Stale(now time.Time, after time.Duration) ([]*types.RunStats, error)
	DeleteStats(key types.JobKey) error

	Close() error
}
