package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

var (
	// Bucket names
	bucketStats = []byte("run_stats")
	bucketMeta  = []byte("meta")

	keySchema = []byte("schema")
)

const schemaVersion = "1"

// ErrNotFound is returned when no history exists for a pair
var ErrNotFound = errors.New("no run history")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the history database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStats, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return tx.Bucket(bucketMeta).Put(keySchema, []byte(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func statsKey(key types.JobKey) []byte {
	return []byte(key.String())
}

// update applies fn to the stats of key inside one transaction
func (s *BoltStore) update(key types.JobKey, fn func(*types.RunStats)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)

		stats := types.RunStats{Target: key.Target, Class: key.Class}
		if data := b.Get(statsKey(key)); data != nil {
			if err := json.Unmarshal(data, &stats); err != nil {
				return fmt.Errorf("corrupt history for %s: %w", key, err)
			}
		}

		fn(&stats)

		data, err := json.Marshal(&stats)
		if err != nil {
			return err
		}
		return b.Put(statsKey(key), data)
	})
}

func (s *BoltStore) RecordStart(key types.JobKey, runID string, at time.Time) error {
	return s.update(key, func(st *types.RunStats) {
		st.LastStarted = at
		st.LastRunID = runID
	})
}

func (s *BoltStore) RecordFinish(key types.JobKey, runID string, outcome types.Outcome, at time.Time) error {
	return s.update(key, func(st *types.RunStats) {
		st.LastFinished = at
		st.LastOutcome = outcome
		st.TotalRuns++
		if runID != "" {
			st.LastRunID = runID
		}
		if outcome == types.OutcomeSuccess {
			st.ConsecutiveFailures = 0
			st.LastSuccess = at
		} else {
			st.ConsecutiveFailures++
		}
	})
}

func (s *BoltStore) GetStats(key types.JobKey) (*types.RunStats, error) {
	var stats types.RunStats
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(statsKey(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return json.Unmarshal(data, &stats)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListStats returns all history in key order
func (s *BoltStore) ListStats() ([]*types.RunStats, error) {
	var list []*types.RunStats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).ForEach(func(k, v []byte) error {
			var stats types.RunStats
			if err := json.Unmarshal(v, &stats); err != nil {
				return err
			}
			list = append(list, &stats)
			return nil
		})
	})
	return list, err
}

func (s *BoltStore) Stale(now time.Time, after time.Duration) ([]*types.RunStats, error) {
	all, err := s.ListStats()
	if err != nil {
		return nil, err
	}

	var stale []*types.RunStats
	for _, st := range all {
		if st.LastSuccess.IsZero() || now.Sub(st.LastSuccess) > after {
			stale = append(stale, st)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].LastSuccess.Before(stale[j].LastSuccess)
	})
	return stale, nil
}

func (s *BoltStore) DeleteStats(key types.JobKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).Delete(statsKey(key))
	})
}
