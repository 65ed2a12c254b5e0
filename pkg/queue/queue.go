package queue

import (
	"context"
	"fmt"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/retry"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// TryEnqueue adds a PENDING entry for (target, class) owned by this process.
// It returns false without enqueueing when a live PENDING or RUNNING entry
// for the pair already exists. Dead entries met during the scan are purged.
func (s *Store) TryEnqueue(target string, class types.JobClass) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return false, err
	}

	key := types.JobKey{Target: target, Class: class}
	duplicate := false

	for _, name := range []string{PendingFile, RunningFile} {
		lines, err := s.load(name)
		if err != nil {
			return false, err
		}

		kept := lines[:0]
		purged := false
		for _, l := range lines {
			if !l.valid {
				kept = append(kept, l)
				continue
			}
			if !s.opts.Liveness.Alive(l.entry.PID) {
				purged = true
				continue
			}
			if l.entry.Key() == key {
				duplicate = true
			}
			kept = append(kept, l)
		}

		if purged {
			if err := s.rewrite(name, kept); err != nil {
				return false, err
			}
		}
	}

	if duplicate {
		return false, nil
	}

	entry := types.QueueEntry{
		PID:        s.opts.PID,
		EnqueuedAt: s.opts.Now(),
		Target:     target,
		Class:      class,
		State:      types.QueuePending,
	}
	if err := s.appendLine(PendingFile, formatEntry(entry)); err != nil {
		return false, err
	}
	return true, nil
}

// Admit blocks until fewer than MaxRunning live entries are RUNNING, then
// moves the (target, class) entry from PENDING to RUNNING. It polls every
// PollInterval. Without an AdmitTimeout it waits until ctx is done; on
// cancellation or timeout the PENDING entry is retracted.
func (s *Store) Admit(ctx context.Context, target string, class types.JobClass) error {
	key := types.JobKey{Target: target, Class: class}
	policy := retry.Policy{Interval: s.opts.PollInterval, Timeout: s.opts.AdmitTimeout}

	err := retry.Until(ctx, policy, func() (bool, error) {
		return s.tryPromote(key)
	})
	if err != nil {
		if rerr := s.Retract(target, class); rerr != nil {
			return fmt.Errorf("admission of %s aborted: %v (retract failed: %v)", key, err, rerr)
		}
		return fmt.Errorf("admission of %s aborted: %w", key, err)
	}
	return nil
}

func (s *Store) tryPromote(key types.JobKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return false, err
	}

	running, err := s.load(RunningFile)
	if err != nil {
		return false, err
	}
	live := 0
	for _, l := range running {
		if l.valid && s.opts.Liveness.Alive(l.entry.PID) {
			live++
		}
	}
	if live >= s.opts.MaxRunning {
		return false, nil
	}

	if err := s.removeMatching(PendingFile, func(e types.QueueEntry) bool {
		return e.Key() == key
	}); err != nil {
		return false, err
	}

	entry := types.QueueEntry{
		PID:        s.opts.PID,
		EnqueuedAt: s.opts.Now(),
		Target:     key.Target,
		Class:      key.Class,
		State:      types.QueueRunning,
	}
	if err := s.appendLine(RunningFile, formatEntry(entry)); err != nil {
		return false, err
	}
	return true, nil
}

// MarkStarted re-keys the RUNNING entry of (target, class) to the worker
// PID, so Complete can match the PID the monitor observes.
func (s *Store) MarkStarted(target string, class types.JobClass, workerPID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	key := types.JobKey{Target: target, Class: class}
	lines, err := s.load(RunningFile)
	if err != nil {
		return err
	}

	found := false
	for i, l := range lines {
		if !l.valid || l.entry.Key() != key || l.entry.PID != s.opts.PID {
			continue
		}
		e := l.entry
		e.PID = workerPID
		lines[i] = line{raw: formatEntry(e), entry: e, valid: true}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("no running entry for %s", key)
	}
	return s.rewrite(RunningFile, lines)
}

// Complete removes the RUNNING entry owned by pid and appends a completion
// record. Entries owned by the store's own PID are also matched on (target,
// class), as several of them may be RUNNING at once.
func (s *Store) Complete(pid int, target string, class types.JobClass, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	key := types.JobKey{Target: target, Class: class}
	if err := s.removeMatching(RunningFile, func(e types.QueueEntry) bool {
		return e.PID == pid && (pid != s.opts.PID || e.Key() == key)
	}); err != nil {
		return err
	}

	record := types.CompletionRecord{
		PID:        pid,
		FinishedAt: s.opts.Now(),
		Target:     target,
		Class:      class,
		Outcome:    types.OutcomeOf(success),
	}
	return s.appendLine(CompletedFile, formatCompletion(record))
}

// Retract drops every PENDING and RUNNING entry of (target, class)
func (s *Store) Retract(target string, class types.JobClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	key := types.JobKey{Target: target, Class: class}
	match := func(e types.QueueEntry) bool { return e.Key() == key }
	if err := s.removeMatching(PendingFile, match); err != nil {
		return err
	}
	return s.removeMatching(RunningFile, match)
}

// ClearRunning empties the RUNNING store. PIDs are not comparable across
// restarts, so entries left by a previous scheduler are stale.
func (s *Store) ClearRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	return s.rewrite(RunningFile, nil)
}

// CleanReport counts the entries removed by Clean
type CleanReport struct {
	Pending int
	Running int
}

// Clean removes PENDING and RUNNING entries whose owner no longer exists
func (s *Store) Clean() (CleanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var report CleanReport
	if err := s.writable(); err != nil {
		return report, err
	}

	for _, name := range []string{PendingFile, RunningFile} {
		lines, err := s.load(name)
		if err != nil {
			return report, err
		}
		kept := lines[:0]
		removed := 0
		for _, l := range lines {
			if l.valid && !s.opts.Liveness.Alive(l.entry.PID) {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		if removed == 0 {
			continue
		}
		if err := s.rewrite(name, kept); err != nil {
			return report, err
		}
		if name == PendingFile {
			report.Pending = removed
		} else {
			report.Running = removed
		}
	}
	return report, nil
}

// Pending returns the parseable PENDING entries
func (s *Store) Pending() ([]types.QueueEntry, error) {
	return s.entries(PendingFile)
}

// Running returns the parseable RUNNING entries
func (s *Store) Running() ([]types.QueueEntry, error) {
	return s.entries(RunningFile)
}

// Alive reports whether the owner of an entry still exists
func (s *Store) Alive(e types.QueueEntry) bool {
	return s.opts.Liveness.Alive(e.PID)
}

// Completed returns the last n completion records, oldest first (n <= 0 returns all)
func (s *Store) Completed(n int) ([]types.CompletionRecord, error) {
	s.mu.Lock()
	lines, err := s.load(CompletedFile)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var records []types.CompletionRecord
	for _, l := range lines {
		if !l.valid {
			continue
		}
		records = append(records, types.CompletionRecord{
			PID:        l.entry.PID,
			FinishedAt: l.entry.EnqueuedAt,
			Target:     l.entry.Target,
			Class:      l.entry.Class,
			Outcome:    l.outcome,
		})
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (s *Store) entries(name string) ([]types.QueueEntry, error) {
	s.mu.Lock()
	lines, err := s.load(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var entries []types.QueueEntry
	for _, l := range lines {
		if l.valid {
			entries = append(entries, l.entry)
		}
	}
	return entries, nil
}

// removeMatching rewrites a file without the entries matched by fn.
// Callers hold s.mu.
func (s *Store) removeMatching(name string, fn func(types.QueueEntry) bool) error {
	lines, err := s.load(name)
	if err != nil {
		return err
	}
	kept := lines[:0]
	removed := false
	for _, l := range lines {
		if l.valid && fn(l.entry) {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	if !removed {
		return nil
	}
	return s.rewrite(name, kept)
}
