package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"golang.org/x/sys/unix"
)

// File names inside the queue directory
const (
	PendingFile   = "SBE-queue"
	RunningFile   = "SBE-queue-run"
	CompletedFile = "SBE-done"
	LockFile      = "SBE.lock"
)

const (
	// DefaultMaxRunning is the admission limit when none is configured
	DefaultMaxRunning = 2
	// DefaultPollInterval is the admission polling interval
	DefaultPollInterval = 2 * time.Second
)

// ErrLocked is returned by Open when another process owns the queue directory
var ErrLocked = errors.New("queue directory is locked by another process")

// Options configures a Store
type Options struct {
	// MaxRunning caps concurrently RUNNING entries
	MaxRunning int
	// PollInterval is the admission polling interval
	PollInterval time.Duration
	// AdmitTimeout bounds Admit (0 = wait forever)
	AdmitTimeout time.Duration
	// Liveness decides whether entry owners still exist
	Liveness LivenessChecker
	// PID is recorded as owner of new entries (default: os.Getpid())
	PID int
	// ReadOnly opens the store without taking the directory lock.
	// Mutating calls fail on a read-only store.
	ReadOnly bool
	// Now overrides the clock for timestamps
	Now func() time.Time
}

// Store is the file-backed job queue.
//
// All mutations read, filter and rewrite the whole file. A Store assumes it
// is the only writer of its directory, which Open enforces with an
// exclusive flock. The mutex serializes the scheduler goroutine and the
// job monitor goroutines of this process.
type Store struct {
	dir  string
	opts Options

	mu       sync.Mutex
	lockFile *os.File
	closed   bool
}

// Open opens (and creates) the queue directory
func Open(dir string, opts Options) (*Store, error) {
	if opts.MaxRunning <= 0 {
		opts.MaxRunning = DefaultMaxRunning
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Liveness == nil {
		opts.Liveness = ProcessTable{}
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	s := &Store{dir: dir, opts: opts}

	if !opts.ReadOnly {
		if err := s.acquire(); err != nil {
			return nil, err
		}
	}

	for _, name := range []string{PendingFile, RunningFile, CompletedFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) && !opts.ReadOnly {
			if err := os.WriteFile(path, nil, 0644); err != nil {
				s.release()
				return nil, fmt.Errorf("failed to create %s: %w", name, err)
			}
		}
	}

	return s, nil
}

// Close releases the directory lock
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

// Dir returns the queue directory
func (s *Store) Dir() string {
	return s.dir
}

// MaxRunning returns the admission limit
func (s *Store) MaxRunning() int {
	return s.opts.MaxRunning
}

// OwnerPID returns the PID recorded as owner of new entries
func (s *Store) OwnerPID() int {
	return s.opts.PID
}

func (s *Store) acquire() error {
	path := filepath.Join(s.dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readHolder(f)
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder > 0 {
				return fmt.Errorf("%w (PID %d)", ErrLocked, holder)
			}
			return ErrLocked
		}
		return fmt.Errorf("failed to lock queue directory: %w", err)
	}

	// Holder PID is informational only
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	s.lockFile = f
	return nil
}

func (s *Store) release() error {
	if s.lockFile == nil {
		return nil
	}
	err := unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	s.lockFile.Close()
	s.lockFile = nil
	if err != nil {
		return fmt.Errorf("failed to release queue lock: %w", err)
	}
	return nil
}

func readHolder(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

func (s *Store) writable() error {
	if s.closed {
		return errors.New("queue store is closed")
	}
	if s.opts.ReadOnly {
		return errors.New("queue store is read-only")
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func stateOf(name string) types.QueueState {
	if name == RunningFile {
		return types.QueueRunning
	}
	return types.QueuePending
}

// load reads every line of a queue file; a missing file is empty
func (s *Store) load(name string) ([]line, error) {
	f, err := os.Open(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	lines, err := readLines(f, stateOf(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return lines, nil
}

// rewrite replaces a queue file through a temp file and rename
func (s *Store) rewrite(name string, lines []line) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.raw)
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) appendLine(name, raw string) error {
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.WriteString(raw + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}
