package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/notify"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

// Queue is the admission control the supervisor drives
type Queue interface {
	TryEnqueue(target string, class types.JobClass) (bool, error)
	Admit(ctx context.Context, target string, class types.JobClass) error
	MarkStarted(target string, class types.JobClass, workerPID int) error
	Complete(pid int, target string, class types.JobClass, success bool) error
	Retract(target string, class types.JobClass) error
	// OwnerPID is the PID entries carry until MarkStarted re-keys them
	OwnerPID() int
}

// History records run statistics
type History interface {
	RecordStart(key types.JobKey, runID string, at time.Time) error
	RecordFinish(key types.JobKey, runID string, outcome types.Outcome, at time.Time) error
}

// Volumes mounts target volumes around a worker run
type Volumes interface {
	Mount(ctx context.Context, target string) (volume.Result, error)
	Unmount(ctx context.Context, target string) error
	InitializeLayout(ctx context.Context, target string) error
}

// Config configures a Supervisor
type Config struct {
	// BackupDir holds one directory per target
	BackupDir string
	// WorkerPath is the sbe-worker binary
	WorkerPath string
	// WorkerArgs are placed before the job arguments
	WorkerArgs []string

	Queue    Queue
	Notifier notify.Notifier
	// History is optional
	History History
	// Volumes is optional; when set the volume is mounted before the worker
	// starts and unmounted after the last worker of the target exits
	Volumes Volumes
}

// Supervisor launches backup workers and reaps them
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight int

	volMu   sync.Mutex
	holders map[string]*holder
}

// holder counts the workers using a mounted volume
type holder struct {
	refs    int
	mounted bool
}

// New creates a supervisor
func New(cfg Config) *Supervisor {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogger()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  log.WithComponent("supervisor"),
		holders: make(map[string]*holder),
	}
}

// Run takes job through admission and starts its worker. It returns once
// the worker is running; a monitor goroutine reaps it. A duplicate job
// returns nil without doing anything.
func (s *Supervisor) Run(ctx context.Context, job types.JobDefinition) error {
	logger := log.WithTarget(job.Target).With().Str("class", string(job.Class)).Logger()

	dir := filepath.Join(s.cfg.BackupDir, job.Target)
	if _, err := os.Stat(dir); err != nil {
		err = errdefs.ResourceUnavailablef("backup directory %s doesn't exist", dir)
		logger.Error().Err(err).Msg("Cannot run backup")
		notify.Send(ctx, s.cfg.Notifier, "Backup error for "+job.Target, err.Error())
		return err
	}

	ok, err := s.cfg.Queue.TryEnqueue(job.Target, job.Class)
	if err != nil {
		return unavailable(fmt.Errorf("failed to enqueue %s: %w", job.Key(), err))
	}
	if !ok {
		metrics.DuplicatesSuppressed.Inc()
		logger.Info().Msg("Backup already queued, duplicate suppressed")
		return nil
	}

	wait := metrics.NewTimer()
	if err := s.cfg.Queue.Admit(ctx, job.Target, job.Class); err != nil {
		return unavailable(err)
	}
	wait.ObserveDuration(metrics.AdmissionWait)

	runID := uuid.NewString()
	logger = log.WithJob(job.Target, string(job.Class), runID)

	if err := s.acquireVolume(ctx, job.Target); err != nil {
		err = unavailable(err)
		logger.Error().Err(err).Msg("Volume unavailable")
		s.abort(ctx, job, runID, "Backup error for "+job.Target, "Volume unavailable: "+errdefs.Message(err))
		return err
	}

	cmd := exec.Command(s.cfg.WorkerPath, s.workerArgs(job)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		err = errdefs.ExternalTool(s.cfg.WorkerPath, err, "")
		logger.Error().Err(err).Msg("Error starting backup")
		s.releaseVolume(job.Target)
		s.abort(ctx, job, runID, "Backup error for "+job.Target, "Error starting backup: "+err.Error())
		return err
	}

	pid := cmd.Process.Pid
	owner := pid
	if err := s.cfg.Queue.MarkStarted(job.Target, job.Class, pid); err != nil {
		// the RUNNING entry still carries the queue owner PID
		owner = s.cfg.Queue.OwnerPID()
		logger.Warn().Err(err).Int("pid", pid).Msg("Failed to record worker PID")
	}
	s.recordStart(job, runID)

	metrics.JobsStarted.WithLabelValues(string(job.Class)).Inc()
	s.track(1)
	logger.Info().Int("pid", pid).Msg("Backup started")

	s.wg.Add(1)
	go s.monitor(cmd, owner, job, runID, &stdout, &stderr)
	return nil
}

// unavailable marks a failure past enqueueing as affecting only this job
func unavailable(err error) error {
	if errdefs.IsConfiguration(err) || errdefs.IsResourceUnavailable(err) ||
		errdefs.IsExternalTool(err) || errdefs.IsCollision(err) {
		return err
	}
	return errdefs.ResourceUnavailable(err)
}

// monitor waits for the worker and records its outcome against the RUNNING
// entry owned by owner
func (s *Supervisor) monitor(cmd *exec.Cmd, owner int, job types.JobDefinition, runID string, stdout, stderr *bytes.Buffer) {
	defer s.wg.Done()
	defer s.track(-1)

	logger := log.WithJob(job.Target, string(job.Class), runID)
	timer := metrics.NewTimer()

	waitErr := cmd.Wait()
	timer.ObserveDurationVec(metrics.JobDuration, string(job.Class))
	success := waitErr == nil

	if err := s.cfg.Queue.Complete(owner, job.Target, job.Class, success); err != nil {
		logger.Error().Err(err).Int("pid", owner).Msg("Failed to record completion")
	}
	s.recordFinish(job, runID, success)
	s.releaseVolume(job.Target)

	outcome := types.OutcomeOf(success)
	metrics.JobsCompleted.WithLabelValues(string(job.Class), string(outcome)).Inc()

	if success {
		logger.Info().Dur("duration", timer.Duration()).Msg("Backup completed successfully")
		logger.Debug().Str("stdout", stdout.String()).Msg("Backup output")
		return
	}

	code := exitCode(waitErr)
	logger.Error().Int("exit_code", code).Str("stderr", stderr.String()).Msg("Backup failed")
	notify.Send(context.Background(), s.cfg.Notifier,
		"Backup failed for "+job.Target,
		fmt.Sprintf("Return code: %d\n\nStdout:\n%s\n\nStderr:\n%s", code, stdout.String(), stderr.String()))
}

// abort retracts an admitted job that never started and records it as failed
func (s *Supervisor) abort(ctx context.Context, job types.JobDefinition, runID, subject, body string) {
	if err := s.cfg.Queue.Retract(job.Target, job.Class); err != nil {
		s.logger.Error().Err(err).Str("job", job.Key().String()).Msg("Failed to retract job")
	}
	if err := s.cfg.Queue.Complete(s.cfg.Queue.OwnerPID(), job.Target, job.Class, false); err != nil {
		s.logger.Error().Err(err).Str("job", job.Key().String()).Msg("Failed to record completion")
	}
	s.recordFinish(job, runID, false)
	metrics.JobsCompleted.WithLabelValues(string(job.Class), string(types.OutcomeFailed)).Inc()
	notify.Send(ctx, s.cfg.Notifier, subject, body)
}

func (s *Supervisor) workerArgs(job types.JobDefinition) []string {
	args := append([]string(nil), s.cfg.WorkerArgs...)
	args = append(args, "--target", job.Target, "--"+string(job.Class))
	if job.Retention > 0 {
		args = append(args, "--retention", strconv.Itoa(job.Retention))
	}
	return args
}

func (s *Supervisor) recordStart(job types.JobDefinition, runID string) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.RecordStart(job.Key(), runID, time.Now()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record run start")
	}
}

func (s *Supervisor) recordFinish(job types.JobDefinition, runID string, success bool) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.RecordFinish(job.Key(), runID, types.OutcomeOf(success), time.Now()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record run outcome")
	}
}

// acquireVolume mounts the volume of target for the first concurrent holder
func (s *Supervisor) acquireVolume(ctx context.Context, target string) error {
	if s.cfg.Volumes == nil {
		return nil
	}
	s.volMu.Lock()
	defer s.volMu.Unlock()

	h := s.holders[target]
	if h == nil {
		h = &holder{}
		s.holders[target] = h
	}
	if h.refs == 0 {
		res, err := s.cfg.Volumes.Mount(ctx, target)
		if err != nil {
			delete(s.holders, target)
			return err
		}
		h.mounted = !res.AlreadyMounted
		if err := s.cfg.Volumes.InitializeLayout(ctx, target); err != nil {
			s.logger.Warn().Err(err).Str("target", target).Msg("Failed to initialize backup layout")
		}
	}
	h.refs++
	return nil
}

// releaseVolume unmounts the volume of target once its last holder is done,
// if the supervisor mounted it
func (s *Supervisor) releaseVolume(target string) {
	if s.cfg.Volumes == nil {
		return
	}
	s.volMu.Lock()
	defer s.volMu.Unlock()

	h := s.holders[target]
	if h == nil {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(s.holders, target)
	if !h.mounted {
		return
	}
	if err := s.cfg.Volumes.Unmount(context.Background(), target); err != nil {
		s.logger.Error().Err(err).Str("target", target).Msg("Failed to unmount backup directory")
		notify.Send(context.Background(), s.cfg.Notifier, "Unmount failed for "+target, errdefs.Message(err))
	}
}

func (s *Supervisor) track(delta int) {
	s.mu.Lock()
	s.inFlight += delta
	n := s.inFlight
	s.mu.Unlock()
	metrics.JobsInFlight.Set(float64(n))
}

// InFlight returns the number of workers being monitored
func (s *Supervisor) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Wait blocks until every monitor has finished
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
