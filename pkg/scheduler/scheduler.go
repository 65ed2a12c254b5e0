package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/health"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/notify"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/retry"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

const (
	// DefaultCheckAt is the time of day the daily checker runs
	DefaultCheckAt = "18:00"
	// DefaultStaleAfter marks a pair stale without a success for this long
	DefaultStaleAfter = 48 * time.Hour
)

// JobSource supplies the job definitions of a tick
type JobSource interface {
	Jobs() (config.JobSet, error)
}

// JobRunner starts a due job
type JobRunner interface {
	Run(ctx context.Context, job types.JobDefinition) error
}

// RunningQueue is cleared when the scheduler starts
type RunningQueue interface {
	ClearRunning() error
}

// StaleSource lists pairs without a recent successful run
type StaleSource interface {
	Stale(now time.Time, after time.Duration) ([]*types.RunStats, error)
}

// Config configures a Scheduler
type Config struct {
	Jobs     JobSource
	Runner   JobRunner
	Queue    RunningQueue
	Notifier notify.Notifier

	// Force marks every job due on the first tick
	Force bool

	// CheckAt is the "HH:MM" of the daily checker
	CheckAt string
	// Checker is the external checker command (optional)
	Checker health.Checker
	// History feeds the stale-job report (optional)
	History    StaleSource
	StaleAfter time.Duration

	// Ticks overrides the minute clock
	Ticks <-chan time.Time
}

// Scheduler evaluates job triggers once per wall-clock minute
type Scheduler struct {
	cfg     Config
	checkAt IntervalRule
	force   bool
	checked string
	logger  zerolog.Logger
}

// New creates a scheduler
func New(cfg Config) (*Scheduler, error) {
	if cfg.Jobs == nil || cfg.Runner == nil {
		return nil, errors.New("scheduler requires a job source and a runner")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogger()
	}
	if cfg.CheckAt == "" {
		cfg.CheckAt = DefaultCheckAt
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if !clockTime.MatchString(cfg.CheckAt) {
		return nil, errdefs.Configurationf("checker time %q must be HH:MM", cfg.CheckAt)
	}
	checkAt, err := ParseInterval(cfg.CheckAt)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cfg:     cfg,
		checkAt: checkAt,
		force:   cfg.Force,
		logger:  log.WithComponent("scheduler"),
	}, nil
}

// Run clears stale RUNNING entries and evaluates triggers every minute
// until ctx is cancelled. In-flight workers are left running. Run returns
// a Catastrophic error if a tick panics or fails unexpectedly.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Queue != nil {
		if err := s.cfg.Queue.ClearRunning(); err != nil {
			return fmt.Errorf("failed to clear running queue: %w", err)
		}
	}

	ticks := s.cfg.Ticks
	if ticks == nil {
		ticks = minuteTicks(ctx)
	}

	s.logger.Info().Bool("force", s.force).Msg("Backup scheduler started")
	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Backup scheduler stopped")
			return nil
		case now, ok := <-ticks:
			if !ok {
				s.logger.Info().Msg("Backup scheduler stopped")
				return nil
			}
			if err := s.safeTick(ctx, now); err != nil {
				metrics.UpdateComponent(metrics.ComponentScheduler, false, err.Error())
				s.logger.Error().Err(err).Msg("Error in scheduler")
				notify.Send(context.Background(), s.cfg.Notifier, "Error in SBE scheduler",
					"An error occurred in the SBE scheduler: "+errdefs.Message(err))
				return err
			}
		}
	}
}

// safeTick runs Tick and converts panics into catastrophic errors
func (s *Scheduler) safeTick(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("stack", string(debug.Stack())).Msg("Scheduler tick panicked")
			err = errdefs.Catastrophic(fmt.Errorf("panic in scheduler tick: %v", r))
		}
	}()
	return s.Tick(ctx, now)
}

// Tick evaluates every job once at now. Job-level failures are logged and
// skipped; anything else is returned as a Catastrophic error.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	metrics.SchedulerTicks.Inc()

	force := s.force
	s.force = false

	set, err := s.cfg.Jobs.Jobs()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentJobs, false, err.Error())
		s.logger.Error().Err(err).Msg("Failed to load backup configuration")
	} else {
		metrics.UpdateComponent(metrics.ComponentJobs, true, "")
		for _, invalid := range set.Invalid {
			metrics.ConfigErrors.Inc()
			s.logger.Warn().Err(invalid).Msg("Skipping invalid job definition")
		}
		for _, job := range set.Jobs {
			if err := s.evaluate(ctx, job, now, force); err != nil {
				return err
			}
		}
	}

	if s.checkAt(now) {
		day := now.Format(time.DateOnly)
		if s.checked != day {
			s.checked = day
			s.runChecker(ctx, now)
		}
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, job types.JobDefinition, now time.Time, force bool) error {
	logger := s.logger.With().Str("target", job.Target).Str("class", string(job.Class)).Logger()

	due := force
	if !force {
		var err error
		due, err = Due(job, now)
		if err != nil {
			metrics.ConfigErrors.Inc()
			logger.Warn().Err(err).Str("interval", job.Interval).Str("date", job.Date).Msg("Skipping job with invalid trigger")
			return nil
		}
	}
	if !due {
		return nil
	}

	metrics.JobsDue.WithLabelValues(string(job.Class)).Inc()
	logger.Debug().Msg("Job due")

	err := s.cfg.Runner.Run(ctx, job)
	if err == nil {
		return nil
	}
	if jobLevel(err) {
		logger.Error().Err(err).Msg("Backup job aborted")
		return nil
	}
	return errdefs.Catastrophic(fmt.Errorf("job %s: %w", job.Key(), err))
}

// jobLevel reports whether err only affects a single job
func jobLevel(err error) bool {
	return errdefs.IsConfiguration(err) ||
		errdefs.IsResourceUnavailable(err) ||
		errdefs.IsExternalTool(err) ||
		errdefs.IsCollision(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, retry.ErrExhausted)
}

// runChecker runs the external checker and the stale-job report
func (s *Scheduler) runChecker(ctx context.Context, now time.Time) {
	s.logger.Info().Msg("Running checker")

	if s.cfg.Checker != nil {
		res := s.cfg.Checker.Check(ctx)
		if res.Healthy {
			metrics.CheckerRuns.WithLabelValues("success").Inc()
			s.logger.Info().Str("result", res.Message).Msg("Checker completed successfully")
		} else {
			metrics.CheckerRuns.WithLabelValues("failed").Inc()
			s.logger.Error().Str("result", res.Message).Msg("Checker failed")
			body := res.Message
			if ec, ok := s.cfg.Checker.(*health.ExecChecker); ok && ec.Output != "" {
				body += "\n\nOutput:\n" + ec.Output
			}
			notify.Send(ctx, s.cfg.Notifier, "Checker script failed", body)
		}
	}

	if s.cfg.History == nil {
		return
	}
	stale, err := s.cfg.History.Stale(now, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read run history")
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Warn().Int("count", len(stale)).Msg("Stale backups found")
	notify.Send(ctx, s.cfg.Notifier, "Stale backups", StaleReport(stale, now))
}

// StaleReport renders one line per stale pair
func StaleReport(stale []*types.RunStats, now time.Time) string {
	var b strings.Builder
	for _, st := range stale {
		last := "never"
		if !st.LastSuccess.IsZero() {
			last = st.LastSuccess.Format(time.DateTime) + " (" + now.Sub(st.LastSuccess).Truncate(time.Minute).String() + " ago)"
		}
		fmt.Fprintf(&b, "%s/%s: last success %s, %d consecutive failures\n",
			st.Target, st.Class, last, st.ConsecutiveFailures)
	}
	return b.String()
}

// minuteTicks delivers the start of every wall-clock minute until ctx is done
func minuteTicks(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		for {
			now := time.Now()
			next := now.Truncate(time.Minute).Add(time.Minute)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				// a tick that arrives while the loop is busy is dropped
				select {
				case ch <- next:
				default:
				}
			}
		}
	}()
	return ch
}
