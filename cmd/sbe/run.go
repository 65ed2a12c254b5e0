package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/api"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/health"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/scheduler"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/storage"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup scheduler",
	Long: `Run the backup scheduler in the foreground.

Every minute the job file is evaluated and due jobs are queued. Stale
RUNNING entries of a previous scheduler are cleared on start. Stop with
SIGINT or SIGTERM. Running workers are then waited for so their
completions are recorded and their volumes unmounted; a second signal or
--no-wait exits right away.`,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().Bool("now", false, "Treat every job as due on the first tick")
	runCmd.Flags().Bool("logs", false, "Also write notifications to the log")
	runCmd.Flags().Bool("no-wait", false, "Exit without waiting for running workers")
	runCmd.Flags().String("http-addr", "", "Serve /health, /ready and /metrics on this address")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("now")
	logs, _ := cmd.Flags().GetBool("logs")
	noWait, _ := cmd.Flags().GetBool("no-wait")
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	logger := log.WithComponent("sbe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := openQueue(cfg, false)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentQueue, false, err.Error())
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer q.Close()
	metrics.UpdateComponent(metrics.ComponentQueue, true, "")

	var (
		history     supervisor.History
		stale       scheduler.StaleSource
		historyView api.HistoryReader
	)
	store, err := storage.NewBoltStore(cfg.HistoryDB)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.HistoryDB).Msg("Run history disabled")
		metrics.UpdateComponent(metrics.ComponentHistory, false, err.Error())
	} else {
		defer store.Close()
		history, stale, historyView = store, store, store
		metrics.UpdateComponent(metrics.ComponentHistory, true, "")
	}

	jobs := config.NewJobSource(cfg.JobsFile)
	if _, err := jobs.Jobs(); err != nil {
		logger.Error().Err(err).Str("file", cfg.JobsFile).Msg("Job file not loaded")
		metrics.UpdateComponent(metrics.ComponentJobs, false, err.Error())
	} else {
		metrics.UpdateComponent(metrics.ComponentJobs, true, "")
	}
	if err := jobs.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("Job file changes will only be picked up on restart")
	}

	volumes, err := newVolumeManager(cfg)
	if err != nil {
		return err
	}
	notifier := newNotifier(cfg, logs)

	workerArgs := []string{"--backup-dir", cfg.BackupDir}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		workerArgs = append(workerArgs, "--config", path)
	}

	sup := supervisor.New(supervisor.Config{
		BackupDir:  cfg.BackupDir,
		WorkerPath: cfg.WorkerPath,
		WorkerArgs: workerArgs,
		Queue:      q,
		Notifier:   notifier,
		History:    history,
		Volumes:    volumes,
	})

	var checker health.Checker
	if cfg.Checker.Command != "" {
		words, err := shellquote.Split(cfg.Checker.Command)
		if err != nil {
			return fmt.Errorf("invalid checker command: %w", err)
		}
		checker = health.NewExecChecker(words).WithTimeout(cfg.Checker.Timeout)
	}

	sched, err := scheduler.New(scheduler.Config{
		Jobs:       jobs,
		Runner:     sup,
		Queue:      q,
		Notifier:   notifier,
		Force:      force,
		CheckAt:    cfg.Checker.At,
		Checker:    checker,
		History:    stale,
		StaleAfter: cfg.Checker.StaleAfter,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(q, 0)
	collector.Start()
	defer collector.Stop()

	if cfg.HTTPAddr != "" {
		server := api.NewServer(metrics.DefaultRegistry(), q, historyView)
		go func() {
			if err := server.Start(cfg.HTTPAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("Status API stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("jobs_file", cfg.JobsFile).
		Str("reports_dir", cfg.ReportsDir).
		Int("max_running", cfg.MaxRunning).
		Bool("force", force).
		Msg("Scheduler started")

	runErr := sched.Run(ctx)
	// restore default signal handling so a second signal terminates
	stop()

	if !noWait && sup.InFlight() > 0 {
		logger.Info().Int("jobs", sup.InFlight()).Msg("Waiting for running jobs")
		sup.Wait()
	}
	logger.Info().Msg("Scheduler stopped")
	return runErr
}
