package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/queue"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/storage"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

const timeLayout = "2006-01-02 15:04:05"

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued, running and recently finished jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		clean, _ := cmd.Flags().GetBool("clean")
		mounts, _ := cmd.Flags().GetBool("mounts")
		limit, _ := cmd.Flags().GetInt("limit")

		q, err := openQueue(cfg, !clean)
		if err != nil {
			if clean && errors.Is(err, queue.ErrLocked) {
				return fmt.Errorf("the scheduler holds the queue lock; stop it before cleaning")
			}
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer q.Close()

		if clean {
			report, err := q.Clean()
			if err != nil {
				return err
			}
			pterm.Success.Printf("Removed %d orphaned pending and %d orphaned running entries\n", report.Pending, report.Running)
		}

		if err := printQueue(q, limit); err != nil {
			return err
		}
		printHistory(cfg)

		if mounts {
			return printMounts(cmd.Context(), cfg)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("clean", false, "Remove entries whose owning process is gone")
	statusCmd.Flags().Bool("mounts", false, "Show the volume state of every target")
	statusCmd.Flags().Int("limit", 10, "Number of completion records to show")
}

func printQueue(q *queue.Store, limit int) error {
	running, err := q.Running()
	if err != nil {
		return err
	}
	pending, err := q.Pending()
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printf("Queue (%d/%d running)", len(running), q.MaxRunning())
	if len(running)+len(pending) == 0 {
		pterm.Info.Println("No queued or running jobs")
	} else {
		data := pterm.TableData{{"STATE", "TARGET", "CLASS", "PID", "SINCE", "OWNER"}}
		for _, e := range append(running, pending...) {
			owner := pterm.Green("alive")
			if !q.Alive(e) {
				owner = pterm.Red("gone")
			}
			data = append(data, []string{
				string(e.State), e.Target, string(e.Class), strconv.Itoa(e.PID),
				e.EnqueuedAt.Format(timeLayout), owner,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}

	done, err := q.Completed(limit)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Recently finished")
	if len(done) == 0 {
		pterm.Info.Println("No finished jobs recorded")
		return nil
	}
	data := pterm.TableData{{"FINISHED", "TARGET", "CLASS", "PID", "OUTCOME"}}
	for i := len(done) - 1; i >= 0; i-- {
		r := done[i]
		outcome := pterm.Green(string(r.Outcome))
		if r.Outcome != types.OutcomeSuccess {
			outcome = pterm.Red(string(r.Outcome))
		}
		data = append(data, []string{
			r.FinishedAt.Format(timeLayout), r.Target, string(r.Class), strconv.Itoa(r.PID), outcome,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// printHistory shows run statistics. The history database is locked by a
// running scheduler, in which case it is skipped.
func printHistory(cfg *config.Config) {
	if _, err := os.Stat(cfg.HistoryDB); err != nil {
		return
	}
	store, err := storage.NewBoltStore(cfg.HistoryDB)
	if err != nil {
		pterm.Warning.Printf("Run history unavailable: %v\n", err)
		return
	}
	defer store.Close()

	stats, err := store.ListStats()
	if err != nil {
		pterm.Warning.Printf("Run history unavailable: %v\n", err)
		return
	}
	if len(stats) == 0 {
		return
	}

	pterm.DefaultSection.Println("Run history")
	data := pterm.TableData{{"JOB", "LAST SUCCESS", "LAST OUTCOME", "FAILURES", "RUNS"}}
	for _, s := range stats {
		last := "never"
		if !s.LastSuccess.IsZero() {
			last = s.LastSuccess.Format(timeLayout) + " (" + time.Since(s.LastSuccess).Truncate(time.Minute).String() + " ago)"
		}
		failures := strconv.Itoa(s.ConsecutiveFailures)
		if s.ConsecutiveFailures > 0 {
			failures = pterm.Red(failures)
		}
		data = append(data, []string{
			types.JobKey{Target: s.Target, Class: s.Class}.String(), last, string(s.LastOutcome), failures, strconv.Itoa(s.TotalRuns),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Warning.Printf("Failed to render history: %v\n", err)
	}
}

func printMounts(ctx context.Context, cfg *config.Config) error {
	targets, err := listTargets(cfg.BackupDir)
	if err != nil {
		return err
	}
	manager := volume.NewManager(cfg.BackupDir, volume.Options{})

	pterm.DefaultSection.Println("Volumes")
	if len(targets) == 0 {
		pterm.Info.Printf("No targets in %s\n", cfg.BackupDir)
		return nil
	}
	data := pterm.TableData{{"TARGET", "ENCRYPTED", "STATE", "DEVICE"}}
	for _, target := range targets {
		vol, err := manager.Volume(target)
		if err != nil {
			data = append(data, []string{target, "?", pterm.Red(err.Error()), ""})
			continue
		}
		state, err := manager.State(ctx, target)
		if err != nil {
			data = append(data, []string{target, "?", pterm.Red(err.Error()), ""})
			continue
		}
		encrypted, device := "no", ""
		if vol.Encrypted != nil {
			encrypted, device = "yes", vol.Encrypted.DeviceName
		}
		shown := string(state)
		if state == types.VolumeMounted {
			shown = pterm.Green(shown)
		}
		data = append(data, []string{target, encrypted, shown, device})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// listTargets returns the directories of backupDir that carry a server.config
func listTargets(backupDir string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	var targets []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(backupDir, e.Name(), config.HostConfigFile)); err == nil {
			targets = append(targets, e.Name())
		}
	}
	sort.Strings(targets)
	return targets, nil
}
