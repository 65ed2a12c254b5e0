package backup

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/health"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

// SnapshotFormat names the directory of one backup run
const SnapshotFormat = "20060102_150405"

// InfoFile is written into every snapshot
const InfoFile = "backup_info.txt"

// Volumes is the part of the volume manager the worker needs
type Volumes interface {
	IsMounted(ctx context.Context, target string) bool
	Mount(ctx context.Context, target string) (volume.Result, error)
	InitializeLayout(ctx context.Context, target string) error
	Unmount(ctx context.Context, target string) error
}

// Job is one worker invocation
type Job struct {
	Target    string
	Class     types.JobClass
	Retention int
}

// Options configures a Worker
type Options struct {
	// Runner executes rsync (default volume.ExecRunner)
	Runner volume.Runner
	// RsyncPath is the sync tool (default "rsync")
	RsyncPath string
	// Preflight dials SERVER:PORT before syncing
	Preflight bool
	// PreflightTimeout bounds the dial (default 10s)
	PreflightTimeout time.Duration
	// Now overrides the clock for snapshot names
	Now func() time.Time
}

// Report describes a finished run
type Report struct {
	Snapshot string
	Command  string
	Removed  []string
	Mounted  bool
}

// Worker performs one backup run
type Worker struct {
	backupDir string
	volumes   Volumes
	opts      Options
	logger    zerolog.Logger
}

// NewWorker creates a worker for targets under backupDir
func NewWorker(backupDir string, volumes Volumes, opts Options) *Worker {
	if opts.Runner == nil {
		opts.Runner = volume.ExecRunner{}
	}
	if opts.RsyncPath == "" {
		opts.RsyncPath = "rsync"
	}
	if opts.PreflightTimeout <= 0 {
		opts.PreflightTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		backupDir: backupDir,
		volumes:   volumes,
		opts:      opts,
		logger:    log.WithComponent("worker"),
	}
}

// Run mounts the target volume if needed, syncs the remote share into a new
// snapshot of the job class, applies retention and unmounts what it mounted.
func (w *Worker) Run(ctx context.Context, job Job) (report Report, err error) {
	if !job.Class.Valid() {
		return report, errdefs.Configurationf("invalid job class %q", job.Class)
	}
	logger := w.logger.With().Str("target", job.Target).Str("class", string(job.Class)).Logger()
	logger.Info().Msg("Starting backup")

	targetDir := filepath.Join(w.backupDir, job.Target)
	host, err := config.LoadHostConfig(targetDir)
	if err != nil {
		return report, errdefs.ResourceUnavailable(err)
	}
	if host.Server == "" {
		return report, errdefs.Configurationf("%s has no SERVER configured", job.Target)
	}

	if w.opts.Preflight {
		if err := w.preflight(ctx, host); err != nil {
			return report, err
		}
	}

	if !w.volumes.IsMounted(ctx, job.Target) {
		if _, err := w.volumes.Mount(ctx, job.Target); err != nil {
			return report, fmt.Errorf("failed to mount backup directory: %w", err)
		}
		report.Mounted = true
		defer func() {
			if uerr := w.volumes.Unmount(context.WithoutCancel(ctx), job.Target); uerr != nil {
				logger.Error().Err(uerr).Msg("Failed to unmount backup directory")
				if err == nil {
					err = uerr
				}
			}
		}()
		if err := w.volumes.InitializeLayout(ctx, job.Target); err != nil {
			return report, err
		}
	}

	classDir := filepath.Join(targetDir, volume.MountDir, string(job.Class))
	started := w.opts.Now()
	snapshot := filepath.Join(classDir, started.Format(SnapshotFormat))
	if err := os.MkdirAll(snapshot, 0755); err != nil {
		return report, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	report.Snapshot = snapshot

	args := RsyncArgs(host, snapshot)
	report.Command = shellquote.Join(append([]string{w.opts.RsyncPath}, args...)...)

	logger.Info().Str("source", source(host)).Str("snapshot", snapshot).Msg("Running rsync")
	if _, err := w.opts.Runner.Run(ctx, nil, w.opts.RsyncPath, args...); err != nil {
		return report, err
	}

	if err := writeInfo(snapshot, job, report.Command, w.opts.Now()); err != nil {
		return report, err
	}
	logger.Info().Str("snapshot", snapshot).Msg("Created backup")

	if job.Retention > 0 {
		removed, err := ApplyRetention(classDir, job.Retention)
		report.Removed = removed
		for _, r := range removed {
			logger.Info().Str("snapshot", r).Msg("Removed old backup")
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (w *Worker) preflight(ctx context.Context, host types.HostConfig) error {
	addr := net.JoinHostPort(host.Server, strconv.Itoa(host.Port))
	res := health.NewTCPChecker(addr).WithTimeout(w.opts.PreflightTimeout).Check(ctx)
	if !res.Healthy {
		return errdefs.ResourceUnavailablef("backup source %s unreachable: %s", addr, res.Message)
	}
	return nil
}

func source(host types.HostConfig) string {
	user := host.User
	if user == "" {
		user = "root"
	}
	share := host.Share
	if share == "" {
		share = "/"
	}
	return user + "@" + host.Server + ":" + share
}

// RsyncArgs returns the rsync arguments pulling host's share into dest
func RsyncArgs(host types.HostConfig, dest string) []string {
	port := host.Port
	if port == 0 {
		port = config.DefaultSSHPort
	}
	return []string{
		"-a", "--delete", "--numeric-ids", "--relative",
		"-e", "ssh -p " + strconv.Itoa(port),
		source(host), dest,
	}
}

func writeInfo(snapshot string, job Job, command string, at time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup created at %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Server: %s\n", job.Target)
	fmt.Fprintf(&b, "Type: %s\n", job.Class)
	fmt.Fprintf(&b, "Command: %s\nReturn code: 0\n", command)
	if err := os.WriteFile(filepath.Join(snapshot, InfoFile), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", InfoFile, err)
	}
	return nil
}
