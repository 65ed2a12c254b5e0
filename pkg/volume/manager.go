package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/retry"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// DefaultMapperDir is where device-mapper nodes appear
const DefaultMapperDir = "/dev/mapper"

// KeyResolver resolves the passphrase of an encrypted target
type KeyResolver interface {
	Resolve(ctx context.Context, target string) (*keys.KeyMaterial, error)
}

// Options configures a Manager
type Options struct {
	// Runner executes external commands (default ExecRunner)
	Runner Runner
	// Keys resolves passphrases; required for encrypted targets
	Keys KeyResolver
	// MapperDir overrides /dev/mapper
	MapperDir string
	// DeviceWait bounds the wait for the mapper node after open
	DeviceWait retry.Policy
}

// Manager drives the lifecycle of target volumes
type Manager struct {
	backupDir  string
	runner     Runner
	keys       KeyResolver
	mapperDir  string
	deviceWait retry.Policy
	logger     zerolog.Logger
}

// NewManager creates a volume manager for targets under backupDir
func NewManager(backupDir string, opts Options) *Manager {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.MapperDir == "" {
		opts.MapperDir = DefaultMapperDir
	}
	if opts.DeviceWait.Interval == 0 {
		opts.DeviceWait = retry.Policy{Interval: 500 * time.Millisecond, Timeout: 10 * time.Second}
	}
	return &Manager{
		backupDir:  backupDir,
		runner:     opts.Runner,
		keys:       opts.Keys,
		mapperDir:  opts.MapperDir,
		deviceWait: opts.DeviceWait,
		logger:     log.WithComponent("volume"),
	}
}

// TargetDir returns the directory of target
func (m *Manager) TargetDir(target string) string {
	return filepath.Join(m.backupDir, target)
}

// Volume builds the volume variant of target from its server.config
func (m *Manager) Volume(target string) (Volume, error) {
	dir := m.TargetDir(target)
	if _, err := os.Stat(dir); err != nil {
		return Volume{}, errdefs.ResourceUnavailablef("target directory %s does not exist", dir)
	}
	host, err := config.LoadHostConfig(dir)
	if err != nil {
		return Volume{}, errdefs.ResourceUnavailable(err)
	}
	name := ""
	if host.Encrypted {
		name, err = m.deviceName(target)
		if err != nil {
			return Volume{}, err
		}
	}
	return newVolume(dir, target, host.Encrypted, name), nil
}

// Mount mounts the volume of target. Mounting a mounted volume is a no-op.
func (m *Manager) Mount(ctx context.Context, target string) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "mount")

	vol, err := m.Volume(target)
	if err != nil {
		metrics.VolumeOperations.WithLabelValues("mount", "failed").Inc()
		return Result{Target: target, State: types.VolumeClosed}, err
	}
	lc := vol.lifecycle()

	if m.isMounted(ctx, lc.mountPoint()) {
		metrics.VolumeOperations.WithLabelValues("mount", "noop").Inc()
		res := Result{
			Target:         target,
			State:          types.VolumeMounted,
			MountPoint:     lc.mountPoint(),
			AlreadyMounted: true,
			Message:        "Backup directory for " + target + " is already mounted",
		}
		if vol.Encrypted != nil {
			res.DeviceName = vol.Encrypted.DeviceName
		}
		return res, nil
	}

	if err := os.MkdirAll(lc.mountPoint(), 0755); err != nil {
		metrics.VolumeOperations.WithLabelValues("mount", "failed").Inc()
		return Result{Target: target, State: types.VolumeClosed}, errdefs.ResourceUnavailable(fmt.Errorf("failed to create mount point: %w", err))
	}

	res, err := lc.mount(ctx, m)
	if err != nil {
		metrics.VolumeOperations.WithLabelValues("mount", "failed").Inc()
		m.logger.Error().Err(err).Str("target", target).Msg("Mount failed")
		return res, err
	}
	metrics.VolumeOperations.WithLabelValues("mount", "success").Inc()
	m.logger.Info().Str("target", target).Str("mount_point", res.MountPoint).Msg(res.Message)
	return res, nil
}

// Unmount unmounts the volume of target and closes its mapper device.
// An unmounted, closed volume is a no-op.
func (m *Manager) Unmount(ctx context.Context, target string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VolumeOperationDuration, "unmount")

	vol, err := m.Volume(target)
	if err != nil {
		metrics.VolumeOperations.WithLabelValues("unmount", "failed").Inc()
		return err
	}
	if err := vol.lifecycle().unmount(ctx, m); err != nil {
		metrics.VolumeOperations.WithLabelValues("unmount", "failed").Inc()
		return err
	}
	metrics.VolumeOperations.WithLabelValues("unmount", "success").Inc()
	m.logger.Info().Str("target", target).Msg("Backup directory unmounted")
	return nil
}

// State reports whether the volume of target is closed, open or mounted
func (m *Manager) State(ctx context.Context, target string) (types.VolumeState, error) {
	vol, err := m.Volume(target)
	if err != nil {
		return types.VolumeClosed, err
	}
	return vol.lifecycle().state(ctx, m)
}

// IsMounted reports whether the mount point of target is mounted
func (m *Manager) IsMounted(ctx context.Context, target string) bool {
	return m.isMounted(ctx, filepath.Join(m.TargetDir(target), MountDir))
}

// InitializeLayout creates one directory per job class under the mount point
func (m *Manager) InitializeLayout(ctx context.Context, target string) error {
	mp := filepath.Join(m.TargetDir(target), MountDir)
	if !m.isMounted(ctx, mp) {
		return errdefs.ResourceUnavailablef("backup directory for %s is not mounted", target)
	}
	for _, class := range types.JobClasses {
		if err := os.MkdirAll(filepath.Join(mp, string(class)), 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", class, err)
		}
	}
	return nil
}

func (m *Manager) isMounted(ctx context.Context, mountPoint string) bool {
	_, err := m.runner.Run(ctx, nil, "findmnt", mountPoint)
	return err == nil
}

func (m *Manager) mountDevice(ctx context.Context, device, mountPoint string) error {
	if _, err := m.runner.Run(ctx, nil, "mount", device, mountPoint); err != nil {
		return errdefs.ResourceUnavailable(err)
	}
	return nil
}

func (m *Manager) umount(ctx context.Context, mountPoint string) error {
	_, err := m.runner.Run(ctx, nil, "umount", mountPoint)
	return err
}

func (m *Manager) luksClose(ctx context.Context, name string) error {
	_, err := m.runner.Run(ctx, nil, "cryptsetup", "luksClose", name)
	return err
}

func (m *Manager) devicePath(name string) string {
	return filepath.Join(m.mapperDir, name)
}

// waitForDevice waits until the mapper node of name exists
func (m *Manager) waitForDevice(ctx context.Context, name string) error {
	path := m.devicePath(name)
	err := retry.Until(ctx, m.deviceWait, func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	})
	if err != nil {
		return errdefs.ResourceUnavailable(fmt.Errorf("device %s did not appear: %w", path, err))
	}
	return nil
}
