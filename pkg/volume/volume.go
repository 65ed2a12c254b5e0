package volume

import (
	"context"
	"path/filepath"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// Files and directories inside a target directory
const (
	ImageFile      = "backups"
	MountDir       = ".mounted"
	DeviceNameFile = "device_name"
)

// Volume is the storage of one target: exactly one of Plain or Encrypted is set
type Volume struct {
	Plain     *PlainVolume
	Encrypted *EncryptedVolume
}

// PlainVolume is an unencrypted image mounted directly
type PlainVolume struct {
	Target     string
	Image      string
	MountPoint string
}

// EncryptedVolume is a LUKS image exposed as /dev/mapper/<DeviceName>
type EncryptedVolume struct {
	Target     string
	Image      string
	MountPoint string
	DeviceName string
}

// Result describes the outcome of Mount
type Result struct {
	Target         string
	State          types.VolumeState
	MountPoint     string
	DeviceName     string
	AlreadyMounted bool
	Message        string
}

// lifecycle is implemented once per variant
type lifecycle interface {
	mount(ctx context.Context, m *Manager) (Result, error)
	unmount(ctx context.Context, m *Manager) error
	state(ctx context.Context, m *Manager) (types.VolumeState, error)
	mountPoint() string
}

func (v Volume) lifecycle() lifecycle {
	if v.Encrypted != nil {
		return v.Encrypted
	}
	return v.Plain
}

// MountPoint returns the mount point of the volume
func (v Volume) MountPoint() string {
	return v.lifecycle().mountPoint()
}

// IsEncrypted reports whether the volume is the encrypted variant
func (v Volume) IsEncrypted() bool {
	return v.Encrypted != nil
}

func newVolume(targetDir, target string, encrypted bool, deviceName string) Volume {
	image := filepath.Join(targetDir, ImageFile)
	mp := filepath.Join(targetDir, MountDir)
	if encrypted {
		return Volume{Encrypted: &EncryptedVolume{
			Target:     target,
			Image:      image,
			MountPoint: mp,
			DeviceName: deviceName,
		}}
	}
	return Volume{Plain: &PlainVolume{Target: target, Image: image, MountPoint: mp}}
}

func (p *PlainVolume) mountPoint() string { return p.MountPoint }

func (p *PlainVolume) state(ctx context.Context, m *Manager) (types.VolumeState, error) {
	if m.isMounted(ctx, p.MountPoint) {
		return types.VolumeMounted, nil
	}
	return types.VolumeClosed, nil
}

func (p *PlainVolume) mount(ctx context.Context, m *Manager) (Result, error) {
	res := Result{Target: p.Target, MountPoint: p.MountPoint, State: types.VolumeMounted}
	if err := m.mountDevice(ctx, p.Image, p.MountPoint); err != nil {
		return Result{Target: p.Target, State: types.VolumeClosed}, err
	}
	res.Message = "Backup directory for " + p.Target + " mounted"
	return res, nil
}

func (p *PlainVolume) unmount(ctx context.Context, m *Manager) error {
	if !m.isMounted(ctx, p.MountPoint) {
		return nil
	}
	return m.umount(ctx, p.MountPoint)
}

func (e *EncryptedVolume) mountPoint() string { return e.MountPoint }

func (e *EncryptedVolume) state(ctx context.Context, m *Manager) (types.VolumeState, error) {
	if m.isMounted(ctx, e.MountPoint) {
		return types.VolumeMounted, nil
	}
	open, err := m.mapperExists(ctx, e.DeviceName)
	if err != nil {
		return types.VolumeClosed, err
	}
	if open {
		return types.VolumeOpen, nil
	}
	return types.VolumeClosed, nil
}

func (e *EncryptedVolume) mount(ctx context.Context, m *Manager) (Result, error) {
	if err := m.ensureOpen(ctx, e); err != nil {
		return Result{Target: e.Target, State: types.VolumeClosed, DeviceName: e.DeviceName}, err
	}
	if err := m.mountDevice(ctx, m.devicePath(e.DeviceName), e.MountPoint); err != nil {
		return Result{Target: e.Target, State: types.VolumeOpen, DeviceName: e.DeviceName}, err
	}
	return Result{
		Target:     e.Target,
		State:      types.VolumeMounted,
		MountPoint: e.MountPoint,
		DeviceName: e.DeviceName,
		Message:    "Encrypted backup directory for " + e.Target + " mounted via " + e.DeviceName,
	}, nil
}

func (e *EncryptedVolume) unmount(ctx context.Context, m *Manager) error {
	if m.isMounted(ctx, e.MountPoint) {
		if err := m.umount(ctx, e.MountPoint); err != nil {
			return err
		}
	}
	open, err := m.mapperExists(ctx, e.DeviceName)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}
	return m.luksClose(ctx, e.DeviceName)
}
