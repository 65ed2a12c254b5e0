package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
)

// DefaultImageSize is the size of a new image when none is given
const DefaultImageSize = "10G"

// FormatOptions configures Format
type FormatOptions struct {
	// Size is passed to fallocate -l
	Size string
	// Encrypted formats the image as LUKS2 with Key
	Encrypted bool
	Key       *keys.KeyMaterial
	// Force overwrites an existing image
	Force bool
}

// Format allocates and formats the image of target. Encrypted images are
// luksFormatted, opened, given an ext4 filesystem and closed again.
func (m *Manager) Format(ctx context.Context, target string, opts FormatOptions) error {
	dir := m.TargetDir(target)
	image := filepath.Join(dir, ImageFile)

	if opts.Size == "" {
		opts.Size = DefaultImageSize
	}
	if opts.Encrypted && opts.Key == nil {
		return errdefs.Configurationf("encrypted format of %s requires a passphrase", target)
	}
	if _, err := os.Stat(image); err == nil && !opts.Force {
		return fmt.Errorf("image %s already exists", image)
	}
	if err := os.MkdirAll(filepath.Join(dir, MountDir), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	logger := m.logger.With().Str("target", target).Str("size", opts.Size).Logger()
	logger.Info().Bool("encrypted", opts.Encrypted).Msg("Formatting backup image")

	if _, err := m.runner.Run(ctx, nil, "fallocate", "-l", opts.Size, image); err != nil {
		return err
	}

	if !opts.Encrypted {
		_, err := m.runner.Run(ctx, nil, "mkfs.ext4", "-F", image)
		return err
	}

	if _, err := m.runner.Run(ctx, opts.Key.Reader(),
		"cryptsetup", "-q", "luksFormat", "--type", "luks2", "--key-file", "-", image); err != nil {
		return err
	}

	vol := &EncryptedVolume{Target: target, Image: image, MountPoint: filepath.Join(dir, MountDir)}
	name, err := m.deviceName(target)
	if err != nil {
		return err
	}
	vol.DeviceName = name

	if err := m.luksOpen(ctx, image, name, opts.Key); err != nil {
		return err
	}
	if err := m.opened(ctx, vol); err != nil {
		_ = m.luksClose(ctx, name)
		return err
	}

	_, mkfsErr := m.runner.Run(ctx, nil, "mkfs.ext4", m.devicePath(name))
	if err := m.luksClose(ctx, name); err != nil && mkfsErr == nil {
		return err
	}
	if mkfsErr != nil {
		return mkfsErr
	}

	logger.Info().Str("device", name).Msg("Encrypted backup image formatted")
	return nil
}
