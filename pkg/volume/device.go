package volume

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
)

// DeriveDeviceName returns the deterministic mapper name of target
func DeriveDeviceName(target string) string {
	return mapperName(target)
}

// UniqueDeviceName returns a fresh mapper name for target, used after a
// collision could not be cleaned up
func UniqueDeviceName(target string) string {
	return mapperName(target + uuid.NewString() + strconv.FormatInt(time.Now().UnixNano(), 10))
}

func mapperName(seed string) string {
	sum := md5.Sum([]byte(seed))
	return "sbe_" + hex.EncodeToString(sum[:])[:8] + "_mapper"
}

// deviceName returns the persisted device name of target or the derived one
func (m *Manager) deviceName(target string) (string, error) {
	data, err := os.ReadFile(filepath.Join(m.TargetDir(target), DeviceNameFile))
	if errors.Is(err, os.ErrNotExist) {
		return DeriveDeviceName(target), nil
	}
	if err != nil {
		return "", errdefs.ResourceUnavailable(fmt.Errorf("failed to read device name: %w", err))
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return DeriveDeviceName(target), nil
	}
	return name, nil
}

func (m *Manager) persistDeviceName(target, name string) error {
	path := filepath.Join(m.TargetDir(target), DeviceNameFile)
	if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == name {
		return nil
	}
	if err := os.WriteFile(path, []byte(name+"\n"), 0644); err != nil {
		return errdefs.ResourceUnavailable(fmt.Errorf("failed to persist device name: %w", err))
	}
	return nil
}

// mapperNames lists the live device-mapper table
func (m *Manager) mapperNames(ctx context.Context) (map[string]bool, error) {
	out, err := m.runner.Run(ctx, nil, "dmsetup", "ls")
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(scanner.Text(), "No devices") {
			continue
		}
		names[fields[0]] = true
	}
	return names, nil
}

func (m *Manager) mapperExists(ctx context.Context, name string) (bool, error) {
	names, err := m.mapperNames(ctx)
	if err != nil {
		return false, err
	}
	return names[name], nil
}

// ownedBy reports whether mapper name is backed by image
func (m *Manager) ownedBy(ctx context.Context, name, image string) bool {
	out, err := m.runner.Run(ctx, nil, "cryptsetup", "status", name)
	if err != nil {
		return false
	}
	want := filepath.Clean(image)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "device", "loop":
			if filepath.Clean(strings.TrimSpace(value)) == want {
				return true
			}
		}
	}
	return false
}

// ensureOpen opens the mapper device of e, recovering from a name collision once
func (m *Manager) ensureOpen(ctx context.Context, e *EncryptedVolume) error {
	open, err := m.mapperExists(ctx, e.DeviceName)
	if err != nil {
		return err
	}
	if open && m.ownedBy(ctx, e.DeviceName, e.Image) {
		m.logger.Debug().Str("target", e.Target).Str("device", e.DeviceName).Msg("Device already open")
		return m.opened(ctx, e)
	}

	key, err := m.resolveKey(ctx, e.Target)
	if err != nil {
		return err
	}
	defer key.Destroy()

	if !open {
		openErr := m.luksOpen(ctx, e.Image, e.DeviceName, key)
		if openErr == nil {
			return m.opened(ctx, e)
		}
		taken, err := m.mapperExists(ctx, e.DeviceName)
		if err != nil || !taken {
			return openErr
		}
		if m.ownedBy(ctx, e.DeviceName, e.Image) {
			return m.opened(ctx, e)
		}
	}

	return m.recoverCollision(ctx, e, key)
}

// recoverCollision frees or replaces a mapper name held by an unrelated volume
func (m *Manager) recoverCollision(ctx context.Context, e *EncryptedVolume, key *keys.KeyMaterial) error {
	metrics.DeviceCollisions.Inc()
	logger := m.logger.With().Str("target", e.Target).Str("device", e.DeviceName).Logger()
	logger.Warn().Msg("Device name is held by an unrelated volume, cleaning up")

	cleanupErr := m.cleanupMapper(ctx, e.DeviceName)
	if cleanupErr == nil {
		if err := m.luksOpen(ctx, e.Image, e.DeviceName, key); err != nil {
			return err
		}
		return m.opened(ctx, e)
	}

	previous := e.DeviceName
	e.DeviceName = UniqueDeviceName(e.Target)
	logger.Warn().Err(cleanupErr).Str("new_device", e.DeviceName).Msg("Cleanup failed, switching device name")
	if err := m.persistDeviceName(e.Target, e.DeviceName); err != nil {
		return err
	}

	if err := m.luksOpen(ctx, e.Image, e.DeviceName, key); err != nil {
		return errdefs.Collision(previous, err)
	}
	return m.opened(ctx, e)
}

// cleanupMapper unmounts, closes and force-removes mapper name
func (m *Manager) cleanupMapper(ctx context.Context, name string) error {
	dev := m.devicePath(name)
	if m.isMounted(ctx, dev) {
		if err := m.umount(ctx, dev); err != nil {
			return err
		}
	}
	if err := m.luksClose(ctx, name); err != nil {
		m.logger.Debug().Err(err).Str("device", name).Msg("luksClose during cleanup failed")
	}
	if _, err := m.runner.Run(ctx, nil, "dmsetup", "remove", "-f", name); err != nil {
		m.logger.Debug().Err(err).Str("device", name).Msg("dmsetup remove failed")
	}

	still, err := m.mapperExists(ctx, name)
	if err != nil {
		return err
	}
	if still {
		return fmt.Errorf("device %s still present after cleanup", name)
	}
	return nil
}

func (m *Manager) opened(ctx context.Context, e *EncryptedVolume) error {
	if err := m.persistDeviceName(e.Target, e.DeviceName); err != nil {
		return err
	}
	return m.waitForDevice(ctx, e.DeviceName)
}

func (m *Manager) resolveKey(ctx context.Context, target string) (*keys.KeyMaterial, error) {
	if m.keys == nil {
		return nil, errdefs.ResourceUnavailablef("no key resolver configured for encrypted target %s", target)
	}
	return m.keys.Resolve(ctx, target)
}

func (m *Manager) luksOpen(ctx context.Context, image, name string, key *keys.KeyMaterial) error {
	_, err := m.runner.Run(ctx, key.Reader(), "cryptsetup", "luksOpen", "--type", "luks2", image, name)
	return err
}
