package volume

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/retry"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

type fakeKeys struct {
	err      error
	resolved int
}

func (f *fakeKeys) Resolve(ctx context.Context, target string) (*keys.KeyMaterial, error) {
	f.resolved++
	if f.err != nil {
		return nil, f.err
	}
	return keys.NewKeyMaterial(target, types.KeySourceRemote, []byte("pw"))
}

type fixture struct {
	root string
	host *fakeHost
	keys *fakeKeys
	mgr  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	mapperDir := filepath.Join(root, "mapper")
	require.NoError(t, os.MkdirAll(mapperDir, 0755))

	f := &fixture{
		root: filepath.Join(root, "backup"),
		host: newFakeHost(mapperDir),
		keys: &fakeKeys{},
	}
	f.mgr = NewManager(f.root, Options{
		Runner:     f.host,
		Keys:       f.keys,
		MapperDir:  mapperDir,
		DeviceWait: retry.Policy{Interval: time.Millisecond, Timeout: 100 * time.Millisecond},
	})
	return f
}

func (f *fixture) addTarget(t *testing.T, target string, encrypted bool) string {
	t.Helper()
	dir := filepath.Join(f.root, target)
	require.NoError(t, config.SaveHostConfig(dir, types.HostConfig{
		Server:    "10.0.0.5",
		Port:      22,
		User:      "backup",
		Share:     "/srv",
		Encrypted: encrypted,
	}))
	return dir
}

func TestDeviceNames(t *testing.T) {
	re := regexp.MustCompile(`^sbe_[0-9a-f]{8}_mapper$`)

	name := DeriveDeviceName("web01")
	assert.Regexp(t, re, name)
	assert.Equal(t, name, DeriveDeviceName("web01"))
	assert.NotEqual(t, name, DeriveDeviceName("web02"))

	unique := UniqueDeviceName("web01")
	assert.Regexp(t, re, unique)
	assert.NotEqual(t, unique, UniqueDeviceName("web01"))
}

func TestMountPlainIdempotent(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "files", false)
	ctx := context.Background()

	res, err := f.mgr.Mount(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeMounted, res.State)
	assert.False(t, res.AlreadyMounted)
	assert.Equal(t, filepath.Join(dir, MountDir), res.MountPoint)
	assert.Equal(t, filepath.Join(dir, ImageFile), f.host.mounts[res.MountPoint])

	res, err = f.mgr.Mount(ctx, "files")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMounted)
	assert.Equal(t, 1, f.host.count("mount "))
	assert.Equal(t, 0, f.keys.resolved)

	require.NoError(t, f.mgr.Unmount(ctx, "files"))
	require.NoError(t, f.mgr.Unmount(ctx, "files"))
	assert.Equal(t, 1, f.host.count("umount "))

	state, err := f.mgr.State(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeClosed, state)
}

func TestMountEncrypted(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", true)
	ctx := context.Background()

	res, err := f.mgr.Mount(ctx, "db01")
	require.NoError(t, err)

	name := DeriveDeviceName("db01")
	assert.Equal(t, name, res.DeviceName)
	assert.Equal(t, []string{"pw"}, f.host.openStdins)
	assert.Equal(t, filepath.Join(f.host.mapperDir, name), f.host.mounts[filepath.Join(dir, MountDir)])

	persisted, err := os.ReadFile(filepath.Join(dir, DeviceNameFile))
	require.NoError(t, err)
	assert.Equal(t, name, strings.TrimSpace(string(persisted)))

	require.NoError(t, f.mgr.Unmount(ctx, "db01"))
	assert.Empty(t, f.host.mappers)
	assert.Empty(t, f.host.mounts)

	state, err := f.mgr.State(ctx, "db01")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeClosed, state)
}

func TestMountEncryptedAlreadyOpen(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", true)
	name := DeriveDeviceName("db01")

	f.host.mappers[name] = filepath.Join(dir, ImageFile)
	require.NoError(t, os.WriteFile(filepath.Join(f.host.mapperDir, name), nil, 0644))

	state, err := f.mgr.State(context.Background(), "db01")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeOpen, state)

	_, err = f.mgr.Mount(context.Background(), "db01")
	require.NoError(t, err)
	assert.Equal(t, 0, f.keys.resolved)
	assert.Equal(t, 0, f.host.count("cryptsetup luksOpen"))
}

func TestMountCollisionCleanedUp(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "db01", true)
	name := DeriveDeviceName("db01")
	f.host.mappers[name] = "/some/other/image"

	res, err := f.mgr.Mount(context.Background(), "db01")
	require.NoError(t, err)
	assert.Equal(t, name, res.DeviceName)
	assert.Equal(t, 1, f.host.count("dmsetup remove -f "+name))
	assert.Contains(t, f.host.mappers[name], "db01")
}

func TestMountCollisionNewName(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", true)
	ctx := context.Background()

	derived := DeriveDeviceName("db01")
	f.host.mappers[derived] = "/some/other/image"
	f.host.stuck[derived] = true

	res, err := f.mgr.Mount(ctx, "db01")
	require.NoError(t, err)
	assert.NotEqual(t, derived, res.DeviceName)
	assert.Regexp(t, `^sbe_[0-9a-f]{8}_mapper$`, res.DeviceName)

	persisted, err := os.ReadFile(filepath.Join(dir, DeviceNameFile))
	require.NoError(t, err)
	assert.Equal(t, res.DeviceName, strings.TrimSpace(string(persisted)))

	// later mounts reuse the persisted name
	require.NoError(t, f.mgr.Unmount(ctx, "db01"))
	again, err := f.mgr.Mount(ctx, "db01")
	require.NoError(t, err)
	assert.Equal(t, res.DeviceName, again.DeviceName)
	assert.Equal(t, "/some/other/image", f.host.mappers[derived])
}

func TestMountCollisionTerminal(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "db01", true)

	derived := DeriveDeviceName("db01")
	f.host.mappers[derived] = "/some/other/image"
	f.host.stuck[derived] = true
	f.host.failOpen = true

	_, err := f.mgr.Mount(context.Background(), "db01")
	require.Error(t, err)
	assert.True(t, errdefs.IsCollision(err))
	assert.Equal(t, 1, f.host.count("cryptsetup luksOpen"))
}

func TestMountKeyUnavailable(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "db01", true)
	f.keys.err = errdefs.ResourceUnavailable(errors.New("key service down"))

	res, err := f.mgr.Mount(context.Background(), "db01")
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Equal(t, types.VolumeClosed, res.State)
	assert.Equal(t, 0, f.host.count("cryptsetup luksOpen"))
}

func TestMountFailureCarriesStderr(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "files", false)
	f.host.failMount = "mount: wrong fs type, bad option"

	_, err := f.mgr.Mount(context.Background(), "files")
	require.Error(t, err)
	assert.True(t, errdefs.IsExternalTool(err))
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Equal(t, "mount: wrong fs type, bad option", errdefs.Stderr(err))
}

func TestMountMissingTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Mount(context.Background(), "ghost")
	assert.True(t, errdefs.IsResourceUnavailable(err))
}

func TestMountPointBlocked(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MountDir), nil, 0644))

	res, err := f.mgr.Mount(context.Background(), "db01")
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Contains(t, err.Error(), "failed to create mount point")
	assert.Equal(t, types.VolumeClosed, res.State)
}

func TestDeviceNameUnreadable(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", true)
	require.NoError(t, os.Mkdir(filepath.Join(dir, DeviceNameFile), 0755))

	_, err := f.mgr.Mount(context.Background(), "db01")
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Contains(t, err.Error(), "failed to read device name")
}

func TestInitializeLayout(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "files", false)
	ctx := context.Background()

	assert.Error(t, f.mgr.InitializeLayout(ctx, "files"))

	_, err := f.mgr.Mount(ctx, "files")
	require.NoError(t, err)
	require.NoError(t, f.mgr.InitializeLayout(ctx, "files"))
	require.NoError(t, f.mgr.InitializeLayout(ctx, "files"))

	for _, class := range types.JobClasses {
		assert.DirExists(t, filepath.Join(dir, MountDir, string(class)))
	}
}

func TestFormatEncrypted(t *testing.T) {
	f := newFixture(t)
	dir := f.addTarget(t, "db01", true)
	ctx := context.Background()

	key, err := keys.NewKeyMaterial("db01", types.KeySourceRemote, []byte("pw"))
	require.NoError(t, err)
	defer key.Destroy()

	require.NoError(t, f.mgr.Format(ctx, "db01", FormatOptions{Size: "1G", Encrypted: true, Key: key}))

	name := DeriveDeviceName("db01")
	assert.Equal(t, 1, f.host.count("fallocate -l 1G"))
	assert.Equal(t, 1, f.host.count("cryptsetup -q luksFormat --type luks2"))
	assert.Equal(t, 1, f.host.count("mkfs.ext4 "+filepath.Join(f.host.mapperDir, name)))
	assert.Empty(t, f.host.mappers)
	assert.FileExists(t, filepath.Join(dir, ImageFile))

	err = f.mgr.Format(ctx, "db01", FormatOptions{Encrypted: true, Key: key})
	assert.Error(t, err)
}

func TestFormatValidation(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "files", false)
	ctx := context.Background()

	err := f.mgr.Format(ctx, "files", FormatOptions{Encrypted: true})
	assert.True(t, errdefs.IsConfiguration(err))

	require.NoError(t, f.mgr.Format(ctx, "files", FormatOptions{}))
	assert.Equal(t, 1, f.host.count("fallocate -l "+DefaultImageSize))
	assert.Equal(t, 1, f.host.count("mkfs.ext4 -F"))
}
