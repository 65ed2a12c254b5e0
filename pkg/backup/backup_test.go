package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

type fakeVolumes struct {
	mounted  bool
	mounts   int
	unmounts int
	mountErr error
}

func (f *fakeVolumes) IsMounted(ctx context.Context, target string) bool { return f.mounted }

func (f *fakeVolumes) Mount(ctx context.Context, target string) (volume.Result, error) {
	if f.mountErr != nil {
		return volume.Result{}, f.mountErr
	}
	f.mounts++
	f.mounted = true
	return volume.Result{Target: target, State: types.VolumeMounted}, nil
}

func (f *fakeVolumes) InitializeLayout(ctx context.Context, target string) error { return nil }

func (f *fakeVolumes) Unmount(ctx context.Context, target string) error {
	f.unmounts++
	f.mounted = false
	return nil
}

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, r.err
}

func setupTarget(t *testing.T, host types.HostConfig) string {
	t.Helper()
	backupDir := t.TempDir()
	require.NoError(t, config.SaveHostConfig(filepath.Join(backupDir, "web01"), host))
	return backupDir
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRsyncArgs(t *testing.T) {
	args := RsyncArgs(types.HostConfig{Server: "10.0.0.5", Port: 2222, User: "backup", Share: "/srv/data"}, "/dest")
	assert.Equal(t, []string{
		"-a", "--delete", "--numeric-ids", "--relative",
		"-e", "ssh -p 2222",
		"backup@10.0.0.5:/srv/data", "/dest",
	}, args)

	args = RsyncArgs(types.HostConfig{Server: "host"}, "/dest")
	assert.Equal(t, "ssh -p 22", args[5])
	assert.Equal(t, "root@host:/", args[6])
}

func TestWorkerRun(t *testing.T) {
	backupDir := setupTarget(t, types.HostConfig{Server: "10.0.0.5", Port: 22, User: "backup", Share: "/srv"})
	vols := &fakeVolumes{}
	runner := &recordingRunner{}
	now := time.Date(2024, 3, 15, 18, 0, 5, 0, time.UTC)

	w := NewWorker(backupDir, vols, Options{Runner: runner, Now: fixedClock(now)})
	report, err := w.Run(context.Background(), Job{Target: "web01", Class: types.ClassDaily})
	require.NoError(t, err)

	want := filepath.Join(backupDir, "web01", volume.MountDir, "daily", "20240315_180005")
	assert.Equal(t, want, report.Snapshot)
	assert.True(t, report.Mounted)
	assert.Equal(t, 1, vols.mounts)
	assert.Equal(t, 1, vols.unmounts)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "rsync", runner.calls[0][0])
	assert.Equal(t, want, runner.calls[0][len(runner.calls[0])-1])

	info, err := os.ReadFile(filepath.Join(want, InfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(info), "Server: web01\n")
	assert.Contains(t, string(info), "Type: daily\n")
	assert.Contains(t, string(info), "Command: rsync -a --delete")
	assert.Contains(t, string(info), "ssh -p 22")
}

func TestWorkerRun_LeavesForeignMountAlone(t *testing.T) {
	backupDir := setupTarget(t, types.HostConfig{Server: "10.0.0.5"})
	vols := &fakeVolumes{mounted: true}

	w := NewWorker(backupDir, vols, Options{Runner: &recordingRunner{}})
	report, err := w.Run(context.Background(), Job{Target: "web01", Class: types.ClassLatest})
	require.NoError(t, err)
	assert.False(t, report.Mounted)
	assert.Equal(t, 0, vols.mounts)
	assert.Equal(t, 0, vols.unmounts)
}

func TestWorkerRun_RsyncFailureUnmounts(t *testing.T) {
	backupDir := setupTarget(t, types.HostConfig{Server: "10.0.0.5"})
	vols := &fakeVolumes{}
	runner := &recordingRunner{err: errdefs.ExternalTool("rsync", errors.New("exit status 23"), "some files vanished")}

	w := NewWorker(backupDir, vols, Options{Runner: runner})
	_, err := w.Run(context.Background(), Job{Target: "web01", Class: types.ClassDaily})
	require.Error(t, err)
	assert.True(t, errdefs.IsExternalTool(err))
	assert.Equal(t, 1, vols.unmounts)
}

func TestWorkerRun_Errors(t *testing.T) {
	backupDir := setupTarget(t, types.HostConfig{Server: "10.0.0.5"})
	w := NewWorker(backupDir, &fakeVolumes{}, Options{Runner: &recordingRunner{}})
	ctx := context.Background()

	_, err := w.Run(ctx, Job{Target: "web01", Class: "hourly"})
	assert.True(t, errdefs.IsConfiguration(err))

	_, err = w.Run(ctx, Job{Target: "missing", Class: types.ClassDaily})
	assert.True(t, errdefs.IsResourceUnavailable(err))

	w = NewWorker(backupDir, &fakeVolumes{mountErr: errdefs.ResourceUnavailablef("no key")}, Options{Runner: &recordingRunner{}})
	_, err = w.Run(ctx, Job{Target: "web01", Class: types.ClassDaily})
	assert.True(t, errdefs.IsResourceUnavailable(err))
}

func TestWorkerRun_Preflight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	backupDir := setupTarget(t, types.HostConfig{Server: "127.0.0.1", Port: addr.Port})
	runner := &recordingRunner{}
	w := NewWorker(backupDir, &fakeVolumes{}, Options{Runner: runner, Preflight: true, PreflightTimeout: time.Second})

	_, err = w.Run(context.Background(), Job{Target: "web01", Class: types.ClassDaily})
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Empty(t, runner.calls)
}

func TestWorkerRun_Retention(t *testing.T) {
	backupDir := setupTarget(t, types.HostConfig{Server: "10.0.0.5"})
	classDir := filepath.Join(backupDir, "web01", volume.MountDir, "weekly")
	for i := 1; i <= 4; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(classDir, fmt.Sprintf("2024030%d_120000", i)), 0755))
	}

	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	w := NewWorker(backupDir, &fakeVolumes{mounted: true}, Options{Runner: &recordingRunner{}, Now: fixedClock(now)})
	report, err := w.Run(context.Background(), Job{Target: "web01", Class: types.ClassWeekly, Retention: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"20240301_120000", "20240302_120000", "20240303_120000"}, report.Removed)

	left, err := os.ReadDir(classDir)
	require.NoError(t, err)
	var names []string
	for _, e := range left {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"20240304_120000", "20240309_120000"}, names)
}

func TestApplyRetention(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		keep    int
		removed int
	}{
		{"fewer than keep", 2, 5, 0},
		{"exactly keep", 3, 3, 0},
		{"more than keep", 7, 3, 4},
		{"zero keeps all", 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for i := 0; i < tt.count; i++ {
				require.NoError(t, os.Mkdir(filepath.Join(dir, fmt.Sprintf("202401%02d_000000", i+1)), 0755))
			}
			require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

			removed, err := ApplyRetention(dir, tt.keep)
			require.NoError(t, err)
			assert.Len(t, removed, tt.removed)

			for _, name := range removed {
				assert.NoDirExists(t, filepath.Join(dir, name))
			}
			for i := tt.count; i > tt.count-tt.keep && i > 0; i-- {
				assert.DirExists(t, filepath.Join(dir, fmt.Sprintf("202401%02d_000000", i)))
			}
			assert.FileExists(t, filepath.Join(dir, "notes.txt"))
			assert.False(t, strings.Contains(strings.Join(removed, ","), "notes"))
		})
	}
}
