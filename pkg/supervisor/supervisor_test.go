package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/queue"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

type mail struct{ subject, body string }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []mail
}

func (r *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, mail{subject, body})
	return nil
}

func (r *recordingNotifier) all() []mail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail(nil), r.sent...)
}

type recordingHistory struct {
	mu       sync.Mutex
	started  []string
	finished map[string]types.Outcome
}

func (h *recordingHistory) RecordStart(key types.JobKey, runID string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, runID)
	return nil
}

func (h *recordingHistory) RecordFinish(key types.JobKey, runID string, outcome types.Outcome, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished == nil {
		h.finished = map[string]types.Outcome{}
	}
	h.finished[key.String()] = outcome
	return nil
}

type countingVolumes struct {
	mu        sync.Mutex
	mounts    int
	unmounts  int
	already   bool
	mountErr  error
	layoutRun int
}

func (c *countingVolumes) Mount(ctx context.Context, target string) (volume.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mountErr != nil {
		return volume.Result{Target: target, State: types.VolumeClosed}, c.mountErr
	}
	c.mounts++
	return volume.Result{Target: target, State: types.VolumeMounted, AlreadyMounted: c.already}, nil
}

func (c *countingVolumes) Unmount(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unmounts++
	return nil
}

func (c *countingVolumes) InitializeLayout(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layoutRun++
	return nil
}

type harness struct {
	backupDir string
	store     *queue.Store
	notifier  *recordingNotifier
	history   *recordingHistory
}

func newHarness(t *testing.T, targets ...string) *harness {
	t.Helper()
	root := t.TempDir()
	backupDir := filepath.Join(root, "backup")
	for _, target := range targets {
		require.NoError(t, os.MkdirAll(filepath.Join(backupDir, target), 0755))
	}

	store, err := queue.Open(filepath.Join(root, "reports"), queue.Options{
		MaxRunning:   2,
		PollInterval: 10 * time.Millisecond,
		AdmitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &harness{
		backupDir: backupDir,
		store:     store,
		notifier:  &recordingNotifier{},
		history:   &recordingHistory{},
	}
}

// shellWorker runs script with sh, passing the job arguments as $@
func (h *harness) shellWorker(script string) *Supervisor {
	return h.supervisor("/bin/sh", []string{"-c", script, "sbe-worker"}, nil)
}

func (h *harness) supervisor(path string, args []string, vols Volumes) *Supervisor {
	return New(Config{
		BackupDir:  h.backupDir,
		WorkerPath: path,
		WorkerArgs: args,
		Queue:      h.store,
		Notifier:   h.notifier,
		History:    h.history,
		Volumes:    vols,
	})
}

func job(target string, class types.JobClass) types.JobDefinition {
	return types.JobDefinition{Target: target, Class: class, Interval: "1h", Date: "*"}
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, "web01")
	s := h.shellWorker("exit 0")

	require.NoError(t, s.Run(context.Background(), job("web01", types.ClassDaily)))
	s.Wait()

	done, err := h.store.Completed(0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, types.OutcomeSuccess, done[0].Outcome)
	assert.Equal(t, "web01", done[0].Target)
	assert.NotEqual(t, os.Getpid(), done[0].PID)

	running, err := h.store.Running()
	require.NoError(t, err)
	assert.Empty(t, running)

	assert.Empty(t, h.notifier.all())
	assert.Len(t, h.history.started, 1)
	assert.Equal(t, types.OutcomeSuccess, h.history.finished["web01/daily"])
	assert.Equal(t, 0, s.InFlight())
}

func TestRun_FailureNotifies(t *testing.T) {
	h := newHarness(t, "db01")
	s := h.shellWorker("echo partial; echo 'rsync error 23' >&2; exit 3")

	require.NoError(t, s.Run(context.Background(), job("db01", types.ClassWeekly)))
	s.Wait()

	done, err := h.store.Completed(0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, types.OutcomeFailed, done[0].Outcome)

	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Backup failed for db01", sent[0].subject)
	assert.Contains(t, sent[0].body, "Return code: 3")
	assert.Contains(t, sent[0].body, "partial")
	assert.Contains(t, sent[0].body, "rsync error 23")
	assert.Equal(t, types.OutcomeFailed, h.history.finished["db01/weekly"])
}

func TestRun_MissingTargetDir(t *testing.T) {
	h := newHarness(t)
	s := h.shellWorker("exit 0")

	err := s.Run(context.Background(), job("ghost", types.ClassDaily))
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))

	pending, _ := h.store.Pending()
	assert.Empty(t, pending)
	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Backup error for ghost", sent[0].subject)
}

func TestRun_DuplicateSuppressed(t *testing.T) {
	h := newHarness(t, "web01")
	s := h.shellWorker("exit 0")

	ok, err := h.store.TryEnqueue("web01", types.ClassDaily)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Run(context.Background(), job("web01", types.ClassDaily)))
	s.Wait()

	done, _ := h.store.Completed(0)
	assert.Empty(t, done)
	assert.Empty(t, h.history.started)

	// another class of the same target is not a duplicate
	require.NoError(t, s.Run(context.Background(), job("web01", types.ClassWeekly)))
	s.Wait()
	done, _ = h.store.Completed(0)
	assert.Len(t, done, 1)
}

func TestRun_SpawnFailure(t *testing.T) {
	h := newHarness(t, "web01")
	s := h.supervisor(filepath.Join(t.TempDir(), "missing-worker"), nil, nil)

	err := s.Run(context.Background(), job("web01", types.ClassDaily))
	require.Error(t, err)
	assert.True(t, errdefs.IsExternalTool(err))

	pending, _ := h.store.Pending()
	running, _ := h.store.Running()
	assert.Empty(t, pending)
	assert.Empty(t, running)

	done, err := h.store.Completed(0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, types.OutcomeFailed, done[0].Outcome)

	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].body, "Error starting backup"))
}

func TestRun_WorkerArguments(t *testing.T) {
	h := newHarness(t, "web01")
	out := filepath.Join(t.TempDir(), "args")
	s := h.shellWorker(`printf '%s ' "$@" > ` + out)

	j := job("web01", types.ClassMonthly)
	j.Retention = 4
	require.NoError(t, s.Run(context.Background(), j))
	s.Wait()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "--target web01 --monthly --retention 4", strings.TrimSpace(string(data)))
}

func TestRun_VolumeHeldUntilLastWorker(t *testing.T) {
	h := newHarness(t, "web01")
	vols := &countingVolumes{}
	s := h.supervisor("/bin/sh", []string{"-c", "sleep 0.2", "sbe-worker"}, vols)

	ctx := context.Background()
	require.NoError(t, s.Run(ctx, job("web01", types.ClassDaily)))
	require.NoError(t, s.Run(ctx, job("web01", types.ClassLatest)))
	assert.Equal(t, 2, s.InFlight())
	s.Wait()

	assert.Equal(t, 1, vols.mounts)
	assert.Equal(t, 1, vols.unmounts)
	assert.Equal(t, 1, vols.layoutRun)
}

func TestRun_VolumeAlreadyMountedIsLeftMounted(t *testing.T) {
	h := newHarness(t, "web01")
	vols := &countingVolumes{already: true}
	s := h.supervisor("/bin/sh", []string{"-c", "exit 0", "sbe-worker"}, vols)

	require.NoError(t, s.Run(context.Background(), job("web01", types.ClassDaily)))
	s.Wait()
	assert.Equal(t, 0, vols.unmounts)
}

func TestRun_VolumeUnavailable(t *testing.T) {
	h := newHarness(t, "db01")
	vols := &countingVolumes{mountErr: errdefs.ResourceUnavailable(errors.New("no key"))}
	s := h.supervisor("/bin/sh", []string{"-c", "exit 0", "sbe-worker"}, vols)

	err := s.Run(context.Background(), job("db01", types.ClassDaily))
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))

	done, _ := h.store.Completed(0)
	require.Len(t, done, 1)
	assert.Equal(t, types.OutcomeFailed, done[0].Outcome)
	running, _ := h.store.Running()
	assert.Empty(t, running)
	assert.Len(t, h.notifier.all(), 1)
}

func TestRun_UnmarkedVolumeErrorIsJobLevel(t *testing.T) {
	h := newHarness(t, "db01")
	vols := &countingVolumes{mountErr: errors.New("mkdir .mounted: not a directory")}
	s := h.supervisor("/bin/sh", []string{"-c", "exit 0", "sbe-worker"}, vols)

	err := s.Run(context.Background(), job("db01", types.ClassDaily))
	require.Error(t, err)
	assert.True(t, errdefs.IsResourceUnavailable(err))
	assert.Contains(t, err.Error(), "not a directory")

	running, _ := h.store.Running()
	assert.Empty(t, running)
}

// startFailingQueue refuses to re-key RUNNING entries to the worker PID
type startFailingQueue struct {
	*queue.Store
}

func (startFailingQueue) MarkStarted(string, types.JobClass, int) error {
	return errors.New("SBE-queue-run: read-only file system")
}

func TestRun_MarkStartedFailureReleasesEntry(t *testing.T) {
	h := newHarness(t, "web01")
	s := New(Config{
		BackupDir:  h.backupDir,
		WorkerPath: "/bin/sh",
		WorkerArgs: []string{"-c", "exit 0", "sbe-worker"},
		Queue:      startFailingQueue{h.store},
		Notifier:   h.notifier,
	})

	require.NoError(t, s.Run(context.Background(), job("web01", types.ClassDaily)))
	s.Wait()

	running, err := h.store.Running()
	require.NoError(t, err)
	assert.Empty(t, running, "entry still under the owner PID must be completed")

	done, err := h.store.Completed(0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, os.Getpid(), done[0].PID)
	assert.Equal(t, types.OutcomeSuccess, done[0].Outcome)

	// the pair is no longer held by dedup
	ok, err := h.store.TryEnqueue("web01", types.ClassDaily)
	require.NoError(t, err)
	assert.True(t, ok)
}
