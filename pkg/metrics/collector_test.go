package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

type fakeQueue struct {
	pending, running []types.QueueEntry
	err              error
}

func (f *fakeQueue) Pending() ([]types.QueueEntry, error) { return f.pending, f.err }
func (f *fakeQueue) Running() ([]types.QueueEntry, error) { return f.running, f.err }

func TestCollectorCollect(t *testing.T) {
	q := &fakeQueue{
		pending: []types.QueueEntry{{Target: "a"}, {Target: "b"}},
		running: []types.QueueEntry{{Target: "c"}},
	}
	c := NewCollector(q, 0)
	c.Collect()

	if got := testutil.ToFloat64(QueueEntries.WithLabelValues("PENDING")); got != 2 {
		t.Errorf("pending gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(QueueEntries.WithLabelValues("RUNNING")); got != 1 {
		t.Errorf("running gauge = %v, want 1", got)
	}

	// read errors leave the previous sample in place
	q.err = errors.New("locked")
	q.pending = nil
	c.Collect()
	if got := testutil.ToFloat64(QueueEntries.WithLabelValues("PENDING")); got != 2 {
		t.Errorf("pending gauge = %v after error, want 2", got)
	}

	c.Stop()
	c.Stop()
}
