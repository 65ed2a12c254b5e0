package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleep := 50 * time.Millisecond
	time.Sleep(sleep)

	if d := timer.Duration(); d < sleep {
		t.Errorf("Timer.Duration() = %v, want >= %v", d, sleep)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_wait_seconds",
		Help:    "Test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if n := testutil.CollectAndCount(histogram); n != 1 {
		t.Errorf("expected 1 collected metric, got %d", n)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_volume_seconds",
			Help:    "Test histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "mount")
	timer.ObserveDurationVec(vec, "unmount")

	if n := testutil.CollectAndCount(vec); n != 2 {
		t.Errorf("expected 2 label sets, got %d", n)
	}
}

func TestMultipleTimers(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(20 * time.Millisecond)

	timer2 := NewTimer()
	time.Sleep(20 * time.Millisecond)

	if timer1.Duration() <= timer2.Duration() {
		t.Error("timer1 should be running longer than timer2")
	}
}
