package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_scheduler_ticks_total",
			Help: "Total number of scheduler ticks evaluated",
		},
	)

	JobsDue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_jobs_due_total",
			Help: "Total number of jobs found due by class",
		},
		[]string{"class"},
	)

	ConfigErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_config_errors_total",
			Help: "Total number of jobs skipped because of configuration errors",
		},
	)

	// Queue metrics
	QueueEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sbe_queue_entries",
			Help: "Current number of queue entries by state",
		},
		[]string{"state"},
	)

	DuplicatesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_jobs_duplicate_total",
			Help: "Total number of due jobs suppressed because the pair was already queued",
		},
	)

	AdmissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sbe_admission_wait_seconds",
			Help:    "Time jobs waited for a running slot",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
		},
	)

	// Job metrics
	JobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_jobs_started_total",
			Help: "Total number of worker processes started by class",
		},
		[]string{"class"},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_jobs_completed_total",
			Help: "Total number of finished jobs by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbe_job_duration_seconds",
			Help:    "Worker run time in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 3, 9),
		},
		[]string{"class"},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbe_jobs_in_flight",
			Help: "Number of worker processes currently monitored",
		},
	)

	// Volume metrics
	VolumeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_volume_operations_total",
			Help: "Total number of volume operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	VolumeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbe_volume_operation_duration_seconds",
			Help:    "Volume operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DeviceCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sbe_device_collisions_total",
			Help: "Total number of device-mapper name collisions detected",
		},
	)

	// Key metrics
	KeyResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_key_resolutions_total",
			Help: "Total number of passphrase resolutions by mode and source",
		},
		[]string{"mode", "source"},
	)

	// Checker metrics
	CheckerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbe_checker_runs_total",
			Help: "Total number of daily checker runs by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(SchedulerTicks)
	prometheus.MustRegister(JobsDue)
	prometheus.MustRegister(ConfigErrors)
	prometheus.MustRegister(QueueEntries)
	prometheus.MustRegister(DuplicatesSuppressed)
	prometheus.MustRegister(AdmissionWait)
	prometheus.MustRegister(JobsStarted)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(VolumeOperations)
	prometheus.MustRegister(VolumeOperationDuration)
	prometheus.MustRegister(DeviceCollisions)
	prometheus.MustRegister(KeyResolutions)
	prometheus.MustRegister(CheckerRuns)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds in a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
