package types

import (
	"fmt"
	"strings"
	"time"
)

// JobClass is the retention tier a backup run belongs to
type JobClass string

const (
	ClassDaily   JobClass = "daily"
	ClassWeekly  JobClass = "weekly"
	ClassMonthly JobClass = "monthly"
	ClassYearly  JobClass = "yearly"
	ClassLatest  JobClass = "latest"
)

// JobClasses lists every tier in layout order
var JobClasses = []JobClass{ClassDaily, ClassWeekly, ClassMonthly, ClassYearly, ClassLatest}

// ParseJobClass converts a string to a JobClass
func ParseJobClass(s string) (JobClass, error) {
	c := JobClass(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown job class %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known tiers
func (c JobClass) Valid() bool {
	for _, known := range JobClasses {
		if c == known {
			return true
		}
	}
	return false
}

// JobDefinition is one configured backup job
type JobDefinition struct {
	Target    string   `yaml:"backupdirectory" validate:"required,excludesall=/;"`
	Interval  string   `yaml:"intervall" validate:"required"`
	Date      string   `yaml:"date" validate:"required"`
	Class     JobClass `yaml:"type" validate:"required,oneof=daily weekly monthly yearly latest"`
	Retention int      `yaml:"retention" validate:"gte=0"`
	Include   []string `yaml:"include,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
}

// Key identifies the (target, class) pair used for de-duplication
func (j JobDefinition) Key() JobKey {
	return JobKey{Target: j.Target, Class: j.Class}
}

// JobKey is the de-duplication key of the queue
type JobKey struct {
	Target string
	Class  JobClass
}

func (k JobKey) String() string {
	return k.Target + "/" + string(k.Class)
}

// QueueState represents the lifecycle state of a queue entry
type QueueState string

const (
	QueuePending QueueState = "PENDING"
	QueueRunning QueueState = "RUNNING"
)

// QueueEntry is a pending or running job
type QueueEntry struct {
	PID        int
	EnqueuedAt time.Time
	Target     string
	Class      JobClass
	State      QueueState
}

// Key returns the de-duplication key of the entry
func (e QueueEntry) Key() JobKey {
	return JobKey{Target: e.Target, Class: e.Class}
}

// Outcome is the result of a finished job
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// OutcomeOf maps a success flag to an Outcome
func OutcomeOf(success bool) Outcome {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailed
}

// CompletionRecord is an append-only record of a finished job
type CompletionRecord struct {
	PID        int
	FinishedAt time.Time
	Target     string
	Class      JobClass
	Outcome    Outcome
}

// VolumeState represents the state of a backup volume
type VolumeState string

const (
	VolumeClosed  VolumeState = "CLOSED"
	VolumeOpen    VolumeState = "OPEN"
	VolumeMounted VolumeState = "MOUNTED"
)

// KeySource tells where a passphrase came from
type KeySource string

const (
	KeySourceRemote    KeySource = "REMOTE"
	KeySourceLocalFile KeySource = "LOCAL_FILE"
)

// KeyMode selects the passphrase retrieval protocol
type KeyMode string

const (
	// KeyModeStrict consults only the remote key service
	KeyModeStrict KeyMode = "STRICT"
	// KeyModeFallback tries the remote service first, then the local file
	KeyModeFallback KeyMode = "FALLBACK"
	// KeyModeLocal reads the local passphrase file only (hosts without a marker)
	KeyModeLocal KeyMode = "LOCAL"
)

// HostConfig holds the per-target settings from server.config
type HostConfig struct {
	Server    string
	Port      int
	User      string
	Share     string
	Encrypted bool
	// Extra keeps every key, including the ones mapped above
	Extra map[string]string
}

// RunStats summarizes the history of a (target, class) pair
type RunStats struct {
	Target              string    `json:"target"`
	Class               JobClass  `json:"class"`
	LastStarted         time.Time `json:"last_started"`
	LastFinished        time.Time `json:"last_finished"`
	LastOutcome         Outcome   `json:"last_outcome,omitempty"`
	LastSuccess         time.Time `json:"last_success"`
	LastRunID           string    `json:"last_run_id,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRuns           int       `json:"total_runs"`
}
