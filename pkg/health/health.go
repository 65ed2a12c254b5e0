package health

import (
	"context"
	"time"
)

// CheckType represents the type of probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every probe
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

func failed(start time.Time, message string) Result {
	return Result{
		Healthy:   false,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func passed(start time.Time, message string) Result {
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
