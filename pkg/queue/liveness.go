package queue

import (
	"github.com/shirou/gopsutil/v3/process"
)

// LivenessChecker decides whether the owner of a queue entry still exists.
//
// The check is advisory. Between a liveness check and the following enqueue
// another actor may enqueue the same pair, and a PID may be reused by an
// unrelated process.
type LivenessChecker interface {
	Alive(pid int) bool
}

// ProcessTable checks the OS process table
type ProcessTable struct{}

// Alive reports whether pid exists. Lookup errors count as alive so an
// unreadable process table never purges entries.
func (ProcessTable) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}

// LivenessFunc adapts a function to LivenessChecker
type LivenessFunc func(pid int) bool

func (f LivenessFunc) Alive(pid int) bool { return f(pid) }
