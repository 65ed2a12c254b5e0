package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecChecker runs a command; exit code 0 is healthy
type ExecChecker struct {
	Command []string
	Dir     string
	Timeout time.Duration

	// Output holds the combined output of the last run
	Output string
}

// NewExecChecker creates an exec checker with a 10 minute timeout
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Minute,
	}
}

// Check runs the command
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return failed(start, "no command specified")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	e.Output = strings.TrimSpace(stdout.String() + stderr.String())

	message := fmt.Sprintf("Command: %s", strings.Join(e.Command, " "))
	if err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, strings.TrimSpace(stderr.String()))
		}
		return failed(start, message)
	}

	if stdout.Len() > 0 {
		output := strings.TrimSpace(stdout.String())
		if len(output) > 200 {
			output = output[:200] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, output)
	}
	return passed(start, message)
}

// Type returns the probe type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithDir sets the working directory
func (e *ExecChecker) WithDir(dir string) *ExecChecker {
	e.Dir = dir
	return e
}
