package volume

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
)

// Runner executes the external primitives (cryptsetup, mount, dmsetup, ...)
type Runner interface {
	// Run executes name with args, feeding stdin when non-nil, and returns
	// stdout. A non-zero exit is an errdefs.ExternalTool error carrying stderr.
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), errdefs.ExternalTool(commandLine(name, args...), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func commandLine(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}
