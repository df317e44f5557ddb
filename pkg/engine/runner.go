package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CommandRunner executes an external command and reports its exit code.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (int, error)
}

// ExecRunner runs commands on the local host, inheriting the agent's
// stdout and stderr so engine output lands in the instance console log.
type ExecRunner struct{}

// Run executes the command. A nonzero exit is returned as the exit code
// with a nil error; the error return is reserved for failures to start or
// observe the process.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", name, err)
}
