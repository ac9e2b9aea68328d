// Package localexec runs commands on the local machine through sh -c.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result is the trimmed output and exit status of one local command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Failure reports a command that wrote to stderr.
type Failure struct {
	Command string
	Result  Result
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%q failed (exit %d): %s", e.Command, e.Result.ExitCode, e.Result.Stderr)
}

// Run executes command with sh -c. A non-zero exit status is reported in
// Result, not as an error; err is set only when the shell could not run.
func Run(ctx context.Context, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.Debugf("local exec: %s", command)
	err := cmd.Run()

	res := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("failed to run %q: %w", command, err)
	}
	return res, nil
}

// Check runs command and turns any stderr output into a Failure.
func Check(ctx context.Context, command string) (Result, error) {
	res, err := Run(ctx, command)
	if err != nil {
		return res, err
	}
	if res.Stderr != "" {
		return res, &Failure{Command: command, Result: res}
	}
	return res, nil
}
