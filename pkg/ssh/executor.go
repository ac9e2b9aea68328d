package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Executor runs commands on the remote host, one exec channel per command.
type Executor struct {
	client *Client
}

// NewExecutor creates a new command executor using the given client
func NewExecutor(client *Client) *Executor {
	return &Executor{
		client: client,
	}
}

// QuoteCommand joins args into one shell-safe command line.
func QuoteCommand(args ...string) string {
	return shellescape.QuoteCommand(args)
}

// Run executes command and returns its stdout with surrounding whitespace
// trimmed.
//
// Anything written to stderr makes Run fail with a CommandFailure carrying
// the stderr text, even when the command exited with status 0. The exit
// status itself is not consulted. Callers rely on this policy.
//
// Example:
//
//	user, err := ssh.NewExecutor(client).Run(ctx, "whoami")
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	session, err := e.client.NewSession(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	if err := session.openPipes(false, true); err != nil {
		return "", err
	}

	if err := session.Start(ctx, command); err != nil {
		return "", fmt.Errorf("failed to exec %q: %w", command, err)
	}

	blocking := e.client.Blocking()

	stderr, err := session.stderr.ReadAll(ctx, blocking)
	if err != nil {
		return "", fmt.Errorf("failed to read stderr of %q: %w", command, err)
	}
	if len(stderr) > 0 {
		return "", &CommandFailure{Command: command, Stderr: string(stderr)}
	}

	stdout, err := session.stdout.ReadAll(ctx, blocking)
	if err != nil {
		return "", fmt.Errorf("failed to read stdout of %q: %w", command, err)
	}

	if err := session.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed waiting for %q to close: %w", command, err)
	}

	return strings.TrimSpace(string(stdout)), nil
}

// ExecOptions configures streaming command execution
type ExecOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Signal to send on context cancellation
	CancelSignal ssh.Signal
}

// DefaultExecOptions returns options with stdout/stderr connected to
// os.Stdout/os.Stderr.
func DefaultExecOptions() *ExecOptions {
	return &ExecOptions{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		CancelSignal: ssh.SIGTERM,
	}
}

// WithStdin sets the input stream
func (o *ExecOptions) WithStdin(r io.Reader) *ExecOptions {
	o.Stdin = r
	return o
}

// WithStdout sets the output stream
func (o *ExecOptions) WithStdout(w io.Writer) *ExecOptions {
	o.Stdout = w
	return o
}

// WithStderr sets the error stream
func (o *ExecOptions) WithStderr(w io.Writer) *ExecOptions {
	o.Stderr = w
	return o
}

// WithCancelSignal sets the signal to send on context cancellation
func (o *ExecOptions) WithCancelSignal(signal ssh.Signal) *ExecOptions {
	o.CancelSignal = signal
	return o
}

// Exec streams the command's output to the configured writers and waits for
// it to finish. Unlike Run, stderr output is passed through and the exit
// status decides success.
func (e *Executor) Exec(ctx context.Context, opts *ExecOptions, command string) error {
	session, err := e.client.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	session.mu.Lock()
	session.session.Stdin = opts.Stdin
	session.session.Stdout = opts.Stdout
	session.session.Stderr = opts.Stderr
	sshSession := session.session
	session.mu.Unlock()

	if err := session.Start(ctx, command); err != nil {
		return err
	}

	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- sshSession.Wait()
	}()

	select {
	case <-ctx.Done():
		logrus.Infof("context canceled, sending signal %s", opts.CancelSignal)
		if err := session.Signal(opts.CancelSignal); err != nil {
			logrus.Debugf("failed to send signal: %v", err)
		}
		return ctx.Err()
	case err := <-runErrChan:
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return fmt.Errorf("command exited with code %d", exitErr.ExitStatus())
		}
		return err
	}
}
