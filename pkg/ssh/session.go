package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrSessionClosed is returned when operations are attempted on a closed session
	ErrSessionClosed = errors.New("SSH session is closed")
	// ErrPTYRequestFailed is returned when PTY allocation fails
	ErrPTYRequestFailed = errors.New("failed to request PTY")
)

// Session is one channel of a Client: an exec channel for a single command
// or the shell channel of an interactive shell. Its stdout side is read
// through a channelIO, so reads never block the caller.
type Session struct {
	session *ssh.Session
	client  *Client

	// stdout carries the data stream and, when opened with stdin, the write side
	stdout *channelIO
	stderr *channelIO

	ptyAllocated bool

	// Lifecycle
	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.RWMutex
}

// RequestPTY allocates a pseudo-terminal for the session.
func (s *Session) RequestPTY(ctx context.Context, termType string, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.ptyAllocated {
		return errors.New("PTY already allocated for this session")
	}

	// Configure terminal modes
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,     // Enable echoing
		ssh.IUTF8:         1,     // UTF-8 input
		ssh.TTY_OP_ISPEED: 14400, // Input speed
		ssh.TTY_OP_OSPEED: 14400, // Output speed
	}

	err := awaitErr(ctx, s.client, func() error {
		return s.session.RequestPty(termType, height, width, modes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPTYRequestFailed, err)
	}

	s.ptyAllocated = true
	logrus.Debugf("PTY allocated: %s (%dx%d)", termType, width, height)
	return nil
}

// openPipes wires the channel's streams into channelIOs. It must run before
// Start or Shell.
func (s *Session) openPipes(withStdin, withStderr bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	stdoutPipe, err := s.session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if withStdin {
		stdinPipe, err := s.session.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to get stdin pipe: %w", err)
		}
		s.stdout = newChannelIO(stdoutPipe, stdinPipe)
	} else {
		s.stdout = newChannelIO(stdoutPipe, nil)
	}

	if withStderr {
		stderrPipe, err := s.session.StderrPipe()
		if err != nil {
			return fmt.Errorf("failed to get stderr pipe: %w", err)
		}
		s.stderr = newChannelIO(stderrPipe, nil)
	}

	return nil
}

// Start begins execution of command without waiting for it to complete.
func (s *Session) Start(ctx context.Context, command string) error {
	if command == "" {
		return errors.New("command is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	logrus.Debugf("starting command: %s", command)
	return awaitErr(ctx, s.client, func() error {
		return s.session.Start(command)
	})
}

// Shell starts a login shell on the session.
func (s *Session) Shell(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	return awaitErr(ctx, s.client, s.session.Shell)
}

// Wait waits for the remote side to close the channel. The exit status is
// not interpreted: a command that ran and exited is a success here.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session == nil {
		return ErrSessionClosed
	}

	err := awaitErr(ctx, s.client, session.Wait)
	if err == nil {
		return nil
	}

	var (
		exitErr    *ssh.ExitError
		missingErr *ssh.ExitMissingError
	)
	if errors.As(err, &exitErr) {
		logrus.Debugf("command exited with code %d", exitErr.ExitStatus())
		return nil
	}
	if errors.As(err, &missingErr) {
		return nil
	}
	return err
}

// Signal sends a signal to the remote process.
func (s *Session) Signal(signal ssh.Signal) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	if err := s.session.Signal(signal); err != nil {
		return fmt.Errorf("failed to send signal %s: %w", signal, err)
	}

	logrus.Debugf("sent signal %s to remote process", signal)
	return nil
}

// WindowChange informs the remote terminal of a size change
func (s *Session) WindowChange(height, width int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed() {
		return ErrSessionClosed
	}

	if !s.ptyAllocated {
		return errors.New("cannot change window size without PTY")
	}

	if err := s.session.WindowChange(height, width); err != nil {
		return fmt.Errorf("failed to change window size: %w", err)
	}

	return nil
}

// TryRead reads available output without blocking.
func (s *Session) TryRead(p []byte) (int, error) {
	return s.stdout.TryRead(p)
}

// TryWrite queues p for the remote stdin without blocking.
func (s *Session) TryWrite(p []byte) (int, error) {
	return s.stdout.TryWrite(p)
}

// Flush waits until the last chunk passed to TryWrite reached the channel.
func (s *Session) Flush(ctx context.Context) error {
	return s.stdout.Flush(ctx)
}

// Ready fires when output may be available.
func (s *Session) Ready() <-chan struct{} {
	return s.stdout.Ready()
}

// Close closes the session and releases all resources.
// It is safe to call Close multiple times.
func (s *Session) Close() error {
	var finalErr error

	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Signal closure
		close(s.closed)

		if s.session != nil {
			if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) && !isErrorIsConnectionAlreadyClosed(err) {
				finalErr = fmt.Errorf("failed to close SSH session: %w", err)
			}
			s.session = nil
		}

		logrus.Debugf("SSH session closed")
	})

	return finalErr
}

// isClosed returns true if the session has been closed
func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
