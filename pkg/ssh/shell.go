package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"sshstudio/pkg/define"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ShellState is the lifecycle state of an interactive shell
type ShellState int32

const (
	ShellUninitialized ShellState = iota
	ShellPTYOpen
	ShellStreaming
	ShellClosed
)

func (s ShellState) String() string {
	switch s {
	case ShellUninitialized:
		return "uninitialized"
	case ShellPTYOpen:
		return "pty-open"
	case ShellStreaming:
		return "streaming"
	case ShellClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// shellChannel is the duplex channel a shell streams over.
type shellChannel interface {
	TryRead(p []byte) (int, error)
	TryWrite(p []byte) (int, error)
	Flush(ctx context.Context) error
	Ready() <-chan struct{}
	WindowChange(height, width int) error
	Close() error
}

// ShellHandler receives shell output in the order it was read and, exactly
// once, the reason the shell closed.
type ShellHandler interface {
	OnOutput(chunk []byte)
	OnClosed(err error)
}

// Shell is an interactive pseudo-terminal session. After StartStreaming a
// writer task drains queued input into the channel and a reader task wakes
// on readiness and forwards output. Both share the channel under mu.
type Shell struct {
	client  *Client
	config  *ShellConfig
	handler ShellHandler

	mu sync.Mutex
	ch shellChannel

	state atomic.Int32
	input *inputQueue

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// NewShell prepares a shell on client. Nothing is opened until Open.
func NewShell(client *Client, config *ShellConfig, handler ShellHandler) *Shell {
	if config == nil {
		config = NewShellConfig()
	}
	return &Shell{
		client:  client,
		config:  config,
		handler: handler,
		input:   newInputQueue(),
		done:    make(chan struct{}),
	}
}

// State returns the current state
func (s *Shell) State() ShellState {
	return ShellState(s.state.Load())
}

// Open creates the shell channel, requests a pty and starts the login shell.
// The session is switched to blocking mode for these steps only.
func (s *Shell) Open(ctx context.Context) error {
	if s.State() != ShellUninitialized {
		return fmt.Errorf("shell already opened (state %s)", s.State())
	}

	s.client.SetBlocking(true)
	defer s.client.SetBlocking(false)

	session, err := s.client.NewSession(ctx)
	if err != nil {
		return err
	}

	if err := session.RequestPTY(ctx, s.config.TerminalType, s.config.TerminalWidth, s.config.TerminalHeight); err != nil {
		_ = session.Close()
		return err
	}
	if err := session.openPipes(true, false); err != nil {
		_ = session.Close()
		return err
	}
	if err := session.Shell(ctx); err != nil {
		_ = session.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	s.attach(session)
	logrus.Debugf("shell opened on %s", s.client.config.Addr())
	return nil
}

func (s *Shell) attach(ch shellChannel) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
	s.state.Store(int32(ShellPTYOpen))
}

// StartStreaming spawns the reader and writer tasks. They run until the
// connection closes, Close is called or ctx ends.
func (s *Shell) StartStreaming(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ShellPTYOpen), int32(ShellStreaming)) {
		return fmt.Errorf("%w: cannot stream in state %s", ErrShellNotOpen, s.State())
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error { return s.writeLoop(ctx) })
	s.group.Go(func() error { return s.readLoop(ctx) })
	return nil
}

// Send queues p for the writer. It never blocks. Input sent in pty-open
// state is written once streaming starts.
func (s *Shell) Send(p []byte) error {
	switch s.State() {
	case ShellPTYOpen, ShellStreaming:
		s.input.push(p)
		return nil
	case ShellClosed:
		return ErrConnectionClosed
	default:
		return ErrShellNotOpen
	}
}

// Resize requests a new terminal geometry.
func (s *Shell) Resize(cols, rows int) error {
	switch s.State() {
	case ShellPTYOpen, ShellStreaming:
	case ShellClosed:
		return ErrConnectionClosed
	default:
		return ErrShellNotOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.WindowChange(rows, cols)
}

// Done is closed when the shell reaches the closed state.
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

// Err returns why the shell closed, nil while it is open or after Close.
func (s *Shell) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until both tasks have ended.
func (s *Shell) Wait() error {
	if s.group == nil {
		<-s.done
		return s.err
	}
	_ = s.group.Wait()
	return s.Err()
}

// Close stops both tasks and closes the channel.
func (s *Shell) Close() error {
	s.markClosed(nil)

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	if ch == nil {
		return nil
	}
	if err := ch.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// markClosed moves the shell to closed. Only the first call has effect.
func (s *Shell) markClosed(err error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(ShellClosed))
		s.err = err
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		if err != nil {
			logrus.Debugf("shell closed: %v", err)
		}
		if s.handler != nil {
			s.handler.OnClosed(err)
		}
	})
}

func (s *Shell) writeLoop(ctx context.Context) error {
	idle := time.NewTicker(define.ShellIdleInterval)
	defer idle.Stop()

	for {
		chunk, ok := s.input.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.input.wake:
			case <-idle.C:
			}
			continue
		}

		_, err := retryWouldBlock(ctx, func() (int, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.ch.TryWrite(chunk)
		})
		// the accepted chunk drains in the background; wait for it here,
		// outside mu, so a failed write closes the shell right away
		if err == nil {
			err = s.ch.Flush(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
			s.markClosed(err)
			return err
		}
	}
}

func (s *Shell) readLoop(ctx context.Context) error {
	buf := make([]byte, define.ShellReadSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ch.Ready():
		}

		for {
			s.mu.Lock()
			n, err := s.ch.TryRead(buf)
			s.mu.Unlock()

			if n > 0 {
				if s.handler != nil {
					s.handler.OnOutput(bytes.Clone(buf[:n]))
				}
				continue
			}
			if errors.Is(err, errWouldBlock) {
				break
			}

			if err == nil || errors.Is(err, io.EOF) {
				err = ErrConnectionClosed
			} else {
				err = fmt.Errorf("%w: read: %v", ErrConnectionClosed, err)
			}
			s.markClosed(err)
			return err
		}
	}
}

// inputQueue is an unbounded FIFO of input chunks.
type inputQueue struct {
	mu    sync.Mutex
	items [][]byte
	wake  chan struct{}
}

func newInputQueue() *inputQueue {
	return &inputQueue{wake: make(chan struct{}, 1)}
}

func (q *inputQueue) push(p []byte) {
	if len(p) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, bytes.Clone(p))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *inputQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	chunk := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return chunk, true
}
