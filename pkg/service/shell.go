package service

import (
	"context"
	"errors"
	"fmt"

	"sshstudio/pkg/event"
	"sshstudio/pkg/ssh"

	"github.com/google/uuid"
)

// ErrNoShell is returned by shell operations issued before OpenShell.
var ErrNoShell = errors.New("no shell is open")

// shellEvents turns shell callbacks into events tagged with the shell id.
type shellEvents struct {
	ctx  context.Context
	sink event.Sink
	id   string
}

func (h *shellEvents) OnOutput(chunk []byte) {
	h.sink.Emit(h.ctx, event.Event{
		Stage:   event.Shell,
		Name:    event.ShellOutput,
		Session: h.id,
		Data:    chunk,
	})
}

func (h *shellEvents) OnClosed(err error) {
	evt := event.New(event.Shell, event.ShellClosed, "")
	evt.Session = h.id
	if err != nil {
		evt.Value = err.Error()
	}
	h.sink.Emit(h.ctx, evt)
}

// OpenShell opens a pty shell of cols x rows and starts streaming. Output
// and closure are delivered to the sink as events carrying the returned id.
// ctx bounds the shell's lifetime as well as the open.
func (s *Studio) OpenShell(ctx context.Context, cols, rows int, termType string) (string, error) {
	client, err := s.session()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.shell != nil && s.shell.State() != ssh.ShellClosed {
		s.mu.Unlock()
		return "", fmt.Errorf("a shell is already open (%s)", s.shellID)
	}
	s.mu.Unlock()

	id := "sess-" + uuid.NewString()
	cfg := ssh.NewShellConfig().WithSize(cols, rows).WithTerminalType(termType)
	shell := ssh.NewShell(client, cfg, &shellEvents{ctx: ctx, sink: s.sink, id: id})

	s.op.Lock()
	err = shell.Open(ctx)
	s.op.Unlock()
	if err != nil {
		return "", s.emitErr(ctx, event.Shell, err)
	}
	if err := shell.StartStreaming(ctx); err != nil {
		_ = shell.Close()
		return "", s.emitErr(ctx, event.Shell, err)
	}

	s.mu.Lock()
	s.shell, s.shellID = shell, id
	s.mu.Unlock()

	opened := event.New(event.Shell, event.ShellOpened, "")
	opened.Session = id
	s.emit(ctx, opened)
	return id, nil
}

func (s *Studio) currentShell() (*ssh.Shell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell == nil {
		return nil, ErrNoShell
	}
	return s.shell, nil
}

// SendKey queues input for the shell.
func (s *Studio) SendKey(data []byte) error {
	shell, err := s.currentShell()
	if err != nil {
		return err
	}
	return shell.Send(data)
}

// Resize changes the shell's terminal geometry.
func (s *Studio) Resize(cols, rows int) error {
	shell, err := s.currentShell()
	if err != nil {
		return err
	}
	return shell.Resize(cols, rows)
}

// ShellDone is closed when the current shell closes. It returns nil when no
// shell is open.
func (s *Studio) ShellDone() <-chan struct{} {
	shell, err := s.currentShell()
	if err != nil {
		return nil
	}
	return shell.Done()
}

// CloseShell closes the current shell and keeps the session open.
func (s *Studio) CloseShell() error {
	s.mu.Lock()
	shell := s.shell
	s.shell, s.shellID = nil, ""
	s.mu.Unlock()

	if shell == nil {
		return ErrNoShell
	}
	return shell.Close()
}
