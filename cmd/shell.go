package main

import (
	"context"
	"errors"
	"io"
	"os"

	"sshstudio/pkg/define"
	"sshstudio/pkg/event"
	"sshstudio/pkg/system"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var shellCommand = cli.Command{
	Name:        "shell",
	Usage:       "open an interactive shell",
	Description: "open a pty shell bound to the local terminal; the remote size follows the local window",
	Action:      interactiveShell,
}

// terminalOutput copies shell output to stdout.
func terminalOutput() event.Sink {
	return event.SinkFunc(func(_ context.Context, evt event.Event) {
		if evt.Name == event.ShellOutput {
			_, _ = os.Stdout.Write(evt.Data)
		}
	})
}

func interactiveShell(ctx context.Context, command *cli.Command) error {
	studio, err := connect(ctx, command, terminalOutput())
	if err != nil {
		return err
	}
	defer disconnect(studio)

	cols, rows, err := system.GetTerminalSize()
	if err != nil {
		cols, rows = define.DefaultTerminalWidth, define.DefaultTerminalHeight
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := studio.OpenShell(ctx, cols, rows, system.GetTerminalType()); err != nil {
		return err
	}

	if system.IsTerminal() {
		state, err := system.MakeStdinRaw()
		if err != nil {
			return err
		}
		defer system.ResetStdin(state)
	}

	system.OnTerminalResize(ctx, func(width, height int) {
		if err := studio.Resize(width, height); err != nil {
			logrus.Debugf("failed to resize shell: %v", err)
		}
	})

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if err := studio.SendKey(append([]byte(nil), buf[:n]...)); err != nil {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logrus.Debugf("stdin closed: %v", err)
				}
				return
			}
		}
	}()

	select {
	case <-studio.ShellDone():
	case <-ctx.Done():
	}
	return studio.CloseShell()
}
