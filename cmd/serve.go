package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"sshstudio/pkg/define"
	"sshstudio/pkg/network"
	"sshstudio/pkg/path"
	"sshstudio/pkg/server"
	"sshstudio/pkg/service"
	"sshstudio/pkg/system"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var serveCommand = cli.Command{
	Name:        "serve",
	Usage:       "serve the session over a unix socket",
	UsageText:   "serve [--listen unix:///path/to/socket] [--connect]",
	Description: "expose connect, run, transfers, file access and the shell as a JSON API with server-sent events on GET /events",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagListen,
			Usage: "unix socket to listen on, defaults to control.sock in the config directory",
		},
		&cli.BoolFlag{
			Name:  "connect",
			Usage: "connect with the stored settings before serving",
		},
	},
	Action: serve,
}

func defaultListenAddr() (string, error) {
	dir, err := path.GetConfigDir()
	if err != nil {
		return "", err
	}
	return "unix://" + filepath.Join(dir, "control.sock"), nil
}

func serve(ctx context.Context, command *cli.Command) error {
	listen := command.String(define.FlagListen)
	if listen == "" {
		var err error
		if listen, err = defaultListenAddr(); err != nil {
			return err
		}
	}
	addr, err := network.ParseUnixAddr(listen)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", define.FlagListen, err)
	}
	if err := system.EnsureDir(filepath.Dir(addr.Path), 0o700); err != nil {
		return err
	}

	// every SSE subscriber holds a socket
	if err := system.RaiseOpenFileLimit(); err != nil {
		logrus.Warnf("failed to raise open file limit: %v", err)
	}

	stream := server.NewEventStream()
	studio, err := newStudio(ctx, command, stream)
	if err != nil {
		return err
	}
	if command.Bool("connect") {
		if err := openSession(ctx, command, studio); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.NewControlServer(listen, studio, stream).Start(ctx)
	}()

	if err := service.WaitAll(ctx, define.ControlReadyTimeout, service.NewControlServerProbe(listen)); err != nil {
		select {
		case err = <-errCh:
		default:
			err = fmt.Errorf("control server on %s not ready: %w", listen, err)
		}
		return serveResult(err)
	}
	logrus.Infof("control server ready on %s", listen)

	return serveResult(<-errCh)
}

func serveResult(err error) error {
	if errors.Is(err, server.ErrStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
