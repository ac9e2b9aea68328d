package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"sshstudio/pkg/define"
	"sshstudio/pkg/event"
	"sshstudio/pkg/service"
	"sshstudio/pkg/settings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  define.FlagVerbose,
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  define.FlagLogLevel,
			Usage: "log level: OFF, ERROR, WARN, INFO, DEBUG or TRACE",
		},
		&cli.StringFlag{
			Name:  define.FlagSettings,
			Usage: "settings file, defaults to $XDG_CONFIG_HOME/studio/settings.yaml",
		},
		&cli.StringFlag{
			Name:  define.FlagHost,
			Usage: "remote host name or address",
		},
		&cli.UintFlag{
			Name:  define.FlagPort,
			Usage: "remote ssh port",
		},
		&cli.StringFlag{
			Name:  define.FlagUser,
			Usage: "remote user",
		},
		&cli.StringFlag{
			Name:    define.FlagPassword,
			Usage:   "login password, never written back to the settings file",
			Sources: cli.EnvVars("STUDIO_PASSWORD"),
		},
		&cli.StringFlag{
			Name:  define.FlagKey,
			Usage: "private key file, selects key login",
		},
		&cli.StringFlag{
			Name:  define.FlagJumpHost,
			Usage: "jump host to tunnel through",
		},
		&cli.UintFlag{
			Name:  define.FlagJumpPort,
			Usage: "jump host ssh port",
		},
		&cli.StringFlag{
			Name:  define.FlagJumpUser,
			Usage: "jump host user",
		},
		&cli.StringFlag{
			Name:    define.FlagJumpPassword,
			Usage:   "jump host password",
			Sources: cli.EnvVars("STUDIO_JUMP_PASSWORD"),
		},
		&cli.StringFlag{
			Name:  define.FlagJumpKey,
			Usage: "jump host private key file",
		},
		&cli.StringFlag{
			Name:  define.FlagGVProxy,
			Usage: "dial the first hop through this gvproxy control socket",
		},
		&cli.DurationFlag{
			Name:  define.FlagWait,
			Usage: "wait up to this long for the host to accept a login before connecting",
		},
		&cli.StringFlag{
			Name:  define.FlagReportSocket,
			Usage: "report events to unix:///path/to/socket",
		},
	}
}

func showVersion() {
	var version strings.Builder
	if define.Version != "" {
		version.WriteString(define.Version)
	} else {
		version.WriteString("unknown")
	}

	version.WriteString("-")

	if define.CommitID != "" {
		version.WriteString(define.CommitID)
	} else {
		version.WriteString("(unknown)")
	}

	logrus.Debugf("%s version: %s", define.AppName, version.String())
}

func setLogrus(command *cli.Command) {
	logrus.SetLevel(logrus.InfoLevel)
	if command.IsSet(define.FlagLogLevel) {
		logrus.SetLevel(define.LogLevelStr2Type(strings.ToUpper(command.String(define.FlagLogLevel))).Logrus())
	}
	if command.Bool(define.FlagVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetOutput(os.Stderr)
}

func portFlag(command *cli.Command, name string) (uint16, error) {
	v := command.Uint(name)
	if v == 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("invalid --%s %d", name, v)
	}
	return uint16(v), nil
}

// applyFlags overrides cfg with the connection flags given on the command
// line.
func applyFlags(command *cli.Command, cfg *settings.Settings) error {
	if command.IsSet(define.FlagHost) {
		cfg.Server = command.String(define.FlagHost)
	}
	if command.IsSet(define.FlagPort) {
		port, err := portFlag(command, define.FlagPort)
		if err != nil {
			return err
		}
		cfg.Port = port
	}
	if command.IsSet(define.FlagUser) {
		cfg.User = command.String(define.FlagUser)
	}
	if command.IsSet(define.FlagPassword) {
		cfg.Password = command.String(define.FlagPassword)
		if !command.IsSet(define.FlagKey) {
			cfg.PrivateKey = ""
		}
	}
	if command.IsSet(define.FlagKey) {
		cfg.PrivateKey = command.String(define.FlagKey)
	}
	if command.IsSet(define.FlagKeyGen) {
		cfg.KeyGen = command.String(define.FlagKeyGen)
	}
	if command.IsSet(define.FlagGVProxy) {
		cfg.GVProxySocket = command.String(define.FlagGVProxy)
	}

	if command.IsSet(define.FlagJumpHost) {
		cfg.Jump = &settings.Jump{Server: command.String(define.FlagJumpHost), Port: define.DefaultPort}
	}
	if cfg.Jump == nil {
		return nil
	}
	if command.IsSet(define.FlagJumpPort) {
		port, err := portFlag(command, define.FlagJumpPort)
		if err != nil {
			return err
		}
		cfg.Jump.Port = port
	}
	if command.IsSet(define.FlagJumpUser) {
		cfg.Jump.User = command.String(define.FlagJumpUser)
	}
	if command.IsSet(define.FlagJumpPassword) {
		cfg.Jump.Password = command.String(define.FlagJumpPassword)
	}
	if command.IsSet(define.FlagJumpKey) {
		cfg.Jump.PrivateKey = command.String(define.FlagJumpKey)
	}
	return nil
}

// newStudio loads the settings, applies the flags and builds a disconnected
// Studio emitting to the log, the reporter when configured, and sinks.
func newStudio(ctx context.Context, command *cli.Command, sinks ...event.Sink) (*service.Studio, error) {
	store, err := settings.NewStore(command.String(define.FlagSettings))
	if err != nil {
		return nil, err
	}
	cfg, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(command, cfg); err != nil {
		return nil, err
	}

	all := append([]event.Sink{event.LogSink{}, event.GetReporterFromCtx(ctx)}, sinks...)
	return service.New(cfg, store, event.Multi(all...)), nil
}

// connect builds a Studio and opens its session. The caller disconnects.
func connect(ctx context.Context, command *cli.Command, sinks ...event.Sink) (*service.Studio, error) {
	studio, err := newStudio(ctx, command, sinks...)
	if err != nil {
		return nil, err
	}
	if err := openSession(ctx, command, studio); err != nil {
		return nil, err
	}
	return studio, nil
}

// openSession connects studio, first waiting for the host when --wait is
// given.
func openSession(ctx context.Context, command *cli.Command, studio *service.Studio) error {
	server := studio.Settings().Server
	if command.IsSet(define.FlagWait) {
		if err := studio.WaitReachable(ctx, command.Duration(define.FlagWait)); err != nil {
			return fmt.Errorf("%s not reachable: %w", server, err)
		}
	}
	if err := studio.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", server, err)
	}
	return nil
}

func disconnect(studio *service.Studio) {
	if err := studio.Disconnect(); err != nil {
		logrus.Warnf("failed to disconnect: %v", err)
	}
}

// requireArgs checks the positional argument count.
func requireArgs(command *cli.Command, n int) error {
	if command.Args().Len() != n {
		return fmt.Errorf("%s: expected %d arguments, got %d", command.Name, n, command.Args().Len())
	}
	return nil
}
