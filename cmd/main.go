package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sshstudio/pkg/define"
	"sshstudio/pkg/event"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:                      define.AppName,
		Usage:                     "talk to a remote host over ssh",
		UsageText:                 define.AppName + " [global flags] <command> [flags] [args]",
		Description:               "run commands, move files, browse the remote file system and open a shell on a remote host, optionally through a jump host",
		Before:                    earlyStage,
		After:                     lateStage,
		Flags:                     globalFlags(),
		DisableSliceFlagSeparator: true,
	}

	app.Commands = []*cli.Command{
		&runCommand,
		&downloadCommand,
		&uploadCommand,
		&fsCommand,
		&shellCommand,
		&setupKeyCommand,
		&algorithmsCommand,
		&serveCommand,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	setLogrus(command)
	showVersion()

	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	if command.IsSet(define.FlagReportSocket) {
		ctx = event.WithReporter(ctx, event.InitializeReporter(command.String(define.FlagReportSocket)))
	}
	return ctx, nil
}

func lateStage(ctx context.Context, _ *cli.Command) error {
	if r := event.GetReporterFromCtx(ctx); r != nil {
		_ = r.Close()
	}
	return nil
}
