package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"sshstudio/pkg/define"
	"sshstudio/pkg/ssh"

	"github.com/urfave/cli/v3"
)

var runCommand = cli.Command{
	Name:        "run",
	Usage:       "run a command on the remote host",
	UsageText:   "run [--stream] [--] <command...>",
	Description: "run a command and print its stdout. Any stderr output counts as failure unless --stream is given, which copies both streams as they arrive and fails on a non-zero exit status instead",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  define.FlagStream,
			Usage: "stream stdout and stderr instead of collecting stdout",
		},
	},
	Action: runRemote,
}

func runRemote(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() < 1 {
		return fmt.Errorf("no command specified")
	}
	line := strings.Join(command.Args().Slice(), " ")

	studio, err := connect(ctx, command)
	if err != nil {
		return err
	}
	defer disconnect(studio)

	if command.Bool(define.FlagStream) {
		return studio.Exec(ctx, ssh.DefaultExecOptions(), line)
	}

	out, err := studio.RunCommand(ctx, line)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintln(os.Stdout, out)
	}
	return nil
}
