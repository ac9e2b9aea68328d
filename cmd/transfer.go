package main

import (
	"context"
	"fmt"
	"os"

	"sshstudio/pkg/event"

	"github.com/urfave/cli/v3"
)

var downloadCommand = cli.Command{
	Name:      "download",
	Usage:     "copy a remote file to the local machine",
	UsageText: "download <remote> <local>",
	Action: func(ctx context.Context, command *cli.Command) error {
		return transfer(ctx, command, true)
	},
}

var uploadCommand = cli.Command{
	Name:      "upload",
	Usage:     "copy a local file to the remote host",
	UsageText: "upload <local> <remote>",
	Action: func(ctx context.Context, command *cli.Command) error {
		return transfer(ctx, command, false)
	},
}

// progressBar draws transfer progress on stderr.
func progressBar() event.Sink {
	return event.SinkFunc(func(_ context.Context, evt event.Event) {
		switch evt.Name {
		case event.TransferProgress:
			fmt.Fprintf(os.Stderr, "\r%s%%", evt.Value)
		case event.TransferDone:
			fmt.Fprintln(os.Stderr)
		}
	})
}

func transfer(ctx context.Context, command *cli.Command, download bool) error {
	if err := requireArgs(command, 2); err != nil {
		return err
	}
	from, to := command.Args().Get(0), command.Args().Get(1)

	studio, err := connect(ctx, command, progressBar())
	if err != nil {
		return err
	}
	defer disconnect(studio)

	if download {
		_, err = studio.Download(ctx, from, to)
	} else {
		_, err = studio.Upload(ctx, from, to)
	}
	return err
}
