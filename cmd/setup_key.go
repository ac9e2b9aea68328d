package main

import (
	"context"
	"fmt"
	"os"

	"sshstudio/pkg/define"

	"github.com/urfave/cli/v3"
)

var setupKeyCommand = cli.Command{
	Name:        "setup-key",
	Usage:       "install a public key and switch to key login",
	UsageText:   "setup-key [--keygen builtin|ssh-keygen]",
	Description: "create a key pair unless one exists, append its public key to the remote authorized_keys over a password session when key login fails, and remember the key in the settings file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagKeyGen,
			Usage: "key generator: builtin or ssh-keygen",
			Value: define.KeyGenBuiltin,
		},
	},
	Action: setupKey,
}

func setupKey(ctx context.Context, command *cli.Command) error {
	studio, err := newStudio(ctx, command)
	if err != nil {
		return err
	}

	keyPath, err := studio.SetupKey(ctx, command.String(define.FlagPassword))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "key login enabled with %s\n", keyPath)
	return nil
}
