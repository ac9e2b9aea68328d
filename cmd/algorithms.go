package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

var algorithmsCommand = cli.Command{
	Name:   "algorithms",
	Usage:  "list the algorithms the session can negotiate",
	Action: listAlgorithms,
}

func listAlgorithms(ctx context.Context, command *cli.Command) error {
	studio, err := connect(ctx, command)
	if err != nil {
		return err
	}
	defer disconnect(studio)

	algos, err := studio.Algorithms()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "server:        %s\n", algos.ServerVersion)
	fmt.Fprintf(os.Stdout, "key exchanges: %s\n", strings.Join(algos.KeyExchanges, ", "))
	fmt.Fprintf(os.Stdout, "ciphers:       %s\n", strings.Join(algos.Ciphers, ", "))
	fmt.Fprintf(os.Stdout, "macs:          %s\n", strings.Join(algos.MACs, ", "))
	fmt.Fprintf(os.Stdout, "host keys:     %s\n", strings.Join(algos.HostKeys, ", "))
	return nil
}
