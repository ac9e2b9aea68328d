package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"sshstudio/pkg/ssh"

	"github.com/urfave/cli/v3"
)

var fsCommand = cli.Command{
	Name:  "fs",
	Usage: "browse and change the remote file system",
	Commands: []*cli.Command{
		fsAction("stat", "<path>", "describe a path without following symlinks", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			st, err := fs.Stat(ctx, args[0])
			if err != nil {
				return err
			}
			printStat(os.Stdout, args[0], st)
			return nil
		}),
		fsAction("ls", "<dir>", "list a directory", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			entries, err := fs.ReadDir(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Stat.Type, e.Stat.Mode, e.Stat.Size, e.Path)
			}
			return w.Flush()
		}),
		fsAction("mkdir", "<dir>", "create a directory", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			return fs.Mkdir(ctx, args[0])
		}),
		fsAction("rmdir", "<dir>", "remove an empty directory", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			return fs.Rmdir(ctx, args[0])
		}),
		fsAction("rm", "<path>", "delete a file or a whole directory tree", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			return fs.Delete(ctx, args[0])
		}),
		fsAction("mv", "<from> <to>", "rename a path", 2, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			return fs.Rename(ctx, args[0], args[1])
		}),
		fsAction("readlink", "<link>", "print a symlink target", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			target, err := fs.Readlink(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, target)
			return nil
		}),
		fsAction("realpath", "<path>", "resolve a path and describe the result", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			resolved, st, err := fs.Realpath(ctx, args[0])
			if err != nil {
				return err
			}
			printStat(os.Stdout, resolved, st)
			return nil
		}),
		fsAction("cat", "<file>", "print a remote file", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			data, err := fs.ReadFile(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}),
		fsAction("save", "<file>", "write stdin to a remote file", 1, func(ctx context.Context, fs *ssh.FileSystem, args []string) error {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			return fs.Save(ctx, args[0], data)
		}),
	},
}

type fsFunc func(ctx context.Context, fs *ssh.FileSystem, args []string) error

func fsAction(name, argsUsage, usage string, nargs int, fn fsFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		UsageText: "fs " + name + " " + argsUsage,
		Action: func(ctx context.Context, command *cli.Command) error {
			if err := requireArgs(command, nargs); err != nil {
				return err
			}

			studio, err := connect(ctx, command)
			if err != nil {
				return err
			}
			defer disconnect(studio)

			return studio.WithFileSystem(ctx, func(fs *ssh.FileSystem) error {
				return fn(ctx, fs, command.Args().Slice())
			})
		},
	}
}

func printStat(w io.Writer, p string, st *ssh.FileStat) {
	fmt.Fprintf(w, "path:     %s\n", p)
	fmt.Fprintf(w, "type:     %s\n", st.Type)
	fmt.Fprintf(w, "mode:     %s\n", st.Mode)
	fmt.Fprintf(w, "size:     %d\n", st.Size)
	fmt.Fprintf(w, "modified: %s\n", st.ModTime.Format("2006-01-02 15:04:05"))
}
