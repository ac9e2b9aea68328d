package main

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"sshstudio/pkg/settings"
	"sshstudio/pkg/ssh/sshtest"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func parseFlags(t *testing.T, cfg *settings.Settings, args ...string) error {
	t.Helper()

	var applyErr error
	app := &cli.Command{
		Name:  "studio",
		Flags: globalFlags(),
		Action: func(_ context.Context, command *cli.Command) error {
			applyErr = applyFlags(command, cfg)
			return nil
		},
	}
	require.NoError(t, app.Run(context.Background(), append([]string{"studio"}, args...)))
	return applyErr
}

func TestApplyFlagsOverridesSettings(t *testing.T) {
	cfg := settings.Default()
	cfg.PrivateKey = "/keys/id"

	err := parseFlags(t, cfg, "--host", "example.org", "--port", "2222", "--user", "ops", "--password", "pw")
	require.NoError(t, err)
	require.Equal(t, "example.org", cfg.Server)
	require.Equal(t, uint16(2222), cfg.Port)
	require.Equal(t, "ops", cfg.User)
	require.Equal(t, "pw", cfg.Password)
	require.Empty(t, cfg.PrivateKey, "a password on the command line selects password login")
	require.Nil(t, cfg.Jump)
}

func TestApplyFlagsJumpHost(t *testing.T) {
	cfg := settings.Default()

	err := parseFlags(t, cfg, "--jump-host", "bastion", "--jump-user", "gate", "--jump-key", "/keys/gate")
	require.NoError(t, err)
	require.Equal(t, &settings.Jump{Server: "bastion", Port: 22, User: "gate", PrivateKey: "/keys/gate"}, cfg.Jump)
}

func TestApplyFlagsRejectsBadPort(t *testing.T) {
	cfg := settings.Default()
	require.Error(t, parseFlags(t, cfg, "--port", "70000"))
}

func TestApplyFlagsGVProxySocket(t *testing.T) {
	cfg := settings.Default()
	require.NoError(t, parseFlags(t, cfg, "--gvproxy-socket", "/run/gvproxy.sock"))
	require.Equal(t, "/run/gvproxy.sock", cfg.GVProxySocket)
}

func TestOpenSessionWaitsForHost(t *testing.T) {
	srv, err := sshtest.NewServer("support", "secret")
	require.NoError(t, err)
	defer srv.Close()

	var connected bool
	app := &cli.Command{
		Name:  "studio",
		Flags: globalFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			studio, err := connect(ctx, command)
			if err != nil {
				return err
			}
			defer disconnect(studio)
			connected = studio.Connected()
			return nil
		},
	}

	args := []string{
		"studio",
		"--settings", filepath.Join(t.TempDir(), "settings.yaml"),
		"--host", srv.Host,
		"--port", strconv.Itoa(int(srv.Port)),
		"--user", srv.User,
		"--password", srv.Password,
		"--wait", "5s",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, app.Run(ctx, args))
	require.True(t, connected)
}

func TestOpenSessionWaitStopsOnAuthFailure(t *testing.T) {
	srv, err := sshtest.NewServer("support", "secret")
	require.NoError(t, err)
	defer srv.Close()

	app := &cli.Command{
		Name:  "studio",
		Flags: globalFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			studio, err := connect(ctx, command)
			if err == nil {
				disconnect(studio)
			}
			return err
		},
	}

	args := []string{
		"studio",
		"--settings", filepath.Join(t.TempDir(), "settings.yaml"),
		"--host", srv.Host,
		"--port", strconv.Itoa(int(srv.Port)),
		"--user", srv.User,
		"--password", "wrong",
		"--wait", "30s",
	}
	start := time.Now()
	err = app.Run(context.Background(), args)
	require.ErrorContains(t, err, "not reachable")
	require.Less(t, time.Since(start), 10*time.Second, "a rejected login must not be retried")
}
