package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sshstudio/pkg/define"
	"sshstudio/pkg/event"
	"sshstudio/pkg/localexec"
	"sshstudio/pkg/settings"
	"sshstudio/pkg/ssh"
	"sshstudio/pkg/ssh/sshtest"

	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

const (
	testUser     = "support"
	testPassword = "secret"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *captureSink) Emit(_ context.Context, evt event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) named(name event.EvtName) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (c *captureSink) shellOutput() string {
	var b bytes.Buffer
	for _, e := range c.named(event.ShellOutput) {
		b.Write(e.Data)
	}
	return b.String()
}

func newServer(t *testing.T) *sshtest.Server {
	t.Helper()
	srv, err := sshtest.NewServer(testUser, testPassword)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newStudio(t *testing.T, srv *sshtest.Server) (*Studio, *settings.Store, *captureSink) {
	t.Helper()

	store, err := settings.NewStore(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	cfg := settings.Default()
	cfg.Server = srv.Host
	cfg.Port = srv.Port
	cfg.User = srv.User
	cfg.Password = srv.Password

	sink := &captureSink{}
	studio := New(cfg, store, sink)
	t.Cleanup(func() { _ = studio.Disconnect() })
	return studio, store, sink
}

func TestNotConnected(t *testing.T) {
	studio := New(nil, nil, nil)

	_, err := studio.RunCommand(context.Background(), "whoami")
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = studio.Download(context.Background(), "/a", "/b")
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, studio.SendKey([]byte("x")), ErrNoShell)
	require.NoError(t, studio.Disconnect())
	require.False(t, studio.Connected())
}

func TestConnectRunAndWriteBack(t *testing.T) {
	srv := newServer(t)
	studio, store, sink := newStudio(t, srv)

	require.NoError(t, studio.Connect(testCtx(t)))
	require.True(t, studio.Connected())

	out, err := studio.RunCommand(testCtx(t), "whoami")
	require.NoError(t, err)
	require.Equal(t, testUser, out)
	require.Len(t, sink.named(event.Connected), 1)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.Contains(t, string(raw), "server: 127.0.0.1")
	require.NotContains(t, string(raw), testPassword)

	saved, err := store.Load(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, srv.Port, saved.Port)

	require.NoError(t, studio.Disconnect())
	require.Len(t, sink.named(event.Disconnected), 1)
	_, err = studio.RunCommand(testCtx(t), "whoami")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectWrongPasswordEmitsError(t *testing.T) {
	srv := newServer(t)
	studio, _, sink := newStudio(t, srv)

	err := studio.ConnectWithPassword(testCtx(t), srv.Host, srv.Port, srv.User, "wrong", nil)
	var authErr *ssh.AuthError
	require.True(t, errors.As(err, &authErr))
	require.False(t, studio.Connected())
	require.Len(t, sink.named(event.Error), 1)
}

func TestRunCommandStderrFails(t *testing.T) {
	srv := newServer(t)
	srv.Respond("noisy", "", "warning: x\n", 0)
	studio, _, _ := newStudio(t, srv)
	require.NoError(t, studio.Connect(testCtx(t)))

	_, err := studio.RunCommand(testCtx(t), "noisy")
	var failure *ssh.CommandFailure
	require.True(t, errors.As(err, &failure))
	require.Contains(t, err.Error(), "warning: x")
}

func TestTransferEmitsProgress(t *testing.T) {
	srv := newServer(t)
	studio, _, sink := newStudio(t, srv)
	require.NoError(t, studio.Connect(testCtx(t)))

	dir := t.TempDir()
	local := filepath.Join(dir, "in.bin")
	remote := filepath.Join(dir, "remote.bin")
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte("x"), 5*define.TransferChunkSize), 0o644))

	id, err := studio.Upload(testCtx(t), local, remote)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "xfer-"))

	progress := sink.named(event.TransferProgress)
	require.NotEmpty(t, progress)
	require.Equal(t, "100", progress[len(progress)-1].Value)
	for _, p := range progress {
		require.Equal(t, id, p.Session)
	}
	require.Len(t, sink.named(event.TransferDone), 1)

	back := filepath.Join(dir, "back.bin")
	_, err = studio.Download(testCtx(t), remote, back)
	require.NoError(t, err)
	want, _ := os.ReadFile(local)
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWithFileSystem(t *testing.T) {
	srv := newServer(t)
	studio, _, _ := newStudio(t, srv)
	require.NoError(t, studio.Connect(testCtx(t)))

	dir := filepath.Join(t.TempDir(), "tree")
	err := studio.WithFileSystem(testCtx(t), func(fs *ssh.FileSystem) error {
		if err := fs.Mkdir(testCtx(t), dir); err != nil {
			return err
		}
		if err := fs.Save(testCtx(t), filepath.Join(dir, "f"), []byte("x")); err != nil {
			return err
		}
		return fs.Delete(testCtx(t), dir)
	})
	require.NoError(t, err)
	require.NoDirExists(t, dir)
}

func TestShellEvents(t *testing.T) {
	srv := newServer(t)
	studio, _, sink := newStudio(t, srv)
	require.NoError(t, studio.Connect(testCtx(t)))

	id, err := studio.OpenShell(testCtx(t), 90, 25, "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "sess-"))

	_, err = studio.OpenShell(testCtx(t), 90, 25, "")
	require.Error(t, err, "only one shell at a time")

	require.NoError(t, studio.SendKey([]byte("ping\n")))
	require.Eventually(t, func() bool {
		return strings.Contains(sink.shellOutput(), "ping\n")
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, studio.Resize(120, 50))
	require.Eventually(t, func() bool {
		return len(srv.WindowSizes()) > 0
	}, 10*time.Second, 10*time.Millisecond)

	done := studio.ShellDone()
	require.NotNil(t, done)
	require.NoError(t, studio.CloseShell())
	<-done
	require.Eventually(t, func() bool {
		return len(sink.named(event.ShellClosed)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, studio.Resize(1, 1), ErrNoShell)
}

func TestSetupKeyInstallsOnce(t *testing.T) {
	srv := newServer(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	studio, store, sink := newStudio(t, srv)

	keyPath, err := studio.SetupKey(testCtx(t), "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), keyPath)
	require.FileExists(t, keyPath+".pub")

	line, err := ssh.AuthorizedKey(keyPath, "")
	require.NoError(t, err)
	pub, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)
	require.True(t, srv.IsAuthorized(pub))
	require.Contains(t, srv.Commands(), InstallKeyCommand(line))
	require.Len(t, sink.named(event.KeyInstalled), 1)

	saved, err := store.Load(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, keyPath, saved.PrivateKey)

	installs := len(srv.Commands())
	_, err = studio.SetupKey(testCtx(t), "")
	require.NoError(t, err)
	require.Len(t, srv.Commands(), installs, "working key login must not reinstall")

	require.NoError(t, studio.Connect(testCtx(t)))
	out, err := studio.RunCommand(testCtx(t), "whoami")
	require.NoError(t, err)
	require.Equal(t, testUser, out)
}

func TestEnsureKeyPairSSHKeygen(t *testing.T) {
	if _, err := exec.LookPath("ssh-keygen"); err != nil {
		t.Skip("ssh-keygen not installed")
	}

	keyPath := filepath.Join(t.TempDir(), "keys", "id_ed25519")
	require.NoError(t, EnsureKeyPair(testCtx(t), keyPath, define.KeyGenSSHKeygen))
	require.FileExists(t, keyPath)

	line, err := ssh.AuthorizedKey(keyPath, "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "ssh-ed25519 "))
}

func TestEnsureKeyPairUnknownGenerator(t *testing.T) {
	err := EnsureKeyPair(testCtx(t), filepath.Join(t.TempDir(), "k"), "nope")
	require.Error(t, err)
}

func TestInstallKeyCommand(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	lines := []string{
		"ssh-ed25519 AAAA",
		`ssh-ed25519 BBBB it's "mine" $HOME`,
	}
	for _, line := range lines {
		res, err := localexec.Check(testCtx(t), InstallKeyCommand(line))
		require.NoError(t, err, "output: %+v", res)
		require.Zero(t, res.ExitCode)
	}

	raw, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	require.NoError(t, err)
	require.Equal(t, strings.Join(lines, "\n")+"\n", string(raw))

	info, err := os.Stat(filepath.Join(home, ".ssh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestInstallKeyCommandRemote(t *testing.T) {
	srv := newServer(t)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	_, err := ssh.GenerateKeyPair(keyPath, ssh.DefaultKeyGenOptions())
	require.NoError(t, err)
	line, err := ssh.AuthorizedKey(keyPath, "")
	require.NoError(t, err)
	pub, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)

	client, err := ssh.NewClient(testCtx(t), ssh.NewClientConfig(srv.Host, srv.User).WithPort(srv.Port).WithPassword(srv.Password))
	require.NoError(t, err)
	defer client.Close()

	_, err = ssh.NewExecutor(client).Run(testCtx(t), InstallKeyCommand(line+" it's mine"))
	require.NoError(t, err)
	require.True(t, srv.IsAuthorized(pub))
}

func TestWaitReachable(t *testing.T) {
	srv := newServer(t)
	studio, _, _ := newStudio(t, srv)
	require.NoError(t, studio.WaitReachable(testCtx(t), 5*time.Second))

	bad := New(&settings.Settings{Server: srv.Host, Port: srv.Port, User: srv.User, Password: "wrong"}, nil, nil)
	err := bad.WaitReachable(testCtx(t), 5*time.Second)
	var authErr *ssh.AuthError
	require.True(t, errors.As(err, &authErr))
}

func newGVProxy(t *testing.T) *sshtest.GVProxy {
	t.Helper()
	dir, err := os.MkdirTemp("", "gvp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	gv, err := sshtest.NewGVProxy(filepath.Join(dir, "gvproxy.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gv.Close() })
	return gv
}

func TestConnectThroughGVProxy(t *testing.T) {
	srv := newServer(t)
	gv := newGVProxy(t)
	studio, store, _ := newStudio(t, srv)

	studio.cfg.GVProxySocket = gv.Socket
	require.NoError(t, studio.Connect(testCtx(t)))

	out, err := studio.RunCommand(testCtx(t), "whoami")
	require.NoError(t, err)
	require.Equal(t, testUser, out)
	require.Equal(t, []string{srv.Addr()}, gv.Tunnels())

	saved, err := store.Load(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, gv.Socket, saved.GVProxySocket)
}

func TestJumpFirstHopThroughGVProxy(t *testing.T) {
	jump := newServer(t)
	target := newServer(t)
	gv := newGVProxy(t)
	studio, _, _ := newStudio(t, target)

	studio.cfg.GVProxySocket = gv.Socket
	studio.cfg.Jump = &settings.Jump{Server: jump.Host, Port: jump.Port, User: jump.User, Password: jump.Password}
	require.NoError(t, studio.Connect(testCtx(t)))

	out, err := studio.RunCommand(testCtx(t), "whoami")
	require.NoError(t, err)
	require.Equal(t, testUser, out)
	require.Equal(t, []string{jump.Addr()}, gv.Tunnels(), "only the jump host is dialed through gvproxy")
}

func TestWaitReachableThroughGVProxy(t *testing.T) {
	srv := newServer(t)
	gv := newGVProxy(t)
	studio, _, _ := newStudio(t, srv)

	studio.cfg.GVProxySocket = gv.Socket
	require.NoError(t, studio.WaitReachable(testCtx(t), 5*time.Second))
	require.NotEmpty(t, gv.Tunnels())
	require.False(t, studio.Connected())
}
