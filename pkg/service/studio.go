// Package service holds the session context that the CLI and the control
// server drive: one connection at a time, its shell, and the boundaries to
// settings and event delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"sshstudio/pkg/event"
	"sshstudio/pkg/path"
	"sshstudio/pkg/settings"
	"sshstudio/pkg/ssh"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by operations issued before a connect.
var ErrNotConnected = errors.New("not connected")

// Studio owns at most one transport session and at most one shell on it.
// Exec, transfer and file-system calls are serialized here, so Studio is
// safe for concurrent callers.
type Studio struct {
	cfg   *settings.Settings
	store *settings.Store
	sink  event.Sink

	// op serializes operations that use the session
	op sync.Mutex

	mu      sync.Mutex
	client  *ssh.Client
	shell   *ssh.Shell
	shellID string
}

// New creates a disconnected session context. store may be nil to disable
// write-back; sink may be nil to drop events.
func New(cfg *settings.Settings, store *settings.Store, sink event.Sink) *Studio {
	if cfg == nil {
		cfg = settings.Default()
	}
	if sink == nil {
		sink = event.Discard
	}
	return &Studio{cfg: cfg, store: store, sink: sink}
}

// Settings returns the current settings, secrets included.
func (s *Studio) Settings() *settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	return &cp
}

func (s *Studio) emit(ctx context.Context, evt event.Event) {
	s.sink.Emit(ctx, evt)
}

func (s *Studio) emitErr(ctx context.Context, stage event.StageName, err error) error {
	if err != nil {
		s.emit(ctx, event.New(stage, event.Error, err.Error()))
	}
	return err
}

func jumpConfig(j *settings.Jump) (*ssh.ClientConfig, error) {
	if j == nil || j.Server == "" {
		return nil, nil
	}
	cfg := ssh.NewClientConfig(j.Server, j.User).WithPort(j.Port)
	if j.PrivateKey != "" {
		keyPath, err := path.ExpandHome(j.PrivateKey)
		if err != nil {
			return nil, err
		}
		return cfg.WithPrivateKey(keyPath, ""), nil
	}
	return cfg.WithPassword(j.Password), nil
}

// route sends cfg through jump when one is given. The first hop, the jump
// host or else the target, is dialed through the gvproxy socket when the
// settings name one.
func (s *Studio) route(cfg *ssh.ClientConfig, jump *settings.Jump) error {
	jumpCfg, err := jumpConfig(jump)
	if err != nil {
		return err
	}
	first := cfg
	if jumpCfg != nil {
		cfg.WithJump(jumpCfg)
		first = jumpCfg
	}

	if sock := s.Settings().GVProxySocket; sock != "" {
		sockPath, err := path.ExpandHome(sock)
		if err != nil {
			return err
		}
		first.WithGVProxySocket(sockPath)
	}
	return nil
}

// ConnectWithPassword connects with a shared secret, optionally through
// jump. Any previous session is closed first.
func (s *Studio) ConnectWithPassword(ctx context.Context, host string, port uint16, user, password string, jump *settings.Jump) error {
	cfg := ssh.NewClientConfig(host, user).WithPort(port).WithPassword(password)
	return s.connect(ctx, cfg, jump, func(st *settings.Settings) {
		st.Password = password
		st.PrivateKey = ""
	})
}

// ConnectWithKey connects with the private key at keyPath. An empty keyPath
// selects ~/.ssh/id_ed25519.
func (s *Studio) ConnectWithKey(ctx context.Context, host string, port uint16, user, keyPath string, jump *settings.Jump) error {
	keyPath, err := resolveKeyPath(keyPath)
	if err != nil {
		return err
	}
	cfg := ssh.NewClientConfig(host, user).WithPort(port).WithPrivateKey(keyPath, "")
	return s.connect(ctx, cfg, jump, func(st *settings.Settings) {
		st.PrivateKey = keyPath
	})
}

// Connect connects with the stored settings: the private key when one is
// configured, the password otherwise.
func (s *Studio) Connect(ctx context.Context) error {
	st := s.Settings()
	if st.PrivateKey != "" {
		return s.ConnectWithKey(ctx, st.Server, st.Port, st.User, st.PrivateKey, st.Jump)
	}
	return s.ConnectWithPassword(ctx, st.Server, st.Port, st.User, st.Password, st.Jump)
}

func (s *Studio) connect(ctx context.Context, cfg *ssh.ClientConfig, jump *settings.Jump, apply func(*settings.Settings)) error {
	if err := s.route(cfg, jump); err != nil {
		return s.emitErr(ctx, event.Connect, err)
	}

	if err := s.Disconnect(); err != nil {
		logrus.Warnf("failed to close previous session: %v", err)
	}

	client, err := ssh.NewClient(ctx, cfg)
	if err != nil {
		return s.emitErr(ctx, event.Connect, err)
	}

	s.mu.Lock()
	s.client = client
	s.cfg.Server = cfg.Host
	s.cfg.Port = cfg.Port
	s.cfg.User = cfg.User
	if jump != nil && jump.Server != "" {
		j := *jump
		s.cfg.Jump = &j
	} else {
		s.cfg.Jump = nil
	}
	apply(s.cfg)
	snapshot := *s.cfg
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, &snapshot); err != nil {
			logrus.Warnf("failed to save settings: %v", err)
		}
	}

	s.emit(ctx, event.New(event.Connect, event.Connected, fmt.Sprintf("%s@%s", cfg.User, cfg.Addr())))
	return nil
}

// Connected reports whether a session is open
func (s *Studio) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Disconnect closes the shell, the session and any jump session. It is a
// no-op when not connected.
func (s *Studio) Disconnect() error {
	s.mu.Lock()
	client, shell := s.client, s.shell
	s.client, s.shell, s.shellID = nil, nil, ""
	s.mu.Unlock()

	if shell != nil {
		_ = shell.Close()
	}
	if client == nil {
		return nil
	}
	err := client.Close()
	s.emit(context.Background(), event.New(event.Connect, event.Disconnected, client.Config().Addr()))
	return err
}

func (s *Studio) session() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// RunCommand runs cmd and returns its trimmed stdout. Any stderr output is a
// failure.
func (s *Studio) RunCommand(ctx context.Context, cmd string) (string, error) {
	client, err := s.session()
	if err != nil {
		return "", err
	}

	s.op.Lock()
	defer s.op.Unlock()

	out, err := ssh.NewExecutor(client).Run(ctx, cmd)
	if err != nil {
		return "", s.emitErr(ctx, event.Session, err)
	}
	s.emit(ctx, event.New(event.Session, event.CommandDone, cmd))
	return out, nil
}

// Exec streams cmd's output to opts' writers.
func (s *Studio) Exec(ctx context.Context, opts *ssh.ExecOptions, cmd string) error {
	client, err := s.session()
	if err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()

	return s.emitErr(ctx, event.Session, ssh.NewExecutor(client).Exec(ctx, opts, cmd))
}

func (s *Studio) progressSink(ctx context.Context, id string) ssh.ProgressFunc {
	return func(pct int) {
		evt := event.New(event.Transfer, event.TransferProgress, strconv.Itoa(pct))
		evt.Session = id
		s.emit(ctx, evt)
	}
}

// Download copies remote to local, emitting progress events. It returns the
// transfer id the events carry.
func (s *Studio) Download(ctx context.Context, remote, local string) (string, error) {
	return s.transfer(ctx, func(t *ssh.Transfer, progress ssh.ProgressFunc) error {
		return t.Download(ctx, remote, local, progress)
	}, remote)
}

// Upload copies local to remote, emitting progress events.
func (s *Studio) Upload(ctx context.Context, local, remote string) (string, error) {
	return s.transfer(ctx, func(t *ssh.Transfer, progress ssh.ProgressFunc) error {
		return t.Upload(ctx, local, remote, progress)
	}, remote)
}

func (s *Studio) transfer(ctx context.Context, run func(*ssh.Transfer, ssh.ProgressFunc) error, remote string) (string, error) {
	client, err := s.session()
	if err != nil {
		return "", err
	}

	s.op.Lock()
	defer s.op.Unlock()

	id := "xfer-" + uuid.NewString()
	if err := run(ssh.NewTransfer(client), s.progressSink(ctx, id)); err != nil {
		return id, s.emitErr(ctx, event.Transfer, err)
	}

	done := event.New(event.Transfer, event.TransferDone, remote)
	done.Session = id
	s.emit(ctx, done)
	return id, nil
}

// WithFileSystem runs fn against the session's file-access handle.
func (s *Studio) WithFileSystem(ctx context.Context, fn func(*ssh.FileSystem) error) error {
	client, err := s.session()
	if err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()

	return s.emitErr(ctx, event.Session, fn(ssh.NewFileSystem(client)))
}

// Algorithms reports what the session can negotiate.
func (s *Studio) Algorithms() (*ssh.Algorithms, error) {
	client, err := s.session()
	if err != nil {
		return nil, err
	}
	return client.SupportedAlgorithms()
}
