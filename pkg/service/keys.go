package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"sshstudio/pkg/define"
	"sshstudio/pkg/event"
	"sshstudio/pkg/localexec"
	"sshstudio/pkg/path"
	"sshstudio/pkg/ssh"
	"sshstudio/pkg/system"

	"al.essio.dev/pkg/shellescape"
	"github.com/sirupsen/logrus"
)

func resolveKeyPath(keyPath string) (string, error) {
	if keyPath == "" {
		return path.GetDefaultKeyPath()
	}
	return path.ExpandHome(keyPath)
}

// InstallKeyCommand appends pubKey to the remote user's authorized_keys,
// creating ~/.ssh with private permissions if needed.
func InstallKeyCommand(pubKey string) string {
	script := fmt.Sprintf("cd; umask 077; mkdir -p .ssh; echo %s >> .ssh/authorized_keys", shellescape.Quote(pubKey))
	return shellescape.QuoteCommand([]string{"sh", "-c", script})
}

// EnsureKeyPair creates a key pair at keyPath unless one exists. mode is
// define.KeyGenBuiltin or define.KeyGenSSHKeygen.
func EnsureKeyPair(ctx context.Context, keyPath, mode string) error {
	if system.IsPathExist(keyPath) {
		logrus.Debugf("using existing key pair %q", keyPath)
		return nil
	}

	switch mode {
	case "", define.KeyGenBuiltin:
		_, err := ssh.GenerateKeyPair(keyPath, ssh.DefaultKeyGenOptions())
		return err
	case define.KeyGenSSHKeygen:
		if err := system.EnsureDir(filepath.Dir(keyPath), 0o700); err != nil {
			return err
		}
		cmd := shellescape.QuoteCommand([]string{"ssh-keygen", "-t", "ed25519", "-N", "", "-q", "-f", keyPath})
		if _, err := localexec.Check(ctx, cmd); err != nil {
			return fmt.Errorf("ssh-keygen failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown key generator %q", mode)
	}
}

// SetupKey makes key login work for the configured host. It ensures a key
// pair exists, tries key login, and when that is rejected installs the
// public key over a password session and tries again. On success the key
// path is stored in the settings and returned.
func (s *Studio) SetupKey(ctx context.Context, password string) (string, error) {
	st := s.Settings()

	keyPath, err := resolveKeyPath(st.PrivateKey)
	if err != nil {
		return "", err
	}
	if err := EnsureKeyPair(ctx, keyPath, st.KeyGen); err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}
	pubKey, err := ssh.AuthorizedKey(keyPath, "")
	if err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}

	keyConfig := func() (*ssh.ClientConfig, error) {
		cfg := ssh.NewClientConfig(st.Server, st.User).WithPort(st.Port).WithPrivateKey(keyPath, "")
		return cfg, s.route(cfg, st.Jump)
	}

	cfg, err := keyConfig()
	if err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}
	err = tryLogin(ctx, cfg)
	if err == nil {
		logrus.Infof("key login to %s@%s already works", st.User, st.Server)
		return s.rememberKey(ctx, keyPath)
	}
	var authErr *ssh.AuthError
	if !errors.As(err, &authErr) {
		return "", s.emitErr(ctx, event.Connect, err)
	}

	if password == "" {
		password = st.Password
	}
	pwConfig := ssh.NewClientConfig(st.Server, st.User).WithPort(st.Port).WithPassword(password)
	if err := s.route(pwConfig, st.Jump); err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}
	client, err := ssh.NewClient(ctx, pwConfig)
	if err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}
	_, err = ssh.NewExecutor(client).Run(ctx, InstallKeyCommand(pubKey))
	_ = client.Close()
	if err != nil {
		return "", s.emitErr(ctx, event.Connect, fmt.Errorf("failed to install public key: %w", err))
	}

	// transient failures are retried, an auth rejection is final
	if cfg, err = keyConfig(); err != nil {
		return "", s.emitErr(ctx, event.Connect, err)
	}
	if err := WaitAll(ctx, define.KeyLoginTimeout, NewSSHProbe(cfg)); err != nil {
		return "", s.emitErr(ctx, event.Connect, fmt.Errorf("key login still fails after install: %w", err))
	}

	s.emit(ctx, event.New(event.Connect, event.KeyInstalled, keyPath))
	return s.rememberKey(ctx, keyPath)
}

func (s *Studio) rememberKey(ctx context.Context, keyPath string) (string, error) {
	s.mu.Lock()
	s.cfg.PrivateKey = keyPath
	snapshot := *s.cfg
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, &snapshot); err != nil {
			logrus.Warnf("failed to save settings: %v", err)
		}
	}
	return keyPath, nil
}

func tryLogin(ctx context.Context, cfg *ssh.ClientConfig) error {
	client, err := ssh.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	return client.Close()
}
