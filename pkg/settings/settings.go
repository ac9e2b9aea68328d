// Package settings persists the connection settings between runs. Secrets
// are never written back to disk.
package settings

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"sshstudio/pkg/define"
	"sshstudio/pkg/path"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const lockRetryDelay = 50 * time.Millisecond

// Jump holds the optional jump host settings
type Jump struct {
	Server     string `yaml:"server"`
	Port       uint16 `yaml:"port,omitempty"`
	User       string `yaml:"user"`
	Password   string `yaml:"password,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
}

// Settings is the on-disk connection profile
type Settings struct {
	Server     string `yaml:"server"`
	Port       uint16 `yaml:"port"`
	User       string `yaml:"user"`
	HomeDir    string `yaml:"home_dir,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
	Password   string `yaml:"password,omitempty"`
	KeyGen     string `yaml:"keygen,omitempty"`
	Jump       *Jump  `yaml:"jump,omitempty"`

	// GVProxySocket routes the first hop through a gvproxy control socket
	GVProxySocket string `yaml:"gvproxy_socket,omitempty"`
}

// Default returns the built-in profile
func Default() *Settings {
	return &Settings{
		Server: define.DefaultServer,
		Port:   define.DefaultPort,
		User:   define.DefaultUser,
		KeyGen: define.KeyGenBuiltin,
	}
}

// Redacted returns a copy with every secret removed.
func (s *Settings) Redacted() *Settings {
	out := *s
	out.Password = ""
	if s.Jump != nil {
		j := *s.Jump
		j.Password = ""
		out.Jump = &j
	}
	return &out
}

func (s *Settings) applyDefaults() {
	d := Default()
	if s.Server == "" {
		s.Server = d.Server
	}
	if s.Port == 0 {
		s.Port = d.Port
	}
	if s.User == "" {
		s.User = d.User
	}
	if s.KeyGen == "" {
		s.KeyGen = d.KeyGen
	}
	if s.Jump != nil && s.Jump.Port == 0 {
		s.Jump.Port = define.DefaultPort
	}
}

// Store reads and writes one settings file under an advisory lock.
type Store struct {
	file string
	lock *flock.Flock
}

// NewStore opens the store at file, or at the per-user default when file is
// empty.
func NewStore(file string) (*Store, error) {
	if file == "" {
		var err error
		file, err = path.GetSettingsPath()
		if err != nil {
			return nil, err
		}
	}
	return &Store{
		file: file,
		lock: flock.New(file + define.LockFileSuffix),
	}, nil
}

// Path returns the settings file path
func (s *Store) Path() string {
	return s.file
}

// Load reads the settings file. A missing file yields the defaults.
func (s *Store) Load(ctx context.Context) (*Settings, error) {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return nil, errors.Wrap(err, "create settings directory")
	}

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "lock %q", s.lock.Path())
	}
	if locked {
		defer s.unlock()
	}

	cfg := Default()
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("settings file %q not found, using defaults", s.file)
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read settings %q", s.file)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse settings %q", s.file)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes cfg with secrets redacted. The file is replaced atomically.
func (s *Store) Save(ctx context.Context, cfg *Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return errors.Wrap(err, "create settings directory")
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return errors.Wrapf(err, "lock %q", s.lock.Path())
	}
	if locked {
		defer s.unlock()
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return errors.Wrap(err, "marshal settings")
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "write settings %q", tmp)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return errors.Wrapf(err, "replace settings %q", s.file)
	}

	logrus.Debugf("settings written to %q", s.file)
	return nil
}

func (s *Store) unlock() {
	if err := s.lock.Unlock(); err != nil {
		logrus.Warnf("failed to unlock %q: %v", s.lock.Path(), err)
	}
}
