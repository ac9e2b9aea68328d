package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"sshstudio/pkg/define"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid SSH configuration")
)

// ClientConfig contains all the information needed to establish an SSH connection
type ClientConfig struct {
	// Connection details
	Host string
	Port uint16
	User string

	// Authentication, exactly one of Password and PrivateKeyPath is used.
	// A non-empty PrivateKeyPath wins.
	Password       string
	PrivateKeyPath string
	Passphrase     string

	// Network configuration
	DialTimeout       time.Duration
	KeepaliveInterval time.Duration

	// For gvproxy tunneling
	GVProxySocketPath string

	// Jump is the intermediate host the connection is routed through.
	Jump *ClientConfig

	// jump sessions only forward bytes and never open a file-access handle
	skipFileAccess bool
}

// NewClientConfig creates a new ClientConfig with default values
func NewClientConfig(host string, user string) *ClientConfig {
	return &ClientConfig{
		Host:              host,
		Port:              define.DefaultPort,
		User:              user,
		DialTimeout:       define.DialTimeout,
		KeepaliveInterval: define.KeepaliveInterval,
	}
}

// WithPort sets the SSH port
func (c *ClientConfig) WithPort(port uint16) *ClientConfig {
	c.Port = port
	return c
}

// WithPassword selects password authentication
func (c *ClientConfig) WithPassword(password string) *ClientConfig {
	c.Password = password
	return c
}

// WithPrivateKey selects key-pair authentication
func (c *ClientConfig) WithPrivateKey(path, passphrase string) *ClientConfig {
	c.PrivateKeyPath = path
	c.Passphrase = passphrase
	return c
}

// WithDialTimeout sets the per-address connection timeout
func (c *ClientConfig) WithDialTimeout(timeout time.Duration) *ClientConfig {
	c.DialTimeout = timeout
	return c
}

// WithKeepaliveInterval sets the keepalive interval, 0 disables keepalive
func (c *ClientConfig) WithKeepaliveInterval(interval time.Duration) *ClientConfig {
	c.KeepaliveInterval = interval
	return c
}

// WithGVProxySocket sets the gvproxy socket path for tunneling
func (c *ClientConfig) WithGVProxySocket(socketPath string) *ClientConfig {
	c.GVProxySocketPath = socketPath
	return c
}

// WithJump routes the connection through the given jump host
func (c *ClientConfig) WithJump(jump *ClientConfig) *ClientConfig {
	c.Jump = jump
	return c
}

// Addr returns host:port
func (c *ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Validate checks if the configuration is valid
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return errors.Join(ErrInvalidConfig, errors.New("host cannot be empty"))
	}
	if c.User == "" {
		return errors.Join(ErrInvalidConfig, errors.New("user cannot be empty"))
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		return errors.Join(ErrInvalidConfig, errors.New("either a password or a private key path is required"))
	}
	if c.Port == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("port must be greater than 0"))
	}
	if c.DialTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("dial timeout must be positive"))
	}
	if c.Jump != nil {
		if c.Jump.Jump != nil {
			return errors.Join(ErrInvalidConfig, errors.New("nested jump hosts are not supported"))
		}
		if err := c.Jump.Validate(); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
	}
	return nil
}

// authMethods builds the auth method list. Reading or parsing the key is an
// auth-stage failure.
func (c *ClientConfig) authMethods() ([]ssh.AuthMethod, error) {
	if c.PrivateKeyPath == "" {
		return []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		}, nil
	}

	privateKeyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %q: %w", c.PrivateKeyPath, err)
	}

	var signer ssh.Signer
	if c.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKeyBytes, []byte(c.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(privateKeyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %q: %w", c.PrivateKeyPath, err)
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// ShellConfig contains configuration for an interactive shell
type ShellConfig struct {
	TerminalType   string
	TerminalWidth  int
	TerminalHeight int
}

// NewShellConfig creates a new ShellConfig with default values
func NewShellConfig() *ShellConfig {
	return &ShellConfig{
		TerminalType:   define.DefaultTerminalType,
		TerminalWidth:  define.DefaultTerminalWidth,
		TerminalHeight: define.DefaultTerminalHeight,
	}
}

// WithSize sets the initial terminal geometry
func (s *ShellConfig) WithSize(width, height int) *ShellConfig {
	if width > 0 {
		s.TerminalWidth = width
	}
	if height > 0 {
		s.TerminalHeight = height
	}
	return s
}

// WithTerminalType sets the TERM value sent with the pty request
func (s *ShellConfig) WithTerminalType(termType string) *ShellConfig {
	if termType != "" {
		s.TerminalType = termType
	}
	return s
}
