package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sshstudio/pkg/network"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Client is an authenticated transport session. It owns the socket, the SSH
// connection, the file-access handle and, when configured, the jump session
// the connection is tunnelled through.
//
// Exec, transfer and file-system operations on one Client must be serialized
// by the caller.
type Client struct {
	config *ClientConfig
	client *ssh.Client
	conn   net.Conn
	sftp   *sftp.Client

	// jump is the outer session of a tunnelled connection
	jump *Client

	blocking atomic.Bool

	// Lifecycle management
	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.RWMutex
}

// NewClient connects and authenticates using the provided configuration,
// directly or through config.Jump. On success the client has an open
// file-access handle and is in non-blocking mode.
// The client must be explicitly closed by calling Close() when done.
//
// Example:
//
//	cfg := ssh.NewClientConfig("192.168.1.10", "support").WithPassword("secret")
//	client, err := ssh.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func NewClient(ctx context.Context, config *ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config: config,
		closed: make(chan struct{}),
	}
	client.blocking.Store(true)

	var err error
	if config.Jump != nil {
		err = client.connectViaJump(ctx)
	} else {
		err = client.connectDirect(ctx)
	}
	if err != nil {
		return nil, err
	}

	if !config.skipFileAccess {
		if err := client.openFileAccess(); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	client.SetBlocking(false)

	// Start keepalive if interval is configured
	if config.KeepaliveInterval > 0 {
		client.startKeepalive()
	}

	logrus.Infof("connected to %s@%s", config.User, config.Addr())
	return client, nil
}

// connectDirect dials the target and performs handshake and authentication
func (c *Client) connectDirect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	return c.handshake(conn, StageHandshake, StageAuth)
}

// dial establishes the network connection (either direct or via gvproxy)
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.config.GVProxySocketPath != "" {
		return network.DialGVProxy(c.config.GVProxySocketPath, c.config.Host, c.config.Port, c.config.DialTimeout)
	}
	return network.Dial(ctx, c.config.Host, c.config.Port, c.config.DialTimeout)
}

// handshake runs the SSH handshake and authentication over conn, which is
// either a raw socket or a tunnel channel. On failure conn is closed.
func (c *Client) handshake(conn net.Conn, handshakeStage, authStage Stage) error {
	addr := c.config.Addr()

	auth, err := c.config.authMethods()
	if err != nil {
		_ = conn.Close()
		return &AuthError{Stage: authStage, User: c.config.User, Addr: addr, Err: err}
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.DialTimeout,
	}

	// Tunnel channels do not support deadlines; the error is ignored there.
	_ = conn.SetDeadline(time.Now().Add(c.config.DialTimeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		if isAuthFailure(err) {
			return &AuthError{Stage: authStage, User: c.config.User, Addr: addr, Err: err}
		}
		return &HandshakeError{Stage: handshakeStage, Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	c.conn = conn
	c.client = ssh.NewClient(clientConn, chans, reqs)
	logrus.Debugf("SSH client connected to %s@%s (%s)", c.config.User, addr, clientConn.ServerVersion())

	return nil
}

func (c *Client) openFileAccess() error {
	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return &FileSystemError{Op: "open", Path: "/", Err: err}
	}
	c.sftp = sftpClient
	return nil
}

// SetBlocking switches the session between blocking and non-blocking mode.
// In non-blocking mode every operation polls instead of waiting inline.
func (c *Client) SetBlocking(blocking bool) {
	c.blocking.Store(blocking)
}

// Blocking reports the current mode
func (c *Client) Blocking() bool {
	return c.blocking.Load()
}

// Config returns the configuration the client was created with
func (c *Client) Config() *ClientConfig {
	return c.config
}

// sshClient returns the underlying connection or ErrClientClosed
func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed() || c.client == nil {
		return nil, ErrClientClosed
	}
	return c.client, nil
}

// fileAccess returns the sftp handle or an error naming the path
func (c *Client) fileAccess(op, path string) (*sftp.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed() {
		return nil, &FileSystemError{Op: op, Path: path, Err: ErrClientClosed}
	}
	if c.sftp == nil {
		return nil, &FileSystemError{Op: op, Path: path, Err: fmt.Errorf("file access is not available on this session")}
	}
	return c.sftp, nil
}

// NewSession opens a session channel, retrying while the transport reports
// would-block. The session must be explicitly closed by calling Close() when
// done.
//
// Example:
//
//	session, err := client.NewSession(ctx)
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	sshSession, err := await(ctx, c, client.NewSession, func(s *ssh.Session) { _ = s.Close() })
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH session: %w", err)
	}

	return &Session{
		session: sshSession,
		client:  c,
		closed:  make(chan struct{}),
	}, nil
}

// Algorithms lists what this client can negotiate
type Algorithms struct {
	ServerVersion string
	KeyExchanges  []string
	Ciphers       []string
	MACs          []string
	HostKeys      []string
}

// SupportedAlgorithms reports the algorithms the client supports and the
// version string the server announced.
func (c *Client) SupportedAlgorithms() (*Algorithms, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	supported := ssh.SupportedAlgorithms()
	return &Algorithms{
		ServerVersion: string(client.ServerVersion()),
		KeyExchanges:  supported.KeyExchanges,
		Ciphers:       supported.Ciphers,
		MACs:          supported.MACs,
		HostKeys:      supported.HostKeys,
	}, nil
}

// startKeepalive starts sending periodic keepalive messages
func (c *Client) startKeepalive() {
	go c.keepaliveLoop()
}

// keepaliveLoop sends periodic keepalive messages, when client closed, it will return immediately
func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.RLock()
			client := c.client
			c.mu.RUnlock()

			if client == nil {
				return
			}

			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logrus.Debugf("keepalive to %s failed: %v", c.config.Addr(), err)
				return
			}
		}
	}
}

// Close sends a graceful close for the session and any jump session it owns.
// Background readers and writers end on their next I/O error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.sftp != nil {
			if err := c.sftp.Close(); err != nil && !isErrorIsConnectionAlreadyClosed(err) {
				logrus.Debugf("failed to close sftp client: %v", err)
			}
			c.sftp = nil
		}

		// Close SSH client (this also closes the underlying connection)
		if c.client != nil {
			if err := c.client.Close(); err != nil && !isErrorIsConnectionAlreadyClosed(err) {
				logrus.Errorf("failed to close SSH client: %v", err)
			}
			c.client = nil
		}

		// Close connection if it wasn't already closed by client.Close()
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isErrorIsConnectionAlreadyClosed(err) {
				logrus.Debugf("failed to close connection: %v", err)
			}
			c.conn = nil
		}

		if c.jump != nil {
			_ = c.jump.Close()
			c.jump = nil
		}

		close(c.closed)
		logrus.Debugf("SSH client %s closed", c.config.Addr())
	})

	return nil
}

// isClosed returns true if the client has been closed
func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Wait blocks until the client connection is closed
func (c *Client) Wait() {
	<-c.closed
}
