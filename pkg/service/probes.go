package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sshstudio/pkg/network"
	"sshstudio/pkg/ssh"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout  = 500 * time.Millisecond
	defaultProbeInterval = 50 * time.Millisecond

	// sshd can take a while to come up after a host boots
	defaultSSHProbeInterval = 1 * time.Second
)

// Probe defines the interface for service readiness probes.
type Probe interface {
	// ProbeUntilReady blocks until the service is ready or the context is cancelled.
	// Returns nil on success, ctx.Err() on context cancellation/timeout.
	ProbeUntilReady(ctx context.Context) error
}

// SSHProbe retries a full connect until the host accepts a login. An
// AuthError stops the probe at once: the host is up and retrying cannot help.
type SSHProbe struct {
	cfg  *ssh.ClientConfig
	Ch   chan struct{}
	once sync.Once
}

// NewSSHProbe creates a probe that logs in with cfg.
func NewSSHProbe(cfg *ssh.ClientConfig) *SSHProbe {
	return &SSHProbe{
		cfg: cfg,
		Ch:  make(chan struct{}, 1),
	}
}

// ProbeUntilReady connects, runs no command, and disconnects.
// The Ch channel is closed when the host becomes ready.
func (p *SSHProbe) ProbeUntilReady(ctx context.Context) error {
	// Fast-path: already ready
	select {
	case <-p.Ch:
		return nil
	default:
	}

	ticker := time.NewTicker(defaultSSHProbeInterval)
	defer ticker.Stop()

	for {
		err := tryLogin(ctx, p.cfg)
		if err == nil {
			p.once.Do(func() { close(p.Ch) })
			logrus.Infof("SSH service on %s is ready", p.cfg.Addr())
			return nil
		}

		var authErr *ssh.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		logrus.Debugf("SSH probe failed: %v, try again", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ControlServerProbe polls the control server until /healthz answers 200.
type ControlServerProbe struct {
	unixURL string
	Ch      chan struct{}
	once    sync.Once
}

// NewControlServerProbe creates a probe for the control server listening on
// unixURL (unix:///path).
func NewControlServerProbe(unixURL string) *ControlServerProbe {
	return &ControlServerProbe{
		unixURL: unixURL,
		Ch:      make(chan struct{}, 1),
	}
}

// ProbeUntilReady polls /healthz until it returns HTTP 200.
func (p *ControlServerProbe) ProbeUntilReady(ctx context.Context) error {
	// Fast-path: already ready
	select {
	case <-p.Ch:
		return nil
	default:
	}

	socketPath, err := network.ParseUnixAddr(p.unixURL)
	if err != nil {
		return fmt.Errorf("invalid unix URL %q: %w", p.unixURL, err)
	}

	client := network.NewUnixClient(socketPath.Path, network.WithTimeout(defaultProbeTimeout))
	defer client.Close()

	ticker := time.NewTicker(defaultProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := client.Get("/healthz").Do(ctx) //nolint:bodyclose
			if err != nil {
				continue
			}

			network.CloseResponse(resp)
			if resp.StatusCode == http.StatusOK {
				p.once.Do(func() { close(p.Ch) })
				logrus.Debug("control server is ready")
				return nil
			}
		}
	}
}

// WaitAll runs every probe concurrently and returns once all are ready, one
// fails, or timeout passes.
func WaitAll(ctx context.Context, timeout time.Duration, probes ...Probe) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, probe := range probes {
		p := probe
		g.Go(func() error {
			return p.ProbeUntilReady(ctx)
		})
	}

	return g.Wait()
}

// WaitReachable waits until the configured host accepts a login.
func (s *Studio) WaitReachable(ctx context.Context, timeout time.Duration) error {
	st := s.Settings()
	cfg := ssh.NewClientConfig(st.Server, st.User).WithPort(st.Port).WithKeepaliveInterval(0)
	if st.PrivateKey != "" {
		keyPath, err := resolveKeyPath(st.PrivateKey)
		if err != nil {
			return err
		}
		cfg.WithPrivateKey(keyPath, "")
	} else {
		cfg.WithPassword(st.Password)
	}
	if err := s.route(cfg, st.Jump); err != nil {
		return err
	}

	logrus.Infof("waiting up to %s for %s", timeout, cfg.Addr())
	return WaitAll(ctx, timeout, NewSSHProbe(cfg))
}
