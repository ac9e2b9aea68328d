package ssh

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// connectViaJump authenticates to the jump host, opens a direct-tcpip
// channel from it to the target and runs the target handshake over that
// channel. Every failure is wrapped in a TunnelError naming the stage.
func (c *Client) connectViaJump(ctx context.Context) error {
	jumpCfg := *c.config.Jump
	jumpCfg.skipFileAccess = true
	jumpCfg.Jump = nil

	jump, err := NewClient(ctx, &jumpCfg)
	if err != nil {
		return &TunnelError{Stage: jumpStage(err), Err: err}
	}

	jumpSSH, err := jump.sshClient()
	if err != nil {
		_ = jump.Close()
		return &TunnelError{Stage: StageTunnelOpen, Err: err}
	}

	// The jump session is non-blocking from here on; dialing the tunnel goes
	// through the same polling discipline as any other channel open.
	conn, err := await(ctx, jump, func() (net.Conn, error) {
		return jumpSSH.DialContext(ctx, "tcp", c.config.Addr())
	}, func(conn net.Conn) { _ = conn.Close() })
	if err != nil {
		_ = jump.Close()
		return &TunnelError{Stage: StageTunnelOpen, Err: err}
	}
	logrus.Debugf("tunnel %s -> %s opened", jumpCfg.Addr(), c.config.Addr())

	if err := c.handshake(conn, StageTargetHandshake, StageTargetAuth); err != nil {
		_ = jump.Close()
		stage := StageTargetHandshake
		var authErr *AuthError
		if errors.As(err, &authErr) {
			stage = StageTargetAuth
		}
		return &TunnelError{Stage: stage, Err: err}
	}

	c.jump = jump
	return nil
}

// jumpStage maps an error from the jump session's own connect onto the
// jump-side stage names.
func jumpStage(err error) Stage {
	var (
		authErr      *AuthError
		handshakeErr *HandshakeError
	)
	switch {
	case errors.As(err, &authErr):
		authErr.Stage = StageJumpAuth
		return StageJumpAuth
	case errors.As(err, &handshakeErr):
		handshakeErr.Stage = StageJumpHandshake
		return StageJumpHandshake
	default:
		return StageJumpConnect
	}
}
