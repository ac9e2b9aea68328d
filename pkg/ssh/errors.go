package ssh

import (
	"errors"
	"fmt"
	"strings"

	"sshstudio/pkg/network"
)

var (
	// ErrClientClosed is returned when operations are attempted on a closed client
	ErrClientClosed = errors.New("SSH client is closed")
	// ErrConnectionClosed is returned when the remote end closed the connection
	ErrConnectionClosed = errors.New("connection closed by remote")
	// ErrShellNotOpen is returned by shell operations issued before Open
	ErrShellNotOpen = errors.New("shell is not open")

	// errWouldBlock means no data or capacity is available right now. It is
	// absorbed by the retry policy and never returned to callers.
	errWouldBlock = errors.New("operation would block")
)

// ResolutionError and ConnectError come from the socket resolver.
type (
	ResolutionError = network.ResolutionError
	ConnectError    = network.ConnectError
)

// Stage names the step of connection setup that failed.
type Stage string

const (
	StageConnect         Stage = "connect"
	StageHandshake       Stage = "handshake"
	StageAuth            Stage = "auth"
	StageJumpConnect     Stage = "jump connect"
	StageJumpHandshake   Stage = "jump handshake"
	StageJumpAuth        Stage = "jump auth"
	StageTunnelOpen      Stage = "tunnel open"
	StageTargetHandshake Stage = "target handshake"
	StageTargetAuth      Stage = "target auth"
)

// HandshakeError reports a failed protocol handshake.
type HandshakeError struct {
	Stage Stage
	Addr  string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: SSH handshake with %s failed: %v", e.Stage, e.Addr, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials.
type AuthError struct {
	Stage Stage
	User  string
	Addr  string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed for %s@%s, check credentials: %v", e.Stage, e.User, e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TunnelError qualifies any failure of a jump connection with the stage it
// happened in. Err holds the underlying typed error.
type TunnelError struct {
	Stage Stage
	Err   error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("jump tunnel failed at %s: %v", e.Stage, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

// CommandFailure is returned by Run when the command wrote anything to stderr,
// whatever its exit status.
type CommandFailure struct {
	Command string
	Stderr  string
}

func (e *CommandFailure) Error() string {
	return "stderr: " + e.Stderr
}

// TransferError reports a local or remote I/O failure during a transfer.
type TransferError struct {
	Op     string
	Local  string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s <-> %s failed: %v", e.Op, e.Local, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FileSystemError is a path-qualified file-access failure.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("sftp %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// isAuthFailure reports whether a handshake error came from rejected
// credentials rather than from the key exchange.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

func isErrorIsConnectionAlreadyClosed(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection already closed")
}
