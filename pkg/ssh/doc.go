/*
Package ssh manages authenticated remote-host sessions and multiplexes
command execution, file transfer, file-system operations and an interactive
pseudo-terminal over one connection.

# Architecture

The package is organized into layers:

  - config.go: ClientConfig and ShellConfig builders
  - client.go: transport session (handshake, authentication, blocking mode)
  - jump.go: connection routed through a jump host
  - nonblock.go: would-block retry policy and pollable operations
  - channel.go: non-blocking adapter over a channel's streams
  - session.go: one exec or shell channel
  - executor.go: one-shot and streaming command execution
  - transfer.go: scp download and upload with progress
  - sftp.go: file-system operations and recursive delete
  - shell.go: interactive shell with concurrent reader and writer tasks
  - keygen.go: key pair generation

# Basic Usage

	cfg := ssh.NewClientConfig("192.168.1.10", "support").
		WithPassword("secret")

	client, err := ssh.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	user, err := ssh.NewExecutor(client).Run(ctx, "whoami")

# Jump Hosts

A connection can be routed through an intermediate host. The jump session is
authenticated on its own, a direct-tcpip channel to the target is opened from
it, and the target handshake runs over that channel:

	jump := ssh.NewClientConfig("bastion.example.com", "ops").WithPassword("j")
	cfg := ssh.NewClientConfig("10.0.0.5", "support").
		WithPassword("t").
		WithJump(jump)

Closing the client closes both sessions. Failures are wrapped in a
TunnelError whose Stage tells jump-side from target-side problems.

# Blocking Mode

After NewClient returns the client is in non-blocking mode. Operations then
never wait inline on the connection: each blocking step is started once and
polled, at most 20ms apart, until it completes. The would-block condition stays inside
the package. Shell.Open switches to blocking mode for channel setup only.

# Interactive Shell

	shell := ssh.NewShell(client, ssh.NewShellConfig().WithSize(120, 40), handler)
	if err := shell.Open(ctx); err != nil {
		return err
	}
	if err := shell.StartStreaming(ctx); err != nil {
		return err
	}
	_ = shell.Send([]byte("ls\n"))
	_ = shell.Resize(100, 30)

Output reaches the handler in read order. OnClosed is called exactly once.

# Error Handling

Failures are typed so callers can tell them apart with errors.As:

	ResolutionError  host did not resolve
	ConnectError     no address accepted a connection
	HandshakeError   protocol handshake failed
	AuthError        credentials rejected
	TunnelError      a jump connection failed, Stage says where
	CommandFailure   the command wrote to stderr
	TransferError    I/O failed during a transfer
	FileSystemError  a file-access operation failed on a path

ErrConnectionClosed reports that the remote end went away.
*/
package ssh
