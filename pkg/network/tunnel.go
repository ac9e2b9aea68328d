package network

import (
	"fmt"
	"net"
	"time"

	"github.com/containers/gvisor-tap-vsock/pkg/transport"
	"github.com/sirupsen/logrus"
)

// DialGVProxy opens a stream to host:port through a gvproxy control socket.
// The returned connection is used in place of a direct TCP stream.
func DialGVProxy(socketPath, host string, port uint16, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gvproxy at %q: %w", socketPath, err)
	}

	if err := transport.Tunnel(conn, host, int(port)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create gvproxy tunnel: %w", err)
	}

	logrus.Debugf("established gvproxy tunnel to %s:%d", host, port)
	return conn, nil
}
