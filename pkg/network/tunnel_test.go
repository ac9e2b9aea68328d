package network

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sshstudio/pkg/ssh/sshtest"
)

func startGVProxy(t *testing.T) *sshtest.GVProxy {
	t.Helper()

	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "gvp")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	gv, err := sshtest.NewGVProxy(filepath.Join(dir, "gvproxy.sock"))
	if err != nil {
		t.Fatalf("gvproxy: %v", err)
	}
	t.Cleanup(func() { _ = gv.Close() })
	return gv
}

func TestDialGVProxyTunnels(t *testing.T) {
	gv := startGVProxy(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	conn, err := DialGVProxy(gv.Socket, "127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("DialGVProxy: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("echo = %q, %v", buf, err)
	}

	tunnels := gv.Tunnels()
	if len(tunnels) != 1 || tunnels[0] != ln.Addr().String() {
		t.Fatalf("tunnels = %v", tunnels)
	}
}

func TestDialGVProxyRefused(t *testing.T) {
	gv := startGVProxy(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	if _, err := DialGVProxy(gv.Socket, "127.0.0.1", port, time.Second); err == nil {
		t.Fatalf("expected tunnel handshake failure")
	}
}

func TestDialGVProxyMissingSocket(t *testing.T) {
	if _, err := DialGVProxy(filepath.Join(t.TempDir(), "none.sock"), "127.0.0.1", 22, time.Second); err == nil {
		t.Fatalf("expected error for missing socket")
	}
}
