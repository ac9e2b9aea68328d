package ssh

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"sshstudio/pkg/ssh/sshtest"
)

const (
	testUser     = "support"
	testPassword = "secret"
)

func newTestServer(t *testing.T, user, password string) *sshtest.Server {
	t.Helper()

	srv, err := sshtest.NewServer(user, password)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func testConfig(srv *sshtest.Server) *ClientConfig {
	return NewClientConfig(srv.Host, srv.User).
		WithPort(srv.Port).
		WithPassword(srv.Password).
		WithDialTimeout(2 * time.Second).
		WithKeepaliveInterval(0)
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestClient(t *testing.T, srv *sshtest.Server) *Client {
	t.Helper()

	client, err := NewClient(testContext(t), testConfig(srv))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingHandler struct {
	mu       sync.Mutex
	out      bytes.Buffer
	chunks   int
	closed   []error
	closedCh chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closedCh: make(chan struct{})}
}

func (h *recordingHandler) OnOutput(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.Write(chunk)
	h.chunks++
}

func (h *recordingHandler) OnClosed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, err)
	if len(h.closed) == 1 {
		close(h.closedCh)
	}
}

func (h *recordingHandler) output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.String()
}

func (h *recordingHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

func (h *recordingHandler) closeErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.closed) == 0 {
		return nil
	}
	return h.closed[0]
}
