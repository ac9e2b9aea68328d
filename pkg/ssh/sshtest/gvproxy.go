package sshtest

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// GVProxy stands in for a gvproxy control socket. Every connection opens
// with a POST /tunnel?ip=&port= request; after the OK reply the stream is
// spliced to that TCP address.
type GVProxy struct {
	Socket string

	listener net.Listener

	mu      sync.Mutex
	tunnels []string
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// NewGVProxy listens on the unix socket at socketPath.
func NewGVProxy(socketPath string) (*GVProxy, error) {
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	g := &GVProxy{
		Socket:   socketPath,
		listener: l,
		conns:    make(map[net.Conn]struct{}),
	}
	g.wg.Add(1)
	go g.serve()
	return g, nil
}

// Tunnels returns the host:port of every tunnel requested so far.
func (g *GVProxy) Tunnels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tunnels...)
}

// Close stops accepting and tears down open tunnels.
func (g *GVProxy) Close() error {
	err := g.listener.Close()
	g.mu.Lock()
	for c := range g.conns {
		_ = c.Close()
	}
	g.mu.Unlock()
	g.wg.Wait()
	return err
}

func (g *GVProxy) track(c net.Conn, add bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if add {
		g.conns[c] = struct{}{}
	} else {
		delete(g.conns, c)
	}
}

func (g *GVProxy) serve() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		g.wg.Add(1)
		go g.handle(conn)
	}
}

func (g *GVProxy) handle(conn net.Conn) {
	defer g.wg.Done()
	g.track(conn, true)
	defer g.track(conn, false)
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil || req.Method != http.MethodPost || req.URL.Path != "/tunnel" {
		return
	}
	addr := net.JoinHostPort(req.URL.Query().Get("ip"), req.URL.Query().Get("port"))

	g.mu.Lock()
	g.tunnels = append(g.tunnels, addr)
	g.mu.Unlock()

	target, err := net.Dial("tcp", addr)
	if err != nil {
		logrus.Debugf("gvproxy: dial %s: %v", addr, err)
		_, _ = io.WriteString(conn, "NO")
		return
	}
	g.track(target, true)
	defer g.track(target, false)
	defer target.Close()

	if _, err := io.WriteString(conn, "OK"); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(target, br)
		_ = target.Close()
		close(done)
	}()
	_, _ = io.Copy(conn, target)
	_ = conn.Close()
	<-done
}
