// Package sshtest provides an in-process SSH server for tests. It accepts
// password and public-key logins and serves exec, pty, shell, window-change,
// the sftp subsystem, scp sink and source, and direct-tcpip forwarding.
// GVProxy fakes a gvproxy control socket in front of it.
package sshtest

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// ShellExitWord closes an echo shell when it appears in the input.
const ShellExitWord = "exit"

var authorizedKeyScript = regexp.MustCompile(`echo (.+) >> \.ssh/authorized_keys$`)

// WindowSize is one recorded window-change request.
type WindowSize struct {
	Width  uint32
	Height uint32
}

type response struct {
	stdout string
	stderr string
	status uint32
}

// Server is a listening SSH server on 127.0.0.1.
type Server struct {
	User     string
	Password string
	Host     string
	Port     uint16

	listener net.Listener
	config   *ssh.ServerConfig

	mu          sync.Mutex
	authorized  map[string]bool
	responses   map[string]response
	commands    []string
	shellInput  bytes.Buffer
	windowSizes []WindowSize
	ptyRequests int
	conns       map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server accepting user with password. Public keys are
// accepted once authorized with Authorize or through an authorized_keys
// install command.
func NewServer(user, password string) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	s := &Server{
		User:       user,
		Password:   password,
		Host:       "127.0.0.1",
		Port:       uint16(addr.Port),
		listener:   listener,
		authorized: make(map[string]bool),
		responses:  make(map[string]response),
		conns:      make(map[net.Conn]struct{}),
	}

	s.config = &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-sshtest",
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == s.User && string(pass) == s.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.Lock()
			ok := s.authorized[ssh.FingerprintSHA256(key)]
			s.mu.Unlock()
			if conn.User() == s.User && ok {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	s.config.AddHostKey(hostSigner)

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Authorize accepts key for public-key logins.
func (s *Server) Authorize(key ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[ssh.FingerprintSHA256(key)] = true
}

// IsAuthorized reports whether key has been authorized.
func (s *Server) IsAuthorized(key ssh.PublicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[ssh.FingerprintSHA256(key)]
}

// Respond registers a canned reply for an exact exec command line.
func (s *Server) Respond(command, stdout, stderr string, status uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[command] = response{stdout: stdout, stderr: stderr, status: status}
}

// Commands returns every exec command received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// ShellInput returns everything written to shells so far.
func (s *Server) ShellInput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.shellInput.Bytes())
}

// WindowSizes returns the recorded window-change requests.
func (s *Server) WindowSizes() []WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WindowSize(nil), s.windowSizes...)
}

// PTYRequests returns how many pty-req requests were granted.
func (s *Server) PTYRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptyRequests
}

// DropConnections closes every accepted connection without a goodbye.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, netConn)
		s.mu.Unlock()
		_ = netConn.Close()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		logrus.Debugf("sshtest: handshake failed: %v", err)
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			go s.handleSession(sshConn.User(), newChan)
		case "direct-tcpip":
			go handleDirectTCPIP(newChan)
		default:
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func (s *Server) handleSession(user string, newChan ssh.NewChannel) {
	ch, requests, err := newChan.Accept()
	if err != nil {
		return
	}

	for req := range requests {
		switch req.Type {
		case "pty-req":
			s.mu.Lock()
			s.ptyRequests++
			s.mu.Unlock()
			reply(req, true)
		case "window-change":
			var msg struct {
				Width, Height, WidthPx, HeightPx uint32
			}
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				s.mu.Lock()
				s.windowSizes = append(s.windowSizes, WindowSize{Width: msg.Width, Height: msg.Height})
				s.mu.Unlock()
			}
			reply(req, true)
		case "env":
			reply(req, true)
		case "shell":
			reply(req, true)
			go s.echoShell(ch)
		case "exec":
			var msg struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				reply(req, false)
				continue
			}
			reply(req, true)
			go s.exec(user, ch, msg.Command)
		case "subsystem":
			var msg struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" {
				reply(req, false)
				continue
			}
			reply(req, true)
			go serveSFTP(ch)
		case "signal":
			reply(req, true)
			exit(ch, 143)
		default:
			reply(req, false)
		}
	}
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		_ = req.Reply(ok, nil)
	}
}

func exit(ch ssh.Channel, status uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	_ = ch.Close()
}

func (s *Server) echoShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			data := buf[:n]
			s.mu.Lock()
			s.shellInput.Write(data)
			s.mu.Unlock()

			if bytes.Contains(data, []byte(ShellExitWord)) {
				exit(ch, 0)
				return
			}
			if _, err := ch.Write(data); err != nil {
				return
			}
		}
		if err != nil {
			exit(ch, 0)
			return
		}
	}
}

func (s *Server) exec(user string, ch ssh.Channel, command string) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	resp, canned := s.responses[command]
	s.mu.Unlock()

	switch {
	case canned:
		_, _ = io.WriteString(ch, resp.stdout)
		_, _ = io.WriteString(ch.Stderr(), resp.stderr)
		exit(ch, resp.status)
	case command == "whoami":
		_, _ = io.WriteString(ch, user+"\n")
		exit(ch, 0)
	case strings.HasPrefix(command, "scp "):
		s.scp(ch, command)
	case strings.HasPrefix(command, "sh -c "):
		s.script(ch, command)
	default:
		fmt.Fprintf(ch.Stderr(), "sh: %s: command not found\n", command)
		exit(ch, 127)
	}
}

// script runs the one sh -c script the server knows: appending a key to
// authorized_keys.
func (s *Server) script(ch ssh.Channel, command string) {
	args, err := shellWords(command)
	if err != nil || len(args) != 3 {
		fmt.Fprintf(ch.Stderr(), "sh: cannot parse %q\n", command)
		exit(ch, 2)
		return
	}
	m := authorizedKeyScript.FindStringSubmatch(args[2])
	if m == nil {
		fmt.Fprintf(ch.Stderr(), "sh: unsupported script %q\n", args[2])
		exit(ch, 127)
		return
	}
	words, err := shellWords(m[1])
	if err != nil {
		fmt.Fprintf(ch.Stderr(), "sh: cannot parse %q\n", m[1])
		exit(ch, 2)
		return
	}
	s.installKey(ch, strings.Join(words, " "))
}

// shellWords splits command into words, removing single and double quotes
// the way sh does. Expansions are not performed.
func shellWords(command string) ([]string, error) {
	var (
		words  []string
		word   strings.Builder
		inWord bool
		quote  rune
		escape bool
	)
	for _, r := range command {
		switch {
		case escape:
			word.WriteRune(r)
			escape = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escape = true
			default:
				word.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '\\':
			escape = true
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				words = append(words, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escape {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}
	if inWord {
		words = append(words, word.String())
	}
	return words, nil
}

func (s *Server) installKey(ch ssh.Channel, line string) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		fmt.Fprintf(ch.Stderr(), "invalid key: %v\n", err)
		exit(ch, 1)
		return
	}
	s.Authorize(key)
	exit(ch, 0)
}

// scp speaks the single-file sink (-t) and source (-f) sides of the rcp
// protocol against the local file system.
func (s *Server) scp(ch ssh.Channel, command string) {
	fields := strings.Fields(command)
	if len(fields) < 3 {
		exit(ch, 1)
		return
	}

	target := fields[len(fields)-1]
	if unquoted, err := strconv.Unquote(target); err == nil {
		target = unquoted
	}

	var sink, source bool
	for _, flag := range fields[1 : len(fields)-1] {
		if !strings.HasPrefix(flag, "-") {
			continue
		}
		sink = sink || strings.Contains(flag, "t")
		source = source || strings.Contains(flag, "f")
	}

	var err error
	switch {
	case sink:
		err = scpSink(ch, target)
	case source:
		err = scpSource(ch, target)
	default:
		err = errors.New("neither -t nor -f given")
	}
	if err != nil {
		logrus.Debugf("sshtest: scp %s: %v", target, err)
		exit(ch, 1)
		return
	}
	exit(ch, 0)
}

func scpSink(ch ssh.Channel, target string) error {
	r := bufio.NewReader(ch)
	if _, err := ch.Write([]byte{0}); err != nil {
		return err
	}

	header, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	var (
		mode string
		size int64
		name string
	)
	if _, err := fmt.Sscanf(strings.TrimSpace(header), "C%s %d %s", &mode, &size, &name); err != nil {
		return fmt.Errorf("bad header %q: %w", header, err)
	}
	perm, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return err
	}
	if _, err := ch.Write([]byte{0}); err != nil {
		return err
	}

	if st, err := os.Stat(target); err == nil && st.IsDir() {
		target = path.Join(target, name)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(perm))
	if err != nil {
		_, _ = fmt.Fprintf(ch, "\x01scp: %s: %v\n", target, err)
		return err
	}
	defer f.Close()

	if _, err := io.CopyN(f, r, size); err != nil {
		return err
	}
	if _, err := r.ReadByte(); err != nil {
		return err
	}
	_, err = ch.Write([]byte{0})
	return err
}

func scpSource(ch ssh.Channel, target string) error {
	r := bufio.NewReader(ch)
	if _, err := r.ReadByte(); err != nil {
		return err
	}

	f, err := os.Open(target)
	if err != nil {
		_, _ = fmt.Fprintf(ch, "\x01scp: %s: No such file or directory\n", target)
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(ch, "C%04o %d %s\n", st.Mode().Perm(), st.Size(), path.Base(target)); err != nil {
		return err
	}
	if _, err := r.ReadByte(); err != nil {
		return err
	}
	if _, err := io.Copy(ch, f); err != nil {
		return err
	}
	if _, err := ch.Write([]byte{0}); err != nil {
		return err
	}
	_, err = r.ReadByte()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func serveSFTP(ch ssh.Channel) {
	defer ch.Close()

	server, err := sftp.NewServer(ch)
	if err != nil {
		logrus.Debugf("sshtest: sftp server: %v", err)
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		logrus.Debugf("sshtest: sftp serve: %v", err)
	}
	_ = server.Close()
}

func handleDirectTCPIP(newChan ssh.NewChannel) {
	var msg struct {
		DestAddr string
		DestPort uint32
		OrigAddr string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &msg); err != nil {
		_ = newChan.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
	if err != nil {
		_ = newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, reqs, err := newChan.Accept()
	if err != nil {
		_ = target.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	var once sync.Once
	closeBoth := func() {
		_ = ch.Close()
		_ = target.Close()
	}
	go func() {
		_, _ = io.Copy(target, ch)
		once.Do(closeBoth)
	}()
	go func() {
		_, _ = io.Copy(ch, target)
		once.Do(closeBoth)
	}()
}
