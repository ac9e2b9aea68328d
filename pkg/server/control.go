// Package server exposes a Studio over HTTP on a unix socket, with session
// events streamed as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sshstudio/pkg/service"
	"sshstudio/pkg/settings"
	"sshstudio/pkg/ssh"

	"github.com/sirupsen/logrus"
)

// ErrStopped is the cause Start returns after POST /stop
var ErrStopped = errors.New("stop requested")

type ErrResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.Errorf("failed to encode json response: %v", err)
	}
}

// ControlServer drives one Studio from HTTP clients.
//
// Endpoints:
//   - GET  /healthz      - Health check
//   - GET  /settings     - Current settings without secrets
//   - GET  /algorithms   - Negotiable algorithms of the open session
//   - GET  /events       - SSE stream of session events (?topic=<id>)
//   - POST /connect      - Open a session
//   - POST /disconnect   - Close the session
//   - POST /setup-key    - Install and switch to key login
//   - POST /run          - Run a command, stderr is a failure
//   - POST /exec         - Run a command (SSE streaming output)
//   - POST /download     - scp remote to local
//   - POST /upload       - scp local to remote
//   - POST /fs/{op}      - File access: stat ls mkdir rmdir rm mv readlink realpath read save
//   - POST /shell/open   - Open the interactive shell
//   - POST /shell/send   - Queue shell input
//   - POST /shell/resize - Change the terminal size
//   - POST /shell/close  - Close the shell
//   - POST /stop         - Stop the server
type ControlServer struct {
	studio *service.Studio
	srv    *httpServer
	sse    *EventStream

	// shellCtx outlives requests; shells opened over HTTP live until
	// closed or the server stops
	shellCtx context.Context
	stop     context.CancelCauseFunc
}

// NewControlServer creates a server listening on listen (unix:///path).
// stream must be among the sinks the studio emits to for /events to carry
// anything.
func NewControlServer(listen string, studio *service.Studio, stream *EventStream) *ControlServer {
	return &ControlServer{
		studio: studio,
		srv:    newUnixSockHTTPServer("control-api", listen),
		sse:    stream,
	}
}

// Start begins serving requests. Blocks until ctx is cancelled or /stop is
// called; the session is disconnected on return.
func (s *ControlServer) Start(ctx context.Context) error {
	ctx, s.stop = context.WithCancelCause(ctx)
	defer s.stop(nil)
	s.shellCtx = ctx

	s.srv.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.srv.mux.HandleFunc("GET /settings", s.handleSettings)
	s.srv.mux.HandleFunc("GET /algorithms", s.handleAlgorithms)
	s.srv.mux.Handle("GET /events", s.sse)
	s.srv.mux.HandleFunc("POST /connect", s.handleConnect)
	s.srv.mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	s.srv.mux.HandleFunc("POST /setup-key", s.handleSetupKey)
	s.srv.mux.HandleFunc("POST /run", s.handleRun)
	s.srv.mux.HandleFunc("POST /exec", s.handleExec)
	s.srv.mux.HandleFunc("POST /download", s.handleDownload)
	s.srv.mux.HandleFunc("POST /upload", s.handleUpload)
	s.srv.mux.HandleFunc("POST /fs/{op}", s.handleFileSystem)
	s.srv.mux.HandleFunc("POST /shell/open", s.handleShellOpen)
	s.srv.mux.HandleFunc("POST /shell/send", s.handleShellSend)
	s.srv.mux.HandleFunc("POST /shell/resize", s.handleShellResize)
	s.srv.mux.HandleFunc("POST /shell/close", s.handleShellClose)
	s.srv.mux.HandleFunc("POST /stop", s.handleStop)

	defer func() {
		if err := s.studio.Disconnect(); err != nil {
			logrus.Warnf("failed to disconnect: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.sse.Shutdown(shutdownCtx)
	}()

	return s.srv.serve(ctx)
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

// writeError maps session errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code, kind := http.StatusInternalServerError, ""

	var (
		authErr     *ssh.AuthError
		tunnelErr   *ssh.TunnelError
		resolveErr  *ssh.ResolutionError
		connectErr  *ssh.ConnectError
		failure     *ssh.CommandFailure
		transferErr *ssh.TransferError
		fsErr       *ssh.FileSystemError
	)
	switch {
	case errors.Is(err, service.ErrNotConnected), errors.Is(err, service.ErrNoShell):
		code, kind = http.StatusConflict, "state"
	case errors.As(err, &tunnelErr):
		code, kind = http.StatusBadGateway, "tunnel"
	case errors.As(err, &authErr):
		code, kind = http.StatusUnauthorized, "auth"
	case errors.As(err, &resolveErr), errors.As(err, &connectErr):
		code, kind = http.StatusBadGateway, "connect"
	case errors.As(err, &failure):
		code, kind = http.StatusUnprocessableEntity, "command"
	case ssh.IsNotExist(err):
		code, kind = http.StatusNotFound, "not-exist"
	case errors.As(err, &transferErr):
		kind = "transfer"
	case errors.As(err, &fsErr):
		kind = "filesystem"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code, kind = http.StatusGatewayTimeout, "timeout"
	}

	WriteJSON(w, code, ErrResponse{Error: err.Error(), Kind: kind})
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, nil)
}

func (s *ControlServer) handleSettings(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, s.studio.Settings().Redacted())
}

func (s *ControlServer) handleAlgorithms(w http.ResponseWriter, _ *http.Request) {
	algos, err := s.studio.Algorithms()
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, algos)
}

// ConnectRequest selects key login when PrivateKey is set and password
// login otherwise. Empty fields fall back to the stored settings.
type ConnectRequest struct {
	Server     string         `json:"server,omitempty"`
	Port       uint16         `json:"port,omitempty"`
	User       string         `json:"user,omitempty"`
	Password   string         `json:"password,omitempty"`
	PrivateKey string         `json:"private_key,omitempty"`
	Jump       *settings.Jump `json:"jump,omitempty"`
}

func (s *ControlServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decode(w, r, &req) {
		return
	}

	st := s.studio.Settings()
	if req.Server == "" {
		req.Server = st.Server
	}
	if req.Port == 0 {
		req.Port = st.Port
	}
	if req.User == "" {
		req.User = st.User
	}
	if req.Jump == nil {
		req.Jump = st.Jump
	}

	var err error
	switch {
	case req.PrivateKey != "":
		err = s.studio.ConnectWithKey(r.Context(), req.Server, req.Port, req.User, req.PrivateKey, req.Jump)
	case req.Password != "":
		err = s.studio.ConnectWithPassword(r.Context(), req.Server, req.Port, req.User, req.Password, req.Jump)
	default:
		err = s.studio.Connect(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.studio.Settings().Redacted())
}

func (s *ControlServer) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.studio.Disconnect(); err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}

type setupKeyRequest struct {
	Password string `json:"password,omitempty"`
}

type setupKeyResponse struct {
	PrivateKey string `json:"private_key"`
}

func (s *ControlServer) handleSetupKey(w http.ResponseWriter, r *http.Request) {
	var req setupKeyRequest
	if !decode(w, r, &req) {
		return
	}
	keyPath, err := s.studio.SetupKey(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, setupKeyResponse{PrivateKey: keyPath})
}

type commandRequest struct {
	Command string `json:"command"`
}

type runResponse struct {
	Stdout string `json:"stdout"`
}

func (s *ControlServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.studio.RunCommand(r.Context(), req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, runResponse{Stdout: out})
}

type transferRequest struct {
	Remote string `json:"remote"`
	Local  string `json:"local"`
}

type transferResponse struct {
	ID string `json:"id"`
}

func (s *ControlServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.studio.Download(r.Context(), req.Remote, req.Local)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, transferResponse{ID: id})
}

func (s *ControlServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.studio.Upload(r.Context(), req.Local, req.Remote)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, transferResponse{ID: id})
}

func (s *ControlServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, nil)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.stop(ErrStopped)
}
