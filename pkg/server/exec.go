package server

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"sshstudio/pkg/ssh"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"
)

// streamLinger keeps an exec stream open after its last message so the
// provider delivers the tail before the session ends.
const streamLinger = 200 * time.Millisecond

// handleExec streams a command's output lines to the caller as SSE
// messages typed out or error, followed by a done message.
func (s *ControlServer) handleExec(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}

	topic := "exec-" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(r.Context(), sseTopicKey, topic))
	defer cancel()

	go s.executeCommand(ctx, cancel, topic, req.Command)

	s.sse.ServeHTTP(w, r.WithContext(ctx))
}

func (s *ControlServer) executeCommand(ctx context.Context, cancel context.CancelFunc, topic, command string) {
	defer cancel()

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	go s.streamLines(&wg, stdoutReader, topic, sseTypeOut)
	go s.streamLines(&wg, stderrReader, topic, sseTypeErr)

	opts := &ssh.ExecOptions{
		Stdout:       stdoutWriter,
		Stderr:       stderrWriter,
		CancelSignal: gossh.SIGKILL,
	}
	err := s.studio.Exec(ctx, opts, command)
	_ = stdoutWriter.Close()
	_ = stderrWriter.Close()
	wg.Wait()

	if err != nil {
		s.sse.publish(sseTypeErr, "exec: "+err.Error(), topic)
	} else {
		s.sse.publish(sseTypeDone, sseTypeDone, topic)
	}

	select {
	case <-ctx.Done():
	case <-time.After(streamLinger):
	}
}

func (s *ControlServer) streamLines(wg *sync.WaitGroup, r io.Reader, topic, msgType string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20) // 1MB
	for sc.Scan() {
		s.sse.publish(msgType, sc.Text(), topic)
	}
	_, _ = io.Copy(io.Discard, r)
}
