package ssh

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sshstudio/pkg/define"
)

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, pct)
}

func (p *progressLog) check(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.values) == 0 {
		t.Fatalf("no progress reported")
	}
	for i := 1; i < len(p.values); i++ {
		if p.values[i] <= p.values[i-1] {
			t.Fatalf("progress not strictly increasing: %v", p.values)
		}
	}
	if last := p.values[len(p.values)-1]; last != 100 {
		t.Fatalf("last progress = %d, want 100 (%v)", last, p.values)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	client := newTestClient(t, srv)
	transfer := NewTransfer(client)

	chunk := define.TransferChunkSize
	sizes := []int{0, 1, chunk - 1, chunk, chunk + 1, 2 * chunk, 3*chunk + 17}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("size-%d", size), func(t *testing.T) {
			dir := t.TempDir()
			local := filepath.Join(dir, "local.bin")
			remote := filepath.Join(dir, "remote.bin")
			back := filepath.Join(dir, "back.bin")

			data := make([]byte, size)
			if _, err := rand.Read(data); err != nil {
				t.Fatalf("rand: %v", err)
			}
			if err := os.WriteFile(local, data, 0o644); err != nil {
				t.Fatalf("write local: %v", err)
			}

			var up progressLog
			if err := transfer.Upload(testContext(t), local, remote, up.record); err != nil {
				t.Fatalf("upload failed: %v", err)
			}
			up.check(t)

			got, err := os.ReadFile(remote)
			if err != nil {
				t.Fatalf("read remote: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("uploaded content differs (%d vs %d bytes)", len(got), len(data))
			}

			var down progressLog
			if err := transfer.Download(testContext(t), remote, back, down.record); err != nil {
				t.Fatalf("download failed: %v", err)
			}
			down.check(t)

			got, err = os.ReadFile(back)
			if err != nil {
				t.Fatalf("read downloaded: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("downloaded content differs (%d vs %d bytes)", len(got), len(data))
			}
		})
	}
}

func TestDownloadMissingRemote(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	client := newTestClient(t, srv)

	dir := t.TempDir()
	err := NewTransfer(client).Download(testContext(t), filepath.Join(dir, "missing"), filepath.Join(dir, "out"), nil)

	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %T: %v", err, err)
	}
	if transferErr.Op != "download" {
		t.Fatalf("op = %q", transferErr.Op)
	}
}

func TestUploadRejectsDirectory(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	client := newTestClient(t, srv)

	dir := t.TempDir()
	err := NewTransfer(client).Upload(testContext(t), dir, filepath.Join(dir, "x"), nil)

	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %T: %v", err, err)
	}
}

func TestUploadMissingLocal(t *testing.T) {
	srv := newTestServer(t, testUser, testPassword)
	client := newTestClient(t, srv)

	dir := t.TempDir()
	err := NewTransfer(client).Upload(testContext(t), filepath.Join(dir, "nope"), filepath.Join(dir, "x"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestCloseAfterWaitsForRunningCopy(t *testing.T) {
	c := &Client{closed: make(chan struct{})}
	name := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	var wrote atomic.Bool
	done, err := awaitErrDone(ctx, c, func() error {
		<-release
		_, err := f.Write([]byte("late"))
		wrote.Store(err == nil)
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if err := closeAfter(done, f); err != nil {
		t.Fatalf("closeAfter: %v", err)
	}

	close(release)
	<-done
	waitFor(t, "file closed", func() bool {
		_, err := f.Write([]byte("x"))
		return errors.Is(err, os.ErrClosed)
	})
	if !wrote.Load() {
		t.Fatalf("file was closed before the copy finished")
	}
	if got, _ := os.ReadFile(name); string(got) != "late" {
		t.Fatalf("file = %q", got)
	}
}

func TestCloseAfterFinishedCopy(t *testing.T) {
	c := &Client{closed: make(chan struct{})}
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}

	done, err := awaitErrDone(context.Background(), c, func() error { return nil })
	if err != nil {
		t.Fatalf("awaitErrDone: %v", err)
	}
	if err := closeAfter(done, f); err != nil {
		t.Fatalf("closeAfter: %v", err)
	}
	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("file still open: %v", err)
	}
}
