package ssh

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"sshstudio/pkg/define"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Transfer copies whole files over scp channels in fixed-size chunks and
// reports integer percent-complete transitions.
type Transfer struct {
	client *Client
}

// NewTransfer creates a transfer engine for client
func NewTransfer(client *Client) *Transfer {
	return &Transfer{client: client}
}

func newSCPClient(client *ssh.Client) (scp.Client, error) {
	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		return scpClient, err
	}
	scpClient.Timeout = define.TransferTimeout
	return scpClient, nil
}

// Download copies remote into local. The receive channel is bound to the
// remote size announced by the sender; bytes already flushed to local stay
// there if the transfer fails.
func (t *Transfer) Download(ctx context.Context, remote, local string, onProgress ProgressFunc) error {
	wrap := func(err error) error {
		return &TransferError{Op: "download", Local: local, Remote: remote, Err: err}
	}

	sshClient, err := t.client.sshClient()
	if err != nil {
		return wrap(err)
	}

	f, err := os.Create(local)
	if err != nil {
		return wrap(err)
	}

	w := bufio.NewWriterSize(f, define.TransferChunkSize)

	var prog *progress
	passThru := func(r io.Reader, total int64) io.Reader {
		prog = newProgress(total, onProgress)
		return &chunkReader{r: r, progress: prog}
	}

	scpClient, err := newSCPClient(sshClient)
	if err != nil {
		_ = f.Close()
		return wrap(fmt.Errorf("failed to open scp channel: %w", err))
	}

	done, err := awaitErrDone(ctx, t.client, func() error {
		err := scpClient.CopyFromRemotePassThru(ctx, w, remote, passThru)
		if flushErr := w.Flush(); err == nil {
			err = flushErr
		}
		return err
	})
	if closeErr := closeAfter(done, f); err == nil {
		err = closeErr
	}
	if err != nil {
		return wrap(err)
	}

	if prog != nil {
		prog.finish()
	}

	logrus.Infof("downloaded %s to %s", remote, local)
	return nil
}

// Upload copies local to remote with mode 0644.
func (t *Transfer) Upload(ctx context.Context, local, remote string, onProgress ProgressFunc) error {
	wrap := func(err error) error {
		return &TransferError{Op: "upload", Local: local, Remote: remote, Err: err}
	}

	sshClient, err := t.client.sshClient()
	if err != nil {
		return wrap(err)
	}

	f, err := os.Open(local)
	if err != nil {
		return wrap(err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return wrap(err)
	}
	if info.IsDir() {
		_ = f.Close()
		return wrap(fmt.Errorf("%q is a directory", local))
	}

	prog := newProgress(info.Size(), onProgress)
	passThru := func(r io.Reader, _ int64) io.Reader {
		return &chunkReader{r: r, progress: prog}
	}

	scpClient, err := newSCPClient(sshClient)
	if err != nil {
		_ = f.Close()
		return wrap(fmt.Errorf("failed to open scp channel: %w", err))
	}

	done, err := awaitErrDone(ctx, t.client, func() error {
		return scpClient.CopyPassThru(ctx, bufio.NewReaderSize(f, define.TransferChunkSize), remote, define.UploadPermissions, info.Size(), passThru)
	})
	_ = closeAfter(done, f)
	if err != nil {
		return wrap(err)
	}

	prog.finish()

	logrus.Infof("uploaded %s to %s", local, remote)
	return nil
}

// closeAfter closes f once done is closed. When the copy is still running
// the close happens in the background and nil is returned.
func closeAfter(done <-chan struct{}, f *os.File) error {
	select {
	case <-done:
		return f.Close()
	default:
	}

	go func() {
		<-done
		if err := f.Close(); err != nil {
			logrus.Debugf("failed to close %s: %v", f.Name(), err)
		}
	}()
	return nil
}
