package ssh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"sshstudio/pkg/define"
)

// channelIO puts a non-blocking face on one direction pair of a channel.
//
// A pump goroutine moves bytes from r into an internal buffer and raises
// Ready after every transfer and at end of stream. Writes go through a single
// slot: TryWrite hands the whole chunk to a background write and reports
// would-block until that write has drained, so chunks are never split or
// reordered.
type channelIO struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	rerr  error
	ready chan struct{}

	w       io.Writer
	wmu     sync.Mutex
	writing bool
	werr    error
	drained chan struct{}
}

func newChannelIO(r io.Reader, w io.Writer) *channelIO {
	c := &channelIO{
		ready:   make(chan struct{}, 1),
		w:       w,
		drained: make(chan struct{}, 1),
	}
	if r != nil {
		go c.pump(r)
	} else {
		c.rerr = io.EOF
	}
	return c
}

func (c *channelIO) pump(r io.Reader) {
	buf := make([]byte, define.TransferChunkSize)
	for {
		n, err := r.Read(buf)

		c.mu.Lock()
		if n > 0 {
			c.buf.Write(buf[:n])
		}
		if err != nil {
			c.rerr = err
		}
		c.mu.Unlock()

		if n > 0 || err != nil {
			c.notify()
		}
		if err != nil {
			return
		}
	}
}

func (c *channelIO) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Ready fires when bytes arrived or the read side closed. It is used only
// for readiness, never for data.
func (c *channelIO) Ready() <-chan struct{} {
	return c.ready
}

// TryRead returns buffered bytes if there are any, io.EOF (or the pump's
// read error) once the remote side closed and the buffer is empty, and
// errWouldBlock otherwise.
func (c *channelIO) TryRead(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() > 0 {
		return c.buf.Read(p)
	}
	if c.rerr != nil {
		return 0, c.rerr
	}
	return 0, errWouldBlock
}

// TryWrite accepts all of p or nothing.
func (c *channelIO) TryWrite(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.werr != nil {
		return 0, c.werr
	}
	if c.w == nil {
		return 0, io.ErrClosedPipe
	}
	if c.writing {
		return 0, errWouldBlock
	}
	if len(p) == 0 {
		return 0, nil
	}

	data := bytes.Clone(p)
	c.writing = true
	go func() {
		_, err := c.w.Write(data)

		c.wmu.Lock()
		c.writing = false
		if err != nil {
			c.werr = err
		}
		c.wmu.Unlock()

		select {
		case c.drained <- struct{}{}:
		default:
		}
	}()

	return len(p), nil
}

// Flush waits for the in-flight write, if any, and reports its error.
func (c *channelIO) Flush(ctx context.Context) error {
	for {
		c.wmu.Lock()
		writing, err := c.writing, c.werr
		c.wmu.Unlock()

		if !writing {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.drained:
		}
	}
}

// ReadAll drains the read side to end of stream. In non-blocking mode every
// empty poll goes through the would-block retry policy.
func (c *channelIO) ReadAll(ctx context.Context, blocking bool) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, define.TransferChunkSize)

	drain := func() (struct{}, error) {
		for {
			n, err := c.TryRead(buf)
			out.Write(buf[:n])
			if errors.Is(err, io.EOF) {
				return struct{}{}, nil
			}
			if err != nil {
				return struct{}{}, err
			}
		}
	}

	if !blocking {
		_, err := retryWouldBlock(ctx, drain)
		return out.Bytes(), err
	}

	for {
		_, err := drain()
		if !errors.Is(err, errWouldBlock) {
			return out.Bytes(), err
		}
		select {
		case <-ctx.Done():
			return out.Bytes(), ctx.Err()
		case <-c.ready:
		}
	}
}
