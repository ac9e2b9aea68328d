package ssh

import (
	"io"
	"sync"

	"sshstudio/pkg/define"
)

// ProgressFunc receives integer percent-complete values. Values never
// decrease and never repeat.
type ProgressFunc func(percent int)

type progress struct {
	total    int64
	done     int64
	last     int
	onChange ProgressFunc
	mu       sync.Mutex
}

func newProgress(total int64, onChange ProgressFunc) *progress {
	return &progress{total: total, last: -1, onChange: onChange}
}

func (p *progress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(n)
	p.emitLocked(p.percentLocked())
}

// finish reports 100 if it has not been reported yet.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.emitLocked(100)
}

func (p *progress) percentLocked() int {
	if p.total <= 0 {
		return 100
	}
	pct := int(p.done * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (p *progress) emitLocked(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.onChange != nil {
		p.onChange(pct)
	}
}

// chunkReader reads at most one transfer chunk per call and counts every
// byte that passes through.
type chunkReader struct {
	r        io.Reader
	progress *progress
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > define.TransferChunkSize {
		p = p[:define.TransferChunkSize]
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.progress.add(n)
	}
	return n, err
}
