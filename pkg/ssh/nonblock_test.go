package ssh

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"sshstudio/pkg/define"
)

func TestRetryWouldBlock(t *testing.T) {
	calls := 0
	v, err := retryWouldBlock(context.Background(), func() (int, error) {
		calls++
		if calls < 4 {
			return 0, errWouldBlock
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestRetryWouldBlockPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := retryWouldBlock(context.Background(), func() (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("got %v after %d calls", err, calls)
	}
}

func TestRetryWouldBlockHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := retryWouldBlock(ctx, func() (int, error) { return 0, errWouldBlock })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if errors.Is(err, errWouldBlock) {
		t.Fatalf("would-block leaked to the caller")
	}
}

func TestAwaitBlockingRunsInline(t *testing.T) {
	c := &Client{closed: make(chan struct{})}
	c.SetBlocking(true)

	v, err := await(context.Background(), c, func() (string, error) { return "ok", nil }, nil)
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestAwaitNonBlockingPolls(t *testing.T) {
	c := &Client{closed: make(chan struct{})}

	start := time.Now()
	v, err := await(context.Background(), c, func() (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 7, nil
	}, nil)
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before the operation completed")
	}
}

func TestAwaitReleasesLateResult(t *testing.T) {
	c := &Client{closed: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var released atomic.Bool
	_, err := await(ctx, c, func() (io.Closer, error) {
		time.Sleep(100 * time.Millisecond)
		return io.NopCloser(nil), nil
	}, func(io.Closer) { released.Store(true) })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	waitFor(t, "late result released", released.Load)
}

func TestAwaitWakesWhenOperationReturns(t *testing.T) {
	c := &Client{closed: make(chan struct{})}

	const calls = 50
	start := time.Now()
	for i := 0; i < calls; i++ {
		if _, err := await(context.Background(), c, func() (int, error) { return i, nil }, nil); err != nil {
			t.Fatalf("await: %v", err)
		}
	}
	// sleeping out the retry interval on every call would take calls*20ms
	if elapsed := time.Since(start); elapsed >= calls*define.WouldBlockRetryInterval/2 {
		t.Fatalf("%d awaits took %s", calls, elapsed)
	}
}
