package ssh

import (
	"context"
	"errors"
	"time"

	"sshstudio/pkg/define"

	"github.com/sethvargo/go-retry"
)

// retryWouldBlock calls fn until it returns anything other than
// errWouldBlock, sleeping a fixed interval between attempts. The number of
// attempts is unbounded; only ctx ends the loop early.
func retryWouldBlock[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, retry.NewConstant(define.WouldBlockRetryInterval), func(ctx context.Context) error {
		v, err := fn()
		if errors.Is(err, errWouldBlock) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// pending is a blocking primitive started on its own goroutine so that the
// caller can poll it.
type pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func startPending[T any](op func() (T, error)) *pending[T] {
	p := &pending[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.val, p.err = op()
	}()
	return p
}

// poll returns the result if the operation finished, errWouldBlock otherwise.
func (p *pending[T]) poll() (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	default:
		var zero T
		return zero, errWouldBlock
	}
}

// settle polls p until op returns. Between polls it waits at most the
// retry interval and wakes as soon as op finishes.
func (p *pending[T]) settle(ctx context.Context) (T, error) {
	ticker := time.NewTicker(define.WouldBlockRetryInterval)
	defer ticker.Stop()

	for {
		v, err := p.poll()
		if !errors.Is(err, errWouldBlock) {
			return v, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-p.done:
		case <-ticker.C:
		}
	}
}

// await runs op against the client's current blocking mode. In blocking mode
// op runs inline. Otherwise it is started once and polled until it returns.
// When ctx ends first, release receives the late result so that channels
// opened after the caller gave up are not leaked.
func await[T any](ctx context.Context, c *Client, op func() (T, error), release func(T)) (T, error) {
	if c.Blocking() {
		return op()
	}

	p := startPending(op)
	v, err := p.settle(ctx)
	if err != nil && ctx.Err() != nil && release != nil {
		go func() {
			<-p.done
			if p.err == nil {
				release(p.val)
			}
		}()
	}
	return v, err
}

// awaitErr is await for operations without a result value.
func awaitErr(ctx context.Context, c *Client, op func() error) error {
	_, err := await(ctx, c, func() (struct{}, error) {
		return struct{}{}, op()
	}, nil)
	return err
}

// awaitErrDone is awaitErr that also returns a channel closed once op has
// returned. When ctx ends first op may still be running, and whatever it
// writes to must stay open until the channel closes.
func awaitErrDone(ctx context.Context, c *Client, op func() error) (<-chan struct{}, error) {
	if c.Blocking() {
		err := op()
		done := make(chan struct{})
		close(done)
		return done, err
	}

	p := startPending(func() (struct{}, error) {
		return struct{}{}, op()
	})
	_, err := p.settle(ctx)
	return p.done, err
}
