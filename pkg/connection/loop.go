package connection

import (
	"context"
	"time"
)

// AttemptFunc performs one connection lifetime: dial, then serve until the
// connection ends. It calls connected once the connection is established.
type AttemptFunc func(ctx context.Context, connected func()) error

// Loop runs connection attempts one after another with backoff in between.
// A Loop must not be shared between devices.
type Loop struct {
	backoff *Backoff

	// after returns a channel that fires once d has elapsed.
	after func(d time.Duration) <-chan time.Time

	// onRetry is called before every wait.
	onRetry func(failures int, delay time.Duration, err error)

	wakeCh chan struct{}
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Backoff computes delays. Default: NewBackoff().
	Backoff *Backoff

	// After replaces time.After (tests inject a fake clock here).
	After func(d time.Duration) <-chan time.Time

	// OnRetry observes every scheduled retry.
	OnRetry func(failures int, delay time.Duration, err error)
}

// NewLoop creates a reconnect loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff()
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	return &Loop{
		backoff: cfg.Backoff,
		after:   cfg.After,
		onRetry: cfg.OnRetry,
		wakeCh:  make(chan struct{}, 1),
	}
}

// Backoff returns the loop's backoff calculator.
func (l *Loop) Backoff() *Backoff {
	return l.backoff
}

// Wake cuts the current or next backoff wait short.
func (l *Loop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
		// Already pending
	}
}

// Run calls attempt until ctx is cancelled. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context, attempt AttemptFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attempt(ctx, l.backoff.Reset)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := l.backoff.Next()
		if l.onRetry != nil {
			l.onRetry(l.backoff.Failures(), delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wakeCh:
		case <-l.after(delay):
		}
	}
}
