package interaction

import (
	"context"
	"sync"
	"time"

	"github.com/quasar-go/glagol-go/pkg/wire"
)

// Release is what an armed waiter receives.
type Release struct {
	// Frame is the frame that released the waiter (zero when Err is set).
	Frame wire.Inbound

	// Err is set when the connection ended instead.
	Err error

	// At is when the release happened.
	At time.Time
}

// Gate is a single-slot reusable signal.
// The zero value is ready to use.
type Gate struct {
	mu sync.Mutex
	ch chan Release
}

// Arm discards any previous signal and returns the channel the next Signal
// will be delivered on.
func (g *Gate) Arm() <-chan Release {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ch = make(chan Release, 1)
	return g.ch
}

// Signal releases the armed waiter, if any. It never blocks.
// It reports whether a waiter was released.
func (g *Gate) Signal(r Release) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ch == nil {
		return false
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	g.ch <- r
	g.ch = nil
	return true
}

// Disarm drops the armed waiter without releasing it.
func (g *Gate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = nil
}

// Armed reports whether a waiter is armed.
func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// Wait blocks until the release arrives or ctx is done.
// A release carrying an error is returned as that error.
func Wait(ctx context.Context, ch <-chan Release) (Release, error) {
	select {
	case r := <-ch:
		if r.Err != nil {
			return r, r.Err
		}
		return r, nil
	case <-ctx.Done():
		return Release{}, ctx.Err()
	}
}
