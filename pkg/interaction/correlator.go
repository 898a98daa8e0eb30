package interaction

import (
	"sync"
	"time"

	"github.com/quasar-go/glagol-go/pkg/wire"
)

// Route tells the read loop what to do with a delivered frame.
type Route uint8

const (
	// RouteIgnore drops the frame.
	RouteIgnore Route = iota

	// RouteState forwards the frame as a state update.
	RouteState

	// RouteResponse hands the frame's card to the response handler only.
	RouteResponse
)

// String returns the route name.
func (r Route) String() string {
	switch r {
	case RouteIgnore:
		return "IGNORE"
	case RouteState:
		return "STATE"
	case RouteResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Pending is the command currently waiting for a frame.
type Pending struct {
	ID       string
	Kind     wire.Kind
	IssuedAt time.Time
}

// Correlator matches inbound frames to the in-flight command of one session.
type Correlator struct {
	gate Gate

	mu       sync.Mutex
	awaiting bool
	pending  *Pending

	now func() time.Time
}

// NewCorrelator creates a Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{now: time.Now}
}

// Begin records a command about to be sent and arms the gate.
// Commands whose kind expects a response set the awaiting flag.
func (c *Correlator) Begin(id string, kind wire.Kind) <-chan Release {
	c.mu.Lock()
	c.pending = &Pending{ID: id, Kind: kind, IssuedAt: c.now()}
	if kind.ExpectsResponse() {
		c.awaiting = true
	}
	c.mu.Unlock()

	return c.gate.Arm()
}

// Abort undoes Begin after a failed transmit.
func (c *Correlator) Abort(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.awaiting = false
	if c.pending != nil && c.pending.ID == id {
		c.pending = nil
	}
	c.gate.Disarm()
}

// Finish clears the pending record for id once its waiter returned.
// It returns the time the command spent in flight.
func (c *Correlator) Finish(id string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.ID != id {
		return 0
	}
	d := c.now().Sub(c.pending.IssuedAt)
	c.pending = nil
	return d
}

// Deliver routes a classified inbound frame and releases the armed waiter
// for state and response frames.
func (c *Correlator) Deliver(in wire.Inbound) Route {
	route := c.Route(in)
	c.Release(in)
	return route
}

// Route decides where a frame goes and updates the awaiting flag, without
// releasing the waiter. Pair it with Release when the caller must act on the
// frame before the sender wakes up.
func (c *Correlator) Route(in wire.Inbound) Route {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch in.Kind {
	case wire.FrameState:
		return RouteState
	case wire.FrameResponse:
		if c.awaiting {
			c.awaiting = false
			return RouteResponse
		}
		return RouteState
	default:
		return RouteIgnore
	}
}

// Release wakes the armed waiter with in. Unknown frames release nothing.
func (c *Correlator) Release(in wire.Inbound) {
	if in.Kind == wire.FrameUnknown {
		return
	}
	c.gate.Signal(Release{Frame: in, At: c.now()})
}

// Teardown releases the armed waiter with err and forgets the in-flight
// command. The read loop calls it whenever the connection ends.
func (c *Correlator) Teardown(err error) {
	c.mu.Lock()
	c.awaiting = false
	c.pending = nil
	c.mu.Unlock()

	c.gate.Signal(Release{Err: err, At: c.now()})
}

// Reset clears the awaiting flag left over from a previous connection.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaiting = false
}

// Awaiting reports whether a response frame is expected.
func (c *Correlator) Awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// InFlight returns the pending command, if any.
func (c *Correlator) InFlight() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Pending{}, false
	}
	return *c.pending, true
}
