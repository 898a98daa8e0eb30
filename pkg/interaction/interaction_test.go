package interaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quasar-go/glagol-go/pkg/wire"
)

var errLost = errors.New("lost")

func stateFrame() wire.Inbound {
	return wire.Inbound{Kind: wire.FrameState, State: wire.State{"state": map[string]any{"volume": 0.5}}}
}

func responseFrame(text string) wire.Inbound {
	return wire.Inbound{Kind: wire.FrameResponse, Card: &wire.Card{Text: text}}
}

func released(ch <-chan Release) (Release, bool) {
	select {
	case r := <-ch:
		return r, true
	default:
		return Release{}, false
	}
}

func TestGate(t *testing.T) {
	t.Run("SignalWithoutWaiter", func(t *testing.T) {
		var g Gate
		if g.Signal(Release{}) {
			t.Error("Signal reported a release with nothing armed")
		}
	})

	t.Run("ArmDiscardsEarlierSignal", func(t *testing.T) {
		var g Gate
		first := g.Arm()
		second := g.Arm()

		g.Signal(Release{Frame: stateFrame()})

		if _, ok := released(first); ok {
			t.Error("stale waiter was released")
		}
		if _, ok := released(second); !ok {
			t.Error("current waiter was not released")
		}
	})

	t.Run("SingleSlot", func(t *testing.T) {
		var g Gate
		ch := g.Arm()
		if !g.Signal(Release{}) {
			t.Fatal("first Signal did not release")
		}
		if g.Signal(Release{}) {
			t.Error("second Signal released again")
		}
		if g.Armed() {
			t.Error("gate still armed after release")
		}
		if _, ok := released(ch); !ok {
			t.Error("waiter not released")
		}
	})

	t.Run("WaitError", func(t *testing.T) {
		var g Gate
		ch := g.Arm()
		g.Signal(Release{Err: errLost})
		if _, err := Wait(context.Background(), ch); !errors.Is(err, errLost) {
			t.Errorf("Wait err = %v, want errLost", err)
		}
	})

	t.Run("WaitContext", func(t *testing.T) {
		var g Gate
		ch := g.Arm()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := Wait(ctx, ch); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait err = %v, want DeadlineExceeded", err)
		}
	})
}

func TestCorrelatorStateReleasesWaiter(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindSetVolume)

	if c.Awaiting() {
		t.Error("setVolume must not expect a response")
	}
	if route := c.Deliver(stateFrame()); route != RouteState {
		t.Errorf("route = %v, want STATE", route)
	}

	r, ok := released(ch)
	if !ok {
		t.Fatal("waiter not released by state frame")
	}
	if r.Frame.Kind != wire.FrameState {
		t.Errorf("released by %v", r.Frame.Kind)
	}
}

func TestCorrelatorResponseNotForwardedAsState(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindSendText)

	if !c.Awaiting() {
		t.Fatal("sendText must set the awaiting flag")
	}
	if route := c.Deliver(responseFrame("12:00")); route != RouteResponse {
		t.Errorf("route = %v, want RESPONSE", route)
	}
	if c.Awaiting() {
		t.Error("awaiting flag not cleared by the response")
	}
	if r, ok := released(ch); !ok || r.Frame.Card == nil || r.Frame.Card.Text != "12:00" {
		t.Errorf("release = %+v, %v", r, ok)
	}

	// A later response without a query in flight is ordinary state.
	if route := c.Deliver(responseFrame("again")); route != RouteState {
		t.Errorf("second route = %v, want STATE", route)
	}
}

func TestCorrelatorStateWhileAwaiting(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindServerAction)

	// A plain state push still releases the caller and is forwarded; the flag
	// stays set for the response that follows.
	if route := c.Deliver(stateFrame()); route != RouteState {
		t.Errorf("route = %v, want STATE", route)
	}
	if _, ok := released(ch); !ok {
		t.Error("waiter not released")
	}
	if !c.Awaiting() {
		t.Error("awaiting flag cleared by a state frame")
	}
	if route := c.Deliver(responseFrame("ok")); route != RouteResponse {
		t.Errorf("route = %v, want RESPONSE", route)
	}
}

func TestCorrelatorUnknownIgnored(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindPlay)

	if route := c.Deliver(wire.Inbound{Kind: wire.FrameUnknown}); route != RouteIgnore {
		t.Errorf("route = %v, want IGNORE", route)
	}
	if _, ok := released(ch); ok {
		t.Error("unknown frame released the waiter")
	}
}

func TestCorrelatorTeardown(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindSendText)

	c.Teardown(errLost)

	r, ok := released(ch)
	if !ok || !errors.Is(r.Err, errLost) {
		t.Fatalf("release = %+v, %v", r, ok)
	}
	if c.Awaiting() {
		t.Error("awaiting survived teardown")
	}
	if _, ok := c.InFlight(); ok {
		t.Error("pending survived teardown")
	}
}

func TestCorrelatorAbort(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindSendText)

	c.Abort("r1")

	if c.Awaiting() {
		t.Error("awaiting survived abort")
	}
	if _, ok := c.InFlight(); ok {
		t.Error("pending survived abort")
	}
	c.Deliver(stateFrame())
	if _, ok := released(ch); ok {
		t.Error("aborted waiter was released")
	}
}

func TestCorrelatorReset(t *testing.T) {
	c := NewCorrelator()
	c.Begin("r1", wire.KindSendText)
	c.Reset()
	if c.Awaiting() {
		t.Error("Reset did not clear awaiting")
	}
}

func TestCorrelatorFinish(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCorrelator()
	c.now = func() time.Time { return now }

	c.Begin("r1", wire.KindPlay)
	p, ok := c.InFlight()
	if !ok || p.ID != "r1" || p.Kind != wire.KindPlay {
		t.Fatalf("InFlight = %+v, %v", p, ok)
	}

	now = now.Add(250 * time.Millisecond)
	if d := c.Finish("other"); d != 0 {
		t.Errorf("Finish(other) = %v", d)
	}
	if d := c.Finish("r1"); d != 250*time.Millisecond {
		t.Errorf("Finish(r1) = %v, want 250ms", d)
	}
	if _, ok := c.InFlight(); ok {
		t.Error("pending survived Finish")
	}
}

func TestRouteString(t *testing.T) {
	for route, want := range map[Route]string{
		RouteIgnore:   "IGNORE",
		RouteState:    "STATE",
		RouteResponse: "RESPONSE",
		Route(9):      "UNKNOWN",
	} {
		if got := route.String(); got != want {
			t.Errorf("Route(%d).String() = %q, want %q", route, got, want)
		}
	}
}

func TestCorrelatorRouteThenRelease(t *testing.T) {
	c := NewCorrelator()
	ch := c.Begin("r1", wire.KindSendText)

	if route := c.Route(responseFrame("hi")); route != RouteResponse {
		t.Fatalf("route = %v, want RESPONSE", route)
	}
	if _, ok := released(ch); ok {
		t.Fatal("Route must not release the waiter")
	}

	c.Release(responseFrame("hi"))
	if _, ok := released(ch); !ok {
		t.Error("Release did not wake the waiter")
	}
}
