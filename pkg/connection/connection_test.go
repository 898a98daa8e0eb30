package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock records requested delays. Channels fire immediately unless hold is set.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
	hold   bool
	held   []chan time.Time
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	if c.hold {
		c.held = append(c.held, ch)
	} else {
		ch <- time.Time{}
	}
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			15 * time.Second,
			30 * time.Second,
			60 * time.Second,
			120 * time.Second,
			240 * time.Second,
			480 * time.Second,
			480 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Failure %d: got %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("MatchesBackoffSequence", func(t *testing.T) {
		for i, exp := range BackoffSequence() {
			if got := DelayFor(i + 1); got != exp {
				t.Errorf("DelayFor(%d) = %v, want %v", i+1, got, exp)
			}
		}
		if DelayFor(0) != 0 {
			t.Errorf("DelayFor(0) = %v, want 0", DelayFor(0))
		}
		if DelayFor(100) != MaxBackoff {
			t.Errorf("DelayFor(100) = %v, want %v", DelayFor(100), MaxBackoff)
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Jitter: 0.25})

		for i := 0; i < 10; i++ {
			b.Reset()
			d := b.Next()
			if d < InitialBackoff || d > InitialBackoff+InitialBackoff/4 {
				t.Errorf("Sample %d: %v out of expected range [15s, 18.75s]", i, d)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()

		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Failures() != 5 {
			t.Errorf("Failures() = %d, want 5", b.Failures())
		}

		b.Reset()

		if b.Failures() != 0 {
			t.Errorf("Failures() = %d after reset, want 0", b.Failures())
		}
		if got := b.Next(); got != InitialBackoff {
			t.Errorf("Next() after reset = %v, want %v", got, InitialBackoff)
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:     100 * time.Millisecond,
			MaxExponent: 2,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			400 * time.Millisecond,
		}

		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Failure %d: got %v, want %v", i+1, got, exp)
			}
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestLoop(t *testing.T) {
	t.Run("BacksOffOnFailures", func(t *testing.T) {
		clock := &fakeClock{}
		l := NewLoop(LoopConfig{After: clock.After})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		attempts := 0
		err := l.Run(ctx, func(ctx context.Context, connected func()) error {
			attempts++
			if attempts == 4 {
				cancel()
			}
			return errors.New("dial failed")
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
		want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}
		got := clock.Delays()
		if len(got) != len(want) {
			t.Fatalf("delays = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("delay %d = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("ConnectedResetsBackoff", func(t *testing.T) {
		clock := &fakeClock{}
		l := NewLoop(LoopConfig{After: clock.After})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		attempts := 0
		_ = l.Run(ctx, func(ctx context.Context, connected func()) error {
			attempts++
			switch attempts {
			case 3:
				connected()
			case 5:
				cancel()
			}
			return errors.New("closed")
		})

		// 15, 30, then reset by the third attempt: 15, 30
		want := []time.Duration{15 * time.Second, 30 * time.Second, 15 * time.Second, 30 * time.Second}
		got := clock.Delays()
		if len(got) != len(want) {
			t.Fatalf("delays = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("delay %d = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("CancelDuringWait", func(t *testing.T) {
		clock := &fakeClock{hold: true}
		l := NewLoop(LoopConfig{After: clock.After})

		ctx, cancel := context.WithCancel(context.Background())

		var mu sync.Mutex
		attempts := 0
		done := make(chan error, 1)
		go func() {
			done <- l.Run(ctx, func(ctx context.Context, connected func()) error {
				mu.Lock()
				attempts++
				mu.Unlock()
				return errors.New("dial failed")
			})
		}()

		// Wait until the loop is parked in its first backoff wait
		deadline := time.Now().Add(time.Second)
		for len(clock.Delays()) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("loop never started waiting")
			}
			time.Sleep(time.Millisecond)
		}

		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}

		mu.Lock()
		defer mu.Unlock()
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("WakeSkipsWait", func(t *testing.T) {
		clock := &fakeClock{hold: true}
		l := NewLoop(LoopConfig{After: clock.After})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		second := make(chan struct{})
		attempts := 0
		go func() {
			_ = l.Run(ctx, func(ctx context.Context, connected func()) error {
				attempts++
				if attempts == 2 {
					close(second)
					<-ctx.Done()
				}
				return errors.New("dial failed")
			})
		}()

		deadline := time.Now().Add(time.Second)
		for len(clock.Delays()) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("loop never started waiting")
			}
			time.Sleep(time.Millisecond)
		}

		l.Wake()

		select {
		case <-second:
		case <-time.After(time.Second):
			t.Fatal("Wake did not trigger a new attempt")
		}
	})

	t.Run("OnRetry", func(t *testing.T) {
		clock := &fakeClock{}
		var failures []int
		l := NewLoop(LoopConfig{
			After: clock.After,
			OnRetry: func(n int, d time.Duration, err error) {
				failures = append(failures, n)
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		attempts := 0
		_ = l.Run(ctx, func(ctx context.Context, connected func()) error {
			attempts++
			if attempts == 3 {
				cancel()
			}
			return errors.New("x")
		})

		if len(failures) != 2 || failures[0] != 1 || failures[1] != 2 {
			t.Errorf("OnRetry failures = %v, want [1 2]", failures)
		}
	})
}
