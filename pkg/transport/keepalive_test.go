package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepAliveConfig(t *testing.T) {
	config := DefaultKeepAliveConfig()

	if config.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval = %v, want %v", config.PingInterval, DefaultPingInterval)
	}
	if config.DetectionDelay() != MaxDetectionDelay {
		t.Errorf("DetectionDelay = %v, want %v", config.DetectionDelay(), MaxDetectionDelay)
	}

	zero := KeepAliveConfig{}.withDefaults()
	if zero != config {
		t.Errorf("withDefaults() = %+v, want %+v", zero, config)
	}
}

func TestKeepAliveSendsPings(t *testing.T) {
	var pings atomic.Int32
	var lastSeq atomic.Uint32

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 100,
	}, func(seq uint32) error {
		pings.Add(1)
		lastSeq.Store(seq)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ka.Start(ctx)
	defer ka.Stop()

	time.Sleep(110 * time.Millisecond)

	if pings.Load() < 3 {
		t.Errorf("expected at least 3 pings, got %d", pings.Load())
	}
	if ka.Stats().CurrentSeq != lastSeq.Load() {
		t.Errorf("CurrentSeq = %d, want %d", ka.Stats().CurrentSeq, lastSeq.Load())
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	var timeouts atomic.Int32

	ka := NewKeepAlive(KeepAliveConfig{
		PingInterval:   15 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(uint32) error { return nil }, func() { timeouts.Add(1) })

	ka.Start(context.Background())
	defer ka.Stop()

	time.Sleep(150 * time.Millisecond)

	if timeouts.Load() != 1 {
		t.Errorf("onTimeout called %d times, want 1", timeouts.Load())
	}
}

func TestKeepAlivePongResetsMissed(t *testing.T) {
	var timeouts atomic.Int32
	var ka *KeepAlive

	ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   15 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func(seq uint32) error {
		// Answer every ping right away.
		go ka.PongReceived(seq)
		return nil
	}, func() { timeouts.Add(1) })

	ka.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	ka.Stop()

	if timeouts.Load() != 0 {
		t.Errorf("onTimeout called %d times with pongs flowing", timeouts.Load())
	}
	if ka.Stats().LastPongTime.IsZero() {
		t.Error("LastPongTime was never set")
	}
}

func TestKeepAliveSendFailure(t *testing.T) {
	done := make(chan struct{})
	ka := NewKeepAlive(KeepAliveConfig{PingInterval: 10 * time.Millisecond},
		func(uint32) error { return errors.New("broken pipe") },
		func() { close(done) })

	ka.Start(context.Background())
	defer ka.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send failure did not trigger onTimeout")
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(KeepAliveConfig{PingInterval: time.Hour}, func(uint32) error { return nil }, nil)

	if ka.IsRunning() {
		t.Error("running before Start")
	}
	ka.Start(context.Background())
	ka.Start(context.Background())
	if !ka.IsRunning() {
		t.Error("not running after Start")
	}
	ka.Stop()
	ka.Stop()
	if ka.IsRunning() {
		t.Error("running after Stop")
	}
}

func TestPingPayload(t *testing.T) {
	seq, ok := DecodePingPayload(EncodePingPayload(0xDEADBEEF))
	if !ok || seq != 0xDEADBEEF {
		t.Errorf("DecodePingPayload = %x, %v", seq, ok)
	}
	if _, ok := DecodePingPayload([]byte("hi")); ok {
		t.Error("foreign payload decoded")
	}
}
