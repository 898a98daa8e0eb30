package transport

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongTimeout is the default timeout waiting for a pong response.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the default number of missed pongs before disconnect.
	DefaultMaxMissedPongs = 3

	// MaxDetectionDelay is PingInterval * MaxMissedPongs + PongTimeout for the defaults.
	MaxDetectionDelay = 95 * time.Second
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is the timeout waiting for a pong response.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of missed pongs before disconnect.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// KeepAlive sends pings on an interval and declares the connection dead
// after too many unanswered ones.
type KeepAlive struct {
	config KeepAliveConfig

	sendPing  func(seq uint32) error
	onTimeout func()

	sequence     atomic.Uint32
	missedPongs  int
	lastPingTime time.Time
	lastPongTime time.Time
	lastLatency  time.Duration
	pendingPing  uint32
	hasPending   bool
	timedOut     bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pongCh  chan uint32
}

// NewKeepAlive creates a keep-alive monitor. onTimeout runs at most once.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan uint32, 1),
	}
}

// Start begins the keep-alive monitoring loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop stops the keep-alive monitoring.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// PongReceived is called from the read path when a pong arrives.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// IsRunning returns true if keep-alive monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	LastLatency  time.Duration
	MissedPongs  int
	CurrentSeq   uint32
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		LastLatency:  ka.lastLatency,
		MissedPongs:  ka.missedPongs,
		CurrentSeq:   ka.sequence.Load(),
	}
}

func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			if ka.handleTick() {
				return
			}
		case seq := <-ka.pongCh:
			ka.handlePong(seq)
		}
	}
}

// handleTick accounts for an unanswered ping and sends the next one.
// It returns true once the connection has been declared dead.
func (ka *KeepAlive) handleTick() bool {
	ka.mu.Lock()
	if ka.hasPending && time.Since(ka.lastPingTime) >= ka.config.PongTimeout {
		ka.missedPongs++
		ka.hasPending = false
	}
	dead := ka.missedPongs >= ka.config.MaxMissedPongs
	ka.mu.Unlock()

	if dead {
		ka.fireTimeout()
		return true
	}

	seq := ka.sequence.Add(1)
	ka.mu.Lock()
	ka.lastPingTime = time.Now()
	ka.pendingPing = seq
	ka.hasPending = true
	ka.mu.Unlock()

	if err := ka.sendPing(seq); err != nil {
		// A failed control write means the socket is gone.
		ka.fireTimeout()
		return true
	}
	return false
}

func (ka *KeepAlive) handlePong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastPongTime = now

	// Late pongs for older pings are ignored.
	if ka.hasPending && seq == ka.pendingPing {
		ka.lastLatency = now.Sub(ka.lastPingTime)
		ka.hasPending = false
		ka.missedPongs = 0
	}
}

func (ka *KeepAlive) fireTimeout() {
	ka.mu.Lock()
	if ka.timedOut {
		ka.mu.Unlock()
		return
	}
	ka.timedOut = true
	ka.mu.Unlock()

	if ka.onTimeout != nil {
		ka.onTimeout()
	}
}

// EncodePingPayload encodes a sequence number as a ping payload.
func EncodePingPayload(seq uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

// DecodePingPayload decodes a ping or pong payload.
// Payloads not produced by EncodePingPayload decode to 0, false.
func DecodePingPayload(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}
