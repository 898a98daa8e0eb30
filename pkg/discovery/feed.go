package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quasar-go/glagol-go/pkg/metrics"
)

// Listener receives decoded advertisements.
type Listener func(Advertisement)

// listenerQueueSize bounds the advertisements pending for one listener.
const listenerQueueSize = 32

// FeedConfig configures a Feed.
type FeedConfig struct {
	// Browser supplies raw entries. Required.
	Browser Browser

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Feed fans advertisements out to listeners. One Feed can serve every
// device session in the process.
type Feed struct {
	browser Browser
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	listeners []*listenerQueue

	// wg tracks running listener queues.
	wg sync.WaitGroup
}

// listenerQueue delivers advertisements to one listener in arrival order
// from a single goroutine, started on demand.
type listenerQueue struct {
	fn Listener

	mu      sync.Mutex
	pending []Advertisement
	running bool
}

// NewFeed creates a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Browser == nil {
		return nil, errors.New("discovery: browser is required")
	}
	return &Feed{
		browser: cfg.Browser,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// AddListener registers fn for every future advertisement.
func (f *Feed) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, &listenerQueue{fn: fn})
}

// Run browses until ctx is done. Advertisements still queued when it
// returns are delivered in the background; use Wait for that.
func (f *Feed) Run(ctx context.Context) error {
	entries, err := f.browser.Browse(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return ctx.Err()
			}
			f.Publish(e)
		}
	}
}

// Publish decodes e and queues it for every listener without waiting for
// them. Each listener sees advertisements in publish order. When a slow
// listener's queue is full, an older advertisement for the same device is
// replaced, or else the oldest pending one is dropped.
func (f *Feed) Publish(e Entry) {
	adv, err := decodeAdvertisement(e)
	if err != nil {
		f.metrics.Advertisement("malformed")
		if f.logger != nil {
			f.logger.Debug("dropping advertisement", "instance", e.Instance, "error", err)
		}
		return
	}
	f.metrics.Advertisement("accepted")

	f.mu.RLock()
	queues := append([]*listenerQueue(nil), f.listeners...)
	f.mu.RUnlock()

	for _, q := range queues {
		if q.push(adv, &f.wg) {
			f.metrics.Advertisement("coalesced")
			if f.logger != nil {
				f.logger.Debug("listener behind, coalescing advertisements", "device", adv.DeviceID)
			}
		}
	}
}

// Wait blocks until every queued advertisement has been delivered.
func (f *Feed) Wait() {
	f.wg.Wait()
}

// push appends adv and reports whether an older pending entry was discarded.
func (q *listenerQueue) push(adv Advertisement, wg *sync.WaitGroup) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.pending) >= listenerQueueSize {
		drop := 0
		for i, p := range q.pending {
			if p.DeviceID == adv.DeviceID {
				drop = i
				break
			}
		}
		q.pending = append(q.pending[:drop], q.pending[drop+1:]...)
		dropped = true
	}
	q.pending = append(q.pending, adv)

	if !q.running {
		q.running = true
		wg.Add(1)
		go q.drain(wg)
	}
	return dropped
}

func (q *listenerQueue) drain(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		adv := q.pending[0]
		q.pending[0] = Advertisement{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.fn(adv)
	}
}

// Scan browses for timeout and returns the distinct speakers seen, keyed by
// device id. Later advertisements for the same device win.
func Scan(ctx context.Context, b Browser, timeout time.Duration) (map[string]Advertisement, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	found := make(map[string]Advertisement)
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case e, ok := <-entries:
			if !ok {
				return found, nil
			}
			if adv, err := decodeAdvertisement(e); err == nil {
				found[adv.DeviceID] = adv
			}
		}
	}
}
