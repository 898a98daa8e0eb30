// Package metrics exposes Prometheus collectors for the speaker bridge.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics without checking it.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "glagol"

// Metrics holds the bridge collectors.
type Metrics struct {
	// Session metrics
	sessionState   *prometheus.GaugeVec     // Current connection state by device
	connects       *prometheus.CounterVec   // Successful connects by device
	disconnects    *prometheus.CounterVec   // Disconnects by device and reason
	reconnectDelay prometheus.Histogram     // Scheduled backoff delays
	frames         *prometheus.CounterVec   // Frames by direction and kind
	sendDuration   *prometheus.HistogramVec // Send round trip by command kind
	sendErrors     *prometheus.CounterVec   // Send failures by fault class

	// Router metrics
	routed *prometheus.CounterVec // Intents by route and intent

	// Cloud metrics
	cloudRequests *prometheus.CounterVec   // Cloud calls by op and result
	cloudDuration *prometheus.HistogramVec // Cloud call duration by op

	// Discovery metrics
	advertisements *prometheus.CounterVec // Advertisements by result
}

// New creates the collectors and registers them with reg.
// A nil reg disables metrics and returns nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=stopped)",
		}, []string{"device"}),

		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Total successful local connections",
		}, []string{"device"}),

		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Total connection losses and failed attempts",
		}, []string{"device", "reason"}),

		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay scheduled before a reconnect",
			Buckets:   []float64{15, 30, 60, 120, 240, 480},
		}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Total frames by direction and kind",
		}, []string{"direction", "kind"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "send_duration_seconds",
			Help:      "Time from sending a command to the frame that released it",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),

		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "send_errors_total",
			Help:      "Total failed sends by fault class",
		}, []string{"class"}),

		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "intents_total",
			Help:      "Total intents executed by route",
		}, []string{"route", "intent"}),

		cloudRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cloud",
			Name:      "requests_total",
			Help:      "Total cloud API requests by operation and result",
		}, []string{"op", "result"}),

		cloudDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cloud",
			Name:      "request_duration_seconds",
			Help:      "Cloud API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		advertisements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "advertisements_total",
			Help:      "Total speaker advertisements by result",
		}, []string{"result"}),
	}

	var err error
	if m.sessionState, err = register(reg, m.sessionState); err != nil {
		return nil, err
	}
	if m.connects, err = register(reg, m.connects); err != nil {
		return nil, err
	}
	if m.disconnects, err = register(reg, m.disconnects); err != nil {
		return nil, err
	}
	if m.reconnectDelay, err = register(reg, m.reconnectDelay); err != nil {
		return nil, err
	}
	if m.frames, err = register(reg, m.frames); err != nil {
		return nil, err
	}
	if m.sendDuration, err = register(reg, m.sendDuration); err != nil {
		return nil, err
	}
	if m.sendErrors, err = register(reg, m.sendErrors); err != nil {
		return nil, err
	}
	if m.routed, err = register(reg, m.routed); err != nil {
		return nil, err
	}
	if m.cloudRequests, err = register(reg, m.cloudRequests); err != nil {
		return nil, err
	}
	if m.cloudDuration, err = register(reg, m.cloudDuration); err != nil {
		return nil, err
	}
	if m.advertisements, err = register(reg, m.advertisements); err != nil {
		return nil, err
	}

	return m, nil
}

// register registers c, reusing an identical collector that is already
// registered so two bridges can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// SessionState records the numeric connection state of a device.
func (m *Metrics) SessionState(device string, state int) {
	if m == nil {
		return
	}
	m.sessionState.WithLabelValues(device).Set(float64(state))
}

// Connected counts a successful connection.
func (m *Metrics) Connected(device string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(device).Inc()
}

// Disconnected counts a lost connection or failed attempt.
// reason is a short fixed label such as "token", "dial" or "read".
func (m *Metrics) Disconnected(device, reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(device, reason).Inc()
}

// ReconnectScheduled observes a backoff delay.
func (m *Metrics) ReconnectScheduled(d time.Duration) {
	if m == nil {
		return
	}
	m.reconnectDelay.Observe(d.Seconds())
}

// Frame counts one frame. direction is "in" or "out".
func (m *Metrics) Frame(direction, kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction, kind).Inc()
}

// SendCompleted observes a successful send.
func (m *Metrics) SendCompleted(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(command).Observe(d.Seconds())
}

// SendFailed counts a failed send by fault class.
func (m *Metrics) SendFailed(class string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(class).Inc()
}

// Routed counts an intent executed via route ("local" or "cloud").
func (m *Metrics) Routed(route, intent string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(route, intent).Inc()
}

// CloudRequest observes one cloud API call. result is "ok" or a fault class.
func (m *Metrics) CloudRequest(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cloudRequests.WithLabelValues(op, result).Inc()
	m.cloudDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Advertisement counts a discovery advertisement ("accepted", "malformed"
// or "coalesced" when a listener queue overflowed).
func (m *Metrics) Advertisement(result string) {
	if m == nil {
		return
	}
	m.advertisements.WithLabelValues(result).Inc()
}
