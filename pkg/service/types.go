package service

import (
	"log/slog"
	"time"

	"github.com/quasar-go/glagol-go/pkg/cloud"
	"github.com/quasar-go/glagol-go/pkg/connection"
	"github.com/quasar-go/glagol-go/pkg/discovery"
	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/glagol"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/metrics"
	"github.com/quasar-go/glagol-go/pkg/transport"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

// Router errors.
var (
	ErrUnknownDevice     = fault.New(fault.Input, "unknown device")
	ErrUnsupportedIntent = fault.New(fault.Input, "intent not supported")
	ErrNoRoute           = fault.New(fault.Transient, "speaker offline and no cloud client configured")
	ErrRouterClosed      = fault.New(fault.Transient, "router closed")
)

// Route is the transport an intent went out on.
type Route uint8

const (
	// RouteLocal is the speaker's own WebSocket.
	RouteLocal Route = iota

	// RouteCloud is the cloud scenario API.
	RouteCloud
)

// String returns the route name.
func (r Route) String() string {
	switch r {
	case RouteLocal:
		return "local"
	case RouteCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// Outcome is the result of Execute.
type Outcome struct {
	// Route the intent was delivered on.
	Route Route

	// Reply is set for local deliveries.
	Reply *glagol.Reply

	// Assumed is a synthesized state for cloud deliveries that change
	// observable state without acknowledgement (volume). Nil otherwise.
	Assumed wire.State
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Tokens issues conversation tokens for every session. Required.
	Tokens glagol.TokenSource

	// Cloud is the fallback client. If nil, Execute fails with ErrNoRoute
	// while a speaker is offline.
	Cloud *cloud.Client

	// Dialer is shared by every session (default: per-session default).
	Dialer *transport.Dialer

	// Backoff configures each session's reconnect policy.
	Backoff connection.BackoffConfig

	// After replaces time.After in session backoff waits.
	After func(d time.Duration) <-chan time.Time

	// AutoRegister creates sessions for advertised speakers that were not
	// registered explicitly.
	AutoRegister bool

	// OnEvent receives router events. It is called from session goroutines
	// and must not block for long.
	OnEvent EventHandler

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives capture events from every session.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// DeviceOptions are per-speaker registration options.
type DeviceOptions struct {
	// CloudID is the device id used by the cloud API (default: DeviceID).
	CloudID string

	// Endpoint, if set, starts the session without waiting for discovery.
	Endpoint glagol.Endpoint
}

// DeviceStatus is a point-in-time view of one speaker.
type DeviceStatus struct {
	Identity  glagol.Identity
	CloudID   string
	Endpoint  glagol.Endpoint
	State     connection.State
	Route     Route
	Snapshot  wire.State
	NextRetry time.Time
}

// EventType identifies router events.
type EventType uint8

const (
	// EventDiscovered - a speaker advertisement was handled.
	EventDiscovered EventType = iota

	// EventConnected - the local session connected.
	EventConnected

	// EventDisconnected - the local session was lost; commands go to the cloud.
	EventDisconnected

	// EventState - the speaker pushed a state snapshot.
	EventState

	// EventResponse - the speaker answered a query command.
	EventResponse
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventDiscovered:
		return "DISCOVERED"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventState:
		return "STATE"
	case EventResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Event represents a router event.
type Event struct {
	// Type is the event type.
	Type EventType

	// DeviceID is the speaker the event concerns.
	DeviceID string

	// State is set for EventState.
	State wire.State

	// Card and RequestID are set for EventResponse.
	Card      *wire.Card
	RequestID string

	// Advertisement is set for EventDiscovered.
	Advertisement *discovery.Advertisement
}

// EventHandler handles router events.
type EventHandler func(Event)
