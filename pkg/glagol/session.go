package glagol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quasar-go/glagol-go/pkg/connection"
	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/interaction"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/metrics"
	"github.com/quasar-go/glagol-go/pkg/transport"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

// Session errors.
var (
	ErrNotConnected   = fault.New(fault.Transient, "not connected")
	ErrConnectionLost = fault.New(fault.Transient, "connection lost")
	ErrStopped        = fault.New(fault.Transient, "session stopped")

	errEndpointChanged = errors.New("endpoint changed while dialing")
)

// Callbacks are the owner's hooks. They run on the session's read loop, in
// frame order, and must not call Send on the same session.
type Callbacks struct {
	// OnState receives every forwarded state snapshot, and nil when the
	// local connection is lost.
	OnState func(state wire.State)

	// OnResponse receives the card answering a query command.
	OnResponse func(card wire.Card, requestID string)

	// OnConnectionState observes connection state transitions.
	OnConnectionState func(state connection.State)
}

// Config configures a Session.
type Config struct {
	// Identity of the speaker. DeviceID is required.
	Identity Identity

	// Tokens issues conversation tokens. Required.
	Tokens TokenSource

	// Dialer opens the WebSocket (default: keep-alive enabled, capture to
	// ProtocolLogger).
	Dialer *transport.Dialer

	// Backoff overrides the reconnect policy.
	Backoff *connection.Backoff

	// After replaces time.After for backoff waits.
	After func(d time.Duration) <-chan time.Time

	// Callbacks are the owner's hooks.
	Callbacks Callbacks

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives wire and service capture events.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Reply is the result of a successful Send.
type Reply struct {
	// ID is the correlation id the command was sent with.
	ID string

	// Frame is the kind of frame that released the call.
	Frame wire.FrameKind

	// State is the snapshot carried by that frame.
	State wire.State

	// Card is set when the releasing frame was the expected response.
	Card *wire.Card

	// RoundTrip is the time from write to release.
	RoundTrip time.Duration
}

// Session is the local connection to one speaker.
type Session struct {
	id      Identity
	tokens  TokenSource
	dialer  *transport.Dialer
	loop    *connection.Loop
	corr    *interaction.Correlator
	cb      Callbacks
	logger  *slog.Logger
	capture log.Logger
	metrics *metrics.Metrics

	// sendMu serializes Send.
	sendMu sync.Mutex

	mu        sync.Mutex
	state     connection.State
	endpoint  Endpoint
	token     string
	conn      *transport.Conn
	snapshot  wire.State
	started   bool
	stopped   bool
	nextRetry time.Time
	cancel    context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a stopped-until-started session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Identity.DeviceID == "" {
		return nil, errors.New("glagol: device id is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("glagol: token source is required")
	}
	if cfg.Dialer == nil {
		ka := transport.DefaultKeepAliveConfig()
		cfg.Dialer = transport.NewDialer(transport.DialerConfig{
			KeepAlive: &ka,
			Logger:    cfg.ProtocolLogger,
		})
	}

	s := &Session{
		id:      cfg.Identity,
		tokens:  cfg.Tokens,
		dialer:  cfg.Dialer,
		corr:    interaction.NewCorrelator(),
		cb:      cfg.Callbacks,
		logger:  cfg.Logger,
		capture: log.OrNoop(cfg.ProtocolLogger),
		metrics: cfg.Metrics,
		state:   connection.StateDisconnected,
		done:    make(chan struct{}),
	}
	s.loop = connection.NewLoop(connection.LoopConfig{
		Backoff: cfg.Backoff,
		After:   cfg.After,
		OnRetry: s.onRetry,
	})
	return s, nil
}

// Identity returns the speaker identity.
func (s *Session) Identity() Identity {
	return s.id
}

// State returns the current connection state.
func (s *Session) State() connection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is CONNECTED.
func (s *Session) Connected() bool {
	return s.State() == connection.StateConnected
}

// Endpoint returns the current target endpoint (zero after Stop).
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Snapshot returns the last forwarded state, or nil while disconnected.
func (s *Session) Snapshot() wire.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// NextRetry returns when the next reconnect attempt is due, if one is scheduled.
func (s *Session) NextRetry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRetry, !s.nextRetry.IsZero()
}

// StartOrRestart points the session at ep. The first call starts the
// connect loop. A call with the current host is a no-op; a new host forces
// the live connection closed so the loop dials the new address at once.
// After Stop it does nothing.
func (s *Session) StartOrRestart(ep Endpoint) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	if !s.started {
		s.started = true
		s.endpoint = ep
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.mu.Unlock()

		s.debugLog("session starting", "device", s.id.DeviceID, "address", ep.Address())
		go s.run(ctx)
		return
	}

	if ep.Host == s.endpoint.Host {
		s.mu.Unlock()
		return
	}

	old := s.endpoint
	s.endpoint = ep
	conn := s.conn
	s.mu.Unlock()

	s.debugLog("speaker moved", "device", s.id.DeviceID, "from", old.Address(), "to", ep.Address())
	if conn != nil {
		_ = conn.Close()
	}
	s.loop.Wake()
}

// Stop closes the session for good. A blocked Send returns ErrStopped.
// Stop is idempotent and does not wait; use Wait for that.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.endpoint = Endpoint{}
	s.nextRetry = time.Time{}
	conn := s.conn
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	s.setState(connection.StateStopped, "stopped by owner")

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.corr.Teardown(ErrStopped)

	if !started {
		s.closeDone()
	}
}

// Wait blocks until the connect loop has exited after Stop.
func (s *Session) Wait() {
	<-s.done
}

// Done is closed when the connect loop has exited after Stop.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send writes cmd and blocks until the next state or response frame, the
// end of the connection, or ctx. An empty correlationID gets a fresh UUID.
// Transmit errors are returned as is and not retried.
func (s *Session) Send(ctx context.Context, cmd wire.Command, correlationID string) (Reply, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	conn, token, state := s.conn, s.token, s.state
	s.mu.Unlock()

	if state != connection.StateConnected || conn == nil {
		s.metrics.SendFailed(fault.Transient.String())
		return Reply{}, ErrNotConnected
	}

	id := correlationID
	if id == "" {
		id = uuid.NewString()
	}

	frame, err := wire.EncodeFrame(token, id, cmd, time.Now())
	if err != nil {
		s.metrics.SendFailed(fault.Classify(err).String())
		return Reply{}, err
	}

	release := s.corr.Begin(id, cmd.Kind())
	if err := conn.WriteFrame(frame); err != nil {
		s.corr.Abort(id)
		s.metrics.SendFailed(fault.Transient.String())
		return Reply{}, fault.Wrap(fault.Transient, "send "+cmd.Kind().String(), err)
	}
	s.metrics.Frame("out", cmd.Kind().String())
	s.logCommand(conn, id, cmd, frame)

	r, err := interaction.Wait(ctx, release)
	rt := s.corr.Finish(id)
	if err != nil {
		if ctx.Err() != nil {
			s.corr.Abort(id)
		}
		s.metrics.SendFailed(fault.Classify(err).String())
		return Reply{}, err
	}

	s.metrics.SendCompleted(cmd.Kind().String(), rt)
	return Reply{
		ID:        id,
		Frame:     r.Frame.Kind,
		State:     r.Frame.State,
		Card:      r.Frame.Card,
		RoundTrip: rt,
	}, nil
}

func (s *Session) run(ctx context.Context) {
	defer s.closeDone()
	_ = s.loop.Run(ctx, s.attempt)
	s.debugLog("session loop exited", "device", s.id.DeviceID)
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// attempt is one connection lifetime.
func (s *Session) attempt(ctx context.Context, connected func()) error {
	s.mu.Lock()
	ep := s.endpoint
	s.nextRetry = time.Time{}
	s.mu.Unlock()

	if ep.IsZero() {
		return ErrStopped
	}

	s.setState(connection.StateConnecting, ep.Address())

	token, err := s.ensureToken(ctx)
	if err != nil {
		s.fail("token", err)
		return err
	}

	conn, err := s.dialer.Dial(ctx, ep.Address(), s.id.DeviceID)
	if err != nil {
		s.fail("dial", err)
		return err
	}

	s.mu.Lock()
	if s.stopped || s.endpoint.Host != ep.Host {
		s.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() == nil {
			s.setState(connection.StateDisconnected, errEndpointChanged.Error())
		}
		return errEndpointChanged
	}
	s.conn = conn
	s.mu.Unlock()

	connected()
	s.corr.Reset()
	s.setState(connection.StateConnected, conn.RemoteAddr())
	s.metrics.Connected(s.id.DeviceID)

	err = s.probe(conn, token)
	if err == nil {
		err = s.readLoop(conn)
	}
	s.teardown(conn, err)
	return err
}

func (s *Session) ensureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := s.tokens.Token(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

// probe sends the liveness command right after connecting.
func (s *Session) probe(conn *transport.Conn, token string) error {
	id := uuid.NewString()
	frame, err := wire.EncodeFrame(token, id, wire.Ping{}, time.Now())
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return err
	}
	s.metrics.Frame("out", wire.KindSoftwareVersion.String())
	s.logCommand(conn, id, wire.Ping{}, frame)
	return nil
}

func (s *Session) readLoop(conn *transport.Conn) error {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return err
		}

		in, err := wire.Classify(data)
		if err != nil {
			s.debugLog("dropping malformed frame", "device", s.id.DeviceID, "error", err)
			s.metrics.Frame("in", wire.FrameUnknown.String())
			continue
		}
		s.metrics.Frame("in", in.Kind.String())

		route := s.corr.Route(in)
		s.logInbound(conn, in, route)

		switch route {
		case interaction.RouteState:
			s.mu.Lock()
			s.snapshot = in.State
			s.mu.Unlock()
			if s.cb.OnState != nil {
				s.cb.OnState(in.State)
			}
		case interaction.RouteResponse:
			if in.Card != nil && s.cb.OnResponse != nil {
				s.cb.OnResponse(*in.Card, in.RequestID)
			}
		default:
			s.debugLog("ignoring frame", "device", s.id.DeviceID, "size", len(data))
		}

		s.corr.Release(in)
	}
}

// teardown runs when a connected stream ends for any reason.
func (s *Session) teardown(conn *transport.Conn, cause error) {
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	stopped := s.stopped
	if !stopped {
		s.token = ""
		s.snapshot = nil
	}
	s.mu.Unlock()

	if stopped {
		s.corr.Teardown(ErrStopped)
		return
	}

	s.corr.Teardown(ErrConnectionLost)
	s.setState(connection.StateDisconnected, reason(cause))
	s.metrics.Disconnected(s.id.DeviceID, "read")
	s.logError(conn, "read loop", cause)

	if s.cb.OnState != nil {
		s.cb.OnState(nil)
	}
}

// fail handles a connect attempt that never reached CONNECTED.
func (s *Session) fail(stage string, err error) {
	s.mu.Lock()
	stopped := s.stopped
	if !stopped {
		s.token = ""
	}
	s.mu.Unlock()
	if stopped {
		return
	}

	s.setState(connection.StateDisconnected, stage+": "+err.Error())
	s.metrics.Disconnected(s.id.DeviceID, stage)
	s.logError(nil, stage, err)
}

func (s *Session) onRetry(failures int, delay time.Duration, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.nextRetry = time.Now().Add(delay)
	s.mu.Unlock()

	s.metrics.ReconnectScheduled(delay)
	if s.logger != nil {
		s.logger.Info("speaker unreachable, retrying",
			"device", s.id.DeviceID,
			"failures", failures,
			"delay", delay,
			"error", err)
	}
}

func (s *Session) setState(next connection.State, why string) {
	s.mu.Lock()
	prev := s.state
	if prev == next || (prev == connection.StateStopped && next != connection.StateStopped) {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.debugLog("session state", "device", s.id.DeviceID, "from", prev, "to", next, "reason", why)
	s.metrics.SessionState(s.id.DeviceID, int(next))
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		DeviceID:  s.id.DeviceID,
		Platform:  s.id.Platform,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   why,
		},
	})

	if s.cb.OnConnectionState != nil {
		s.cb.OnConnectionState(next)
	}
}

func (s *Session) logCommand(conn *transport.Conn, id string, cmd wire.Command, frame []byte) {
	var payload map[string]any
	var f wire.Frame
	if err := json.Unmarshal(frame, &f); err == nil {
		_ = json.Unmarshal(f.Payload, &payload)
	}
	s.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   conn.RemoteAddr(),
		DeviceID:     s.id.DeviceID,
		Platform:     s.id.Platform,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeCommand,
			RequestID: id,
			Command:   cmd.Kind().String(),
			Payload:   payload,
		},
	})
}

func (s *Session) logInbound(conn *transport.Conn, in wire.Inbound, route interaction.Route) {
	msg := &log.MessageEvent{RequestID: in.RequestID}
	switch {
	case route == interaction.RouteResponse:
		msg.Type = log.MessageTypeResponse
	case in.Kind == wire.FrameResponse:
		msg.Type = log.MessageTypeResponse
	case in.Kind == wire.FrameState:
		msg.Type = log.MessageTypeState
	default:
		msg.Type = log.MessageTypeUnknown
	}
	if in.Card != nil {
		msg.CardText = in.Card.Text
	}
	if p, ok := s.corr.InFlight(); ok && route != interaction.RouteIgnore {
		rt := time.Since(p.IssuedAt)
		msg.RoundTrip = &rt
	}

	s.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   conn.RemoteAddr(),
		DeviceID:     s.id.DeviceID,
		Platform:     s.id.Platform,
		Message:      msg,
	})
}

func (s *Session) logError(conn *transport.Conn, context string, err error) {
	if err == nil {
		return
	}
	e := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		DeviceID:  s.id.DeviceID,
		Platform:  s.id.Platform,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: context,
		},
	}
	if conn != nil {
		e.ConnectionID = conn.ID()
		e.RemoteAddr = conn.RemoteAddr()
	}
	s.capture.Log(e)
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func reason(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
