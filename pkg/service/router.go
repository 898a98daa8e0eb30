package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quasar-go/glagol-go/pkg/connection"
	"github.com/quasar-go/glagol-go/pkg/discovery"
	"github.com/quasar-go/glagol-go/pkg/glagol"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

// device is one registered speaker.
type device struct {
	identity glagol.Identity
	cloudID  string
	session  *glagol.Session
}

// Router owns the per-speaker sessions and picks a transport per call.
type Router struct {
	config  RouterConfig
	capture log.Logger

	mu      sync.RWMutex
	devices map[string]*device
	closed  bool
}

// NewRouter creates a Router.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.Tokens == nil {
		return nil, errors.New("service: token source is required")
	}
	return &Router{
		config:  config,
		capture: log.OrNoop(config.ProtocolLogger),
		devices: make(map[string]*device),
	}, nil
}

// Register adds a speaker. Registering a known device id only updates its
// cloud id and, if given, its endpoint.
func (r *Router) Register(id glagol.Identity, opts DeviceOptions) error {
	if id.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrUnknownDevice)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}

	d, exists := r.devices[id.DeviceID]
	if !exists {
		sess, err := r.newSession(id)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		d = &device{identity: id, cloudID: id.DeviceID, session: sess}
		r.devices[id.DeviceID] = d
	}
	if opts.CloudID != "" {
		d.cloudID = opts.CloudID
	}
	r.mu.Unlock()

	if !exists {
		r.debugLog("speaker registered", "device", id.DeviceID, "platform", id.Platform)
	}
	if !opts.Endpoint.IsZero() {
		d.session.StartOrRestart(opts.Endpoint)
	}
	return nil
}

func (r *Router) newSession(id glagol.Identity) (*glagol.Session, error) {
	deviceID := id.DeviceID
	return glagol.NewSession(glagol.Config{
		Identity:       id,
		Tokens:         r.config.Tokens,
		Dialer:         r.config.Dialer,
		Backoff:        connection.NewBackoffWithConfig(r.config.Backoff),
		After:          r.config.After,
		Logger:         r.config.Logger,
		ProtocolLogger: r.config.ProtocolLogger,
		Metrics:        r.config.Metrics,
		Callbacks: glagol.Callbacks{
			OnState: func(s wire.State) {
				if s == nil {
					r.routeChanged(deviceID, RouteLocal, RouteCloud)
					r.emit(Event{Type: EventDisconnected, DeviceID: deviceID})
					return
				}
				r.emit(Event{Type: EventState, DeviceID: deviceID, State: s})
			},
			OnResponse: func(card wire.Card, requestID string) {
				r.emit(Event{Type: EventResponse, DeviceID: deviceID, Card: &card, RequestID: requestID})
			},
			OnConnectionState: func(s connection.State) {
				if s == connection.StateConnected {
					r.routeChanged(deviceID, RouteCloud, RouteLocal)
					r.emit(Event{Type: EventConnected, DeviceID: deviceID})
				}
			},
		},
	})
}

// HandleAdvertisement starts or retargets the advertised speaker's session.
// Unknown speakers are registered when AutoRegister is set and ignored
// otherwise. It is safe to use directly as a discovery.Listener.
func (r *Router) HandleAdvertisement(adv discovery.Advertisement) {
	r.mu.RLock()
	d, known := r.devices[adv.DeviceID]
	closed := r.closed
	autoRegister := r.config.AutoRegister
	r.mu.RUnlock()

	if closed {
		return
	}
	if !known {
		if !autoRegister {
			r.debugLog("ignoring unregistered speaker", "device", adv.DeviceID, "host", adv.Host)
			return
		}
		id := glagol.Identity{DeviceID: adv.DeviceID, Platform: adv.Platform, Name: adv.Name}
		if err := r.Register(id, DeviceOptions{}); err != nil {
			r.debugLog("auto-register failed", "device", adv.DeviceID, "error", err)
			return
		}
		r.mu.RLock()
		d = r.devices[adv.DeviceID]
		r.mu.RUnlock()
		if d == nil {
			return
		}
	}

	r.emit(Event{Type: EventDiscovered, DeviceID: adv.DeviceID, Advertisement: &adv})
	d.session.StartOrRestart(glagol.Endpoint{Host: adv.Host, Port: adv.Port})
}

// Execute delivers in to the speaker: over the local session when it is
// connected, through the cloud otherwise. Errors from the chosen transport
// are returned as is; nothing is retried.
func (r *Router) Execute(ctx context.Context, deviceID string, in Intent) (Outcome, error) {
	if in == nil {
		return Outcome{}, fmt.Errorf("%w: nil intent", ErrUnsupportedIntent)
	}

	r.mu.RLock()
	d, ok := r.devices[deviceID]
	closed := r.closed
	var cloudID string
	if ok {
		cloudID = d.cloudID
	}
	r.mu.RUnlock()

	if closed {
		return Outcome{}, ErrRouterClosed
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	if d.session.Connected() {
		out, err := r.executeLocal(ctx, d, in)
		if !errors.Is(err, glagol.ErrNotConnected) {
			return out, err
		}
		// Lost between the check and the send.
	}
	return r.executeCloud(ctx, d.identity, cloudID, in)
}

func (r *Router) executeLocal(ctx context.Context, d *device, in Intent) (Outcome, error) {
	cmd, err := localCommand(in, d.identity.Platform)
	if err != nil {
		return Outcome{}, err
	}

	reply, err := d.session.Send(ctx, cmd, "")
	if err != nil {
		return Outcome{}, err
	}

	r.config.Metrics.Routed(RouteLocal.String(), in.Name())
	r.debugLog("intent delivered", "device", d.identity.DeviceID, "intent", in.Name(), "route", RouteLocal, "rtt", reply.RoundTrip)
	return Outcome{Route: RouteLocal, Reply: &reply}, nil
}

func (r *Router) executeCloud(ctx context.Context, id glagol.Identity, cloudID string, in Intent) (Outcome, error) {
	if r.config.Cloud == nil {
		return Outcome{}, ErrNoRoute
	}

	action, assumed, err := cloudAction(in, id.Platform)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.config.Cloud.Run(ctx, cloudID, action); err != nil {
		return Outcome{}, err
	}

	r.config.Metrics.Routed(RouteCloud.String(), in.Name())
	r.debugLog("intent delivered", "device", id.DeviceID, "intent", in.Name(), "route", RouteCloud)
	return Outcome{Route: RouteCloud, Assumed: assumed}, nil
}

// Session returns the session of a registered speaker.
func (r *Router) Session(deviceID string) (*glagol.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return d.session, true
}

// Devices returns the status of every registered speaker, sorted by id.
func (r *Router) Devices() []DeviceStatus {
	r.mu.RLock()
	list := make([]*device, 0, len(r.devices))
	cloudIDs := make(map[*device]string, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
		cloudIDs[d] = d.cloudID
	}
	r.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(list))
	for _, d := range list {
		st := DeviceStatus{
			Identity: d.identity,
			CloudID:  cloudIDs[d],
			Endpoint: d.session.Endpoint(),
			State:    d.session.State(),
			Route:    RouteCloud,
			Snapshot: d.session.Snapshot(),
		}
		if st.State == connection.StateConnected {
			st.Route = RouteLocal
		}
		if at, ok := d.session.NextRetry(); ok {
			st.NextRetry = at
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.DeviceID < out[j].Identity.DeviceID })
	return out
}

// Close stops every session and waits for their loops to exit. Further
// calls to Execute fail with ErrRouterClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*glagol.Session, 0, len(r.devices))
	for _, d := range r.devices {
		sessions = append(sessions, d.session)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.Stop()
			s.Wait()
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) routeChanged(deviceID string, from, to Route) {
	r.capture.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		DeviceID:  deviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRoute,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
	if r.config.Logger != nil {
		r.config.Logger.Info("speaker route changed", "device", deviceID, "route", to)
	}
}

func (r *Router) emit(e Event) {
	if r.config.OnEvent != nil {
		r.config.OnEvent(e)
	}
}

func (r *Router) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}
