// Package speakersim is a simulated speaker for tests and the glagol-sim
// command. It serves the token endpoint and the local WebSocket endpoint
// from one handler: GET /glagol/token issues conversation tokens and every
// other path upgrades to the speaker protocol.
package speakersim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/transport"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

// DefaultToken is the conversation token issued when Config.Token is empty.
const DefaultToken = "sim-conversation-token"

// Config configures a Speaker.
type Config struct {
	DeviceID string
	Platform string

	// Token is the conversation token to issue (default: DefaultToken).
	Token string

	// OAuthToken, if set, is required in the Authorization header of token
	// requests.
	OAuthToken string

	// Volume is the initial volume in [0, 1].
	Volume float64

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives capture events for the speaker side.
	ProtocolLogger log.Logger
}

// Received is one command frame the speaker accepted.
type Received struct {
	ID      string
	Token   string
	Command string
	Payload map[string]any
	At      time.Time
}

// Speaker is a simulated speaker. It implements http.Handler.
type Speaker struct {
	config   Config
	upgrader *transport.Upgrader

	mu            sync.Mutex
	conns         map[*transport.Conn]struct{}
	received      []Received
	tokenRequests int
	rejectTokens  bool
	silent        bool
	volume        float64
	playing       bool
	title         string
	onCommand     chan Received
	onConnect     chan struct{}
}

// New creates a Speaker.
func New(cfg Config) *Speaker {
	if cfg.Token == "" {
		cfg.Token = DefaultToken
	}
	return &Speaker{
		config: cfg,
		upgrader: transport.NewUpgrader(transport.UpgraderConfig{
			DeviceID: cfg.DeviceID,
			Logger:   cfg.ProtocolLogger,
		}),
		conns:     make(map[*transport.Conn]struct{}),
		volume:    cfg.Volume,
		onCommand: make(chan Received, 64),
		onConnect: make(chan struct{}, 16),
	}
}

// ServeHTTP routes token requests and WebSocket upgrades.
func (s *Speaker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/glagol/token" {
		s.serveToken(w, r)
		return
	}
	s.serveSpeaker(w, r)
}

func (s *Speaker) serveToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenRequests++
	reject := s.rejectTokens
	s.mu.Unlock()

	if want := s.config.OAuthToken; want != "" && r.Header.Get("Authorization") != "OAuth "+want {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resp := map[string]string{"status": "ok", "token": s.config.Token}
	if reject || r.URL.Query().Get("device_id") != s.config.DeviceID {
		resp = map[string]string{"status": "error"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Speaker) serveSpeaker(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.debugLog("upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.debugLog("controller connected", "remote", conn.RemoteAddr())

	select {
	case s.onConnect <- struct{}{}:
	default:
	}

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if err := s.handle(conn, data); err != nil {
			s.debugLog("bad command frame", "error", err)
		}
	}
}

func (s *Speaker) handle(conn *transport.Conn, data []byte) error {
	f, command, err := wire.DecodeFrame(data)
	if err != nil {
		return err
	}
	var payload map[string]any
	_ = json.Unmarshal(f.Payload, &payload)

	rec := Received{
		ID:      f.ID,
		Token:   f.ConversationToken,
		Command: command,
		Payload: payload,
		At:      time.Now(),
	}

	s.mu.Lock()
	s.received = append(s.received, rec)
	silent := s.silent
	s.apply(command, payload)
	s.mu.Unlock()

	select {
	case s.onCommand <- rec:
	default:
	}

	if silent {
		return nil
	}
	if f.ConversationToken != s.config.Token {
		return fmt.Errorf("unexpected conversation token %q", f.ConversationToken)
	}

	switch wire.Kind(command) {
	case wire.KindSendText:
		text, _ := payload["text"].(string)
		return conn.WriteFrame(s.responseFrame(f.ID, "You said: "+text))
	case wire.KindServerAction:
		return conn.WriteFrame(s.responseFrame(f.ID, "OK"))
	default:
		return conn.WriteFrame(s.stateFrame(f.ID))
	}
}

// apply updates the simulated state. Caller holds s.mu.
func (s *Speaker) apply(command string, payload map[string]any) {
	switch wire.Kind(command) {
	case wire.KindSetVolume:
		if v, ok := payload["volume"].(float64); ok {
			s.volume = v
		}
	case wire.KindPlay:
		s.playing = true
	case wire.KindStop:
		s.playing = false
	case wire.KindPlayMusic:
		id, _ := payload["id"].(string)
		s.title = "track " + id
		s.playing = true
	case wire.KindNext, wire.KindPrev:
		s.playing = true
	}
}

func (s *Speaker) state() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"volume":     s.volume,
		"playing":    s.playing,
		"aliceState": "IDLE",
		"playerState": map[string]any{
			"title": s.title,
		},
	}
}

func (s *Speaker) stateFrame(requestID string) []byte {
	frame := map[string]any{
		"id":       uuid.NewString(),
		"sentTime": time.Now().UnixMilli(),
		"state":    s.state(),
	}
	if requestID != "" {
		frame["requestId"] = requestID
	}
	data, _ := json.Marshal(frame)
	return data
}

func (s *Speaker) responseFrame(requestID, text string) []byte {
	frame := map[string]any{
		"id":        uuid.NewString(),
		"requestId": requestID,
		"sentTime":  time.Now().UnixMilli(),
		"state":     s.state(),
		"vinsResponse": map[string]any{
			"payload": map[string]any{
				"response": map[string]any{
					"card": map[string]any{"type": "simple_text", "text": text},
				},
			},
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

// PushState sends an unsolicited state frame to every connected controller.
func (s *Speaker) PushState() {
	frame := s.stateFrame("")
	for _, c := range s.connections() {
		_ = c.WriteFrame(frame)
	}
}

// PushRaw sends data as is to every connected controller.
func (s *Speaker) PushRaw(data []byte) {
	for _, c := range s.connections() {
		_ = c.WriteFrame(data)
	}
}

// DropConnections closes every controller connection.
func (s *Speaker) DropConnections() {
	for _, c := range s.connections() {
		_ = c.Close()
	}
}

func (s *Speaker) connections() []*transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Connections returns the number of live controller connections.
func (s *Speaker) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SetSilent makes the speaker record commands without answering them.
func (s *Speaker) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// RejectTokens makes the token endpoint answer with a non-ok status.
func (s *Speaker) RejectTokens(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens = reject
}

// Commands returns every command frame received so far.
func (s *Speaker) Commands() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// CommandNames returns the command names received so far, in order.
func (s *Speaker) CommandNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.received))
	for i, r := range s.received {
		names[i] = r.Command
	}
	return names
}

// TokenRequests returns how many token requests were served.
func (s *Speaker) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// Volume returns the simulated volume.
func (s *Speaker) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Received delivers commands as they arrive. Deliveries are dropped when
// nobody reads.
func (s *Speaker) Received() <-chan Received {
	return s.onCommand
}

// Connected signals each accepted controller connection. Signals are
// dropped when nobody reads.
func (s *Speaker) Connected() <-chan struct{} {
	return s.onConnect
}

// Describe returns a one-line summary for logs.
func (s *Speaker) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s [%s] volume=%.1f playing=%t conns=%d",
		s.config.DeviceID, strings.TrimSpace(s.config.Platform), s.volume, s.playing, len(s.conns))
}

func (s *Speaker) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
