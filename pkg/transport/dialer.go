package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// DialerConfig configures a speaker Dialer.
type DialerConfig struct {
	// TLSConfig overrides NewSpeakerTLSConfig().
	TLSConfig *tls.Config

	// HandshakeTimeout bounds TCP, TLS and the WebSocket upgrade (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageSize bounds inbound frames (default: 1 MiB).
	MaxMessageSize int64

	// KeepAlive configures ping/pong monitoring. Nil disables it.
	KeepAlive *KeepAliveConfig

	// Logger receives protocol capture events.
	Logger log.Logger
}

// Dialer opens WebSocket connections to speakers.
type Dialer struct {
	config DialerConfig
	ws     *websocket.Dialer
}

// NewDialer creates a speaker dialer.
func NewDialer(config DialerConfig) *Dialer {
	if config.TLSConfig == nil {
		config.TLSConfig = NewSpeakerTLSConfig()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	return &Dialer{
		config: config,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			TLSClientConfig:  config.TLSConfig,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// URL returns the WebSocket URL for a host:port address.
func URL(address string) string {
	return "wss://" + address + "/"
}

// Dial connects to the speaker at address (host:port). deviceID tags the
// connection's capture events.
func (d *Dialer) Dial(ctx context.Context, address, deviceID string) (*Conn, error) {
	ws, resp, err := d.ws.DialContext(ctx, URL(address), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrDialFailed, address, resp.Status)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, address, err)
	}

	return newConn(ws, connOptions{
		deviceID:       deviceID,
		maxMessageSize: d.config.MaxMessageSize,
		writeTimeout:   d.config.WriteTimeout,
		keepAlive:      d.config.KeepAlive,
		logger:         d.config.Logger,
	}), nil
}
