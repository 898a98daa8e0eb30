package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// UpgraderConfig configures the speaker side of a connection.
type UpgraderConfig struct {
	// DeviceID tags capture events.
	DeviceID string

	// MaxMessageSize bounds inbound frames (default: 1 MiB).
	MaxMessageSize int64

	// Logger receives protocol capture events.
	Logger log.Logger
}

// Upgrader accepts WebSocket connections on behalf of a (simulated) speaker.
type Upgrader struct {
	config UpgraderConfig
	ws     websocket.Upgrader
}

// NewUpgrader creates an Upgrader that accepts any origin.
func NewUpgrader(config UpgraderConfig) *Upgrader {
	return &Upgrader{
		config: config,
		ws: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Upgrade upgrades an HTTP request. On failure the upgrader has already
// written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, connOptions{
		deviceID:       u.config.DeviceID,
		maxMessageSize: u.config.MaxMessageSize,
		logger:         u.config.Logger,
	}), nil
}
