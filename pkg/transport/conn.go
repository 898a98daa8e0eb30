package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrDialFailed       = errors.New("dial failed")
)

const (
	// DefaultMaxMessageSize bounds inbound frames. State pushes are a few KiB.
	DefaultMaxMessageSize = 1 << 20

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// MaxLogFrameDataSize caps the bytes copied into capture events.
	MaxLogFrameDataSize = 4096
)

// connOptions are shared by the dialer and the upgrader.
type connOptions struct {
	deviceID       string
	maxMessageSize int64
	writeTimeout   time.Duration
	keepAlive      *KeepAliveConfig
	logger         log.Logger
}

// Conn is a WebSocket connection carrying Glagol text frames.
// ReadFrame must be called from one goroutine; WriteFrame and Close are safe
// for concurrent use.
type Conn struct {
	ws       *websocket.Conn
	id       string
	deviceID string
	remote   string
	logger   log.Logger
	timeout  time.Duration

	ka       *KeepAlive
	kaCancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConn(ws *websocket.Conn, opts connOptions) *Conn {
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = DefaultMaxMessageSize
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}

	c := &Conn{
		ws:       ws,
		id:       uuid.NewString(),
		deviceID: opts.deviceID,
		remote:   ws.RemoteAddr().String(),
		logger:   log.OrNoop(opts.logger),
		timeout:  opts.writeTimeout,
		closeCh:  make(chan struct{}),
	}

	ws.SetReadLimit(opts.maxMessageSize)
	ws.SetPongHandler(c.handlePong)
	ws.SetPingHandler(c.handlePing)

	if opts.keepAlive != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.kaCancel = cancel
		c.ka = NewKeepAlive(*opts.keepAlive, c.sendPing, func() { _ = c.Close() })
		c.ka.Start(ctx)
	}

	return c
}

// ID returns the connection id used in capture events.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Done is closed once the connection has been closed locally.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

// KeepAliveStats returns keep-alive statistics if keep-alive is enabled.
func (c *Conn) KeepAliveStats() (KeepAliveStats, bool) {
	if c.ka == nil {
		return KeepAliveStats{}, false
	}
	return c.ka.Stats(), true
}

// ReadFrame blocks until the next text frame arrives.
// Binary frames are skipped. After Close it returns ErrConnectionClosed.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.readError(err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.logFrame(data, log.DirectionIn)
		return data, nil
	}
}

func (c *Conn) readError(err error) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code := ce.Code
		c.logger.Log(c.event(log.DirectionIn, log.CategoryControl, func(e *log.Event) {
			e.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code}
		}))
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// WriteFrame sends data as one text frame.
func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.logFrame(data, log.DirectionOut)
	return nil
}

// Close sends a close frame and closes the socket. It is idempotent and
// unblocks a pending ReadFrame.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.ka != nil {
			c.ka.Stop()
			c.kaCancel()
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		code := websocket.CloseNormalClosure
		c.logger.Log(c.event(log.DirectionOut, log.CategoryControl, func(e *log.Event) {
			e.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code}
		}))

		err = c.ws.Close()
	})
	return err
}

func (c *Conn) sendPing(seq uint32) error {
	err := c.ws.WriteControl(websocket.PingMessage, EncodePingPayload(seq), time.Now().Add(c.timeout))
	if err == nil {
		c.logControl(log.DirectionOut, log.ControlMsgPing, seq)
	}
	return err
}

func (c *Conn) handlePong(appData string) error {
	seq, ok := DecodePingPayload([]byte(appData))
	c.logControl(log.DirectionIn, log.ControlMsgPong, seq)
	if ok && c.ka != nil {
		c.ka.PongReceived(seq)
	}
	return nil
}

// handlePing answers a peer ping, mirroring the library's default handler.
func (c *Conn) handlePing(appData string) error {
	seq, _ := DecodePingPayload([]byte(appData))
	c.logControl(log.DirectionIn, log.ControlMsgPing, seq)

	err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.timeout))
	if err == nil {
		c.logControl(log.DirectionOut, log.ControlMsgPong, seq)
		return nil
	}
	var ne net.Error
	if errors.Is(err, websocket.ErrCloseSent) || errors.As(err, &ne) {
		return nil
	}
	return err
}

func (c *Conn) event(dir log.Direction, cat log.Category, fill func(*log.Event)) log.Event {
	e := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     cat,
		RemoteAddr:   c.remote,
		DeviceID:     c.deviceID,
	}
	fill(&e)
	return e
}

func (c *Conn) logFrame(data []byte, dir log.Direction) {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	c.logger.Log(c.event(dir, log.CategoryMessage, func(e *log.Event) {
		e.Frame = &log.FrameEvent{
			Size:      len(data),
			Data:      append([]byte(nil), frameData...),
			Truncated: truncated,
		}
	}))
}

func (c *Conn) logControl(dir log.Direction, typ log.ControlMsgType, seq uint32) {
	c.logger.Log(c.event(dir, log.CategoryControl, func(e *log.Event) {
		e.ControlMsg = &log.ControlMsgEvent{Type: typ, Sequence: seq}
	}))
}
