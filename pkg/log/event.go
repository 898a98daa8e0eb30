package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the WebSocket connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the speaker address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the speaker device id.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Platform is the speaker platform string.
	Platform string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (classified)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Cloud       *CloudCallEvent   `cbor:"15,keyasint,omitempty"` // Cloud layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the WebSocket layer (raw text frames).
	LayerTransport Layer = 0
	// LayerWire is the Glagol frame layer (classified JSON).
	LayerWire Layer = 1
	// LayerService is the session and router layer.
	LayerService Layer = 2
	// LayerCloud is the cloud scenario API.
	LayerCloud Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	case LayerCloud:
		return "CLOUD"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (command/state/response).
	CategoryMessage Category = 0
	// CategoryControl indicates a control frame (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a classified Glagol frame at the wire layer.
type MessageEvent struct {
	// Type distinguishes commands from state pushes and responses.
	Type MessageType `cbor:"1,keyasint"`

	// RequestID is the outbound frame id, or the id a response answers.
	RequestID string `cbor:"2,keyasint,omitempty"`

	// Command is the command kind for outbound frames.
	Command string `cbor:"3,keyasint,omitempty"`

	// CardText is the response card text, if any.
	CardText string `cbor:"4,keyasint,omitempty"`

	// Payload is the decoded JSON payload.
	Payload any `cbor:"5,keyasint,omitempty"`

	// RoundTrip is the time from send to the frame that released the caller.
	RoundTrip *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes commands, state pushes and responses.
type MessageType uint8

const (
	// MessageTypeCommand indicates an outbound command frame.
	MessageTypeCommand MessageType = 0
	// MessageTypeState indicates a state push.
	MessageTypeState MessageType = 1
	// MessageTypeResponse indicates a vinsResponse frame.
	MessageTypeResponse MessageType = 2
	// MessageTypeUnknown indicates an inbound frame the session ignores.
	MessageTypeUnknown MessageType = 3
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeCommand:
		return "COMMAND"
	case MessageTypeState:
		return "STATE"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeUnknown:
		return "UNKNOWN_FRAME"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
	// StateEntityRoute indicates a router switching between local and cloud.
	StateEntityRoute StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityRoute:
		return "ROUTE"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures WebSocket control frames.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Sequence is the keep-alive sequence carried by ping and pong.
	Sequence uint32 `cbor:"2,keyasint,omitempty"`

	// CloseCode is the WebSocket close code for close frames.
	CloseCode *int `cbor:"3,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping frame.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong frame.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close frame.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (HTTP status, close code), if applicable.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// CloudCallEvent captures one cloud API call.
type CloudCallEvent struct {
	// Method is the HTTP method.
	Method string `cbor:"1,keyasint"`

	// Path is the request path (no query, no host).
	Path string `cbor:"2,keyasint"`

	// StatusCode is the HTTP status (0 if the request failed before a response).
	StatusCode int `cbor:"3,keyasint,omitempty"`

	// Duration is the request duration.
	Duration time.Duration `cbor:"4,keyasint,omitempty"`
}
