package transport

// FrameConn is a bidirectional text-frame connection.
// Implemented by Conn.
type FrameConn interface {
	// ID returns the connection id.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// ReadFrame blocks until the next text frame arrives.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one text frame.
	WriteFrame(data []byte) error

	// Close closes the connection and unblocks ReadFrame.
	Close() error
}

// Compile-time interface satisfaction check.
var _ FrameConn = (*Conn)(nil)
