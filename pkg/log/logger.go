package log

// Logger receives protocol capture events.
// Implementations must be safe for concurrent use and should return quickly;
// sessions call Log from their read loops.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. Its zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
