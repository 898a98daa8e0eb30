package log

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a CBOR capture file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	path    string
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	written int
}

// NewFileLogger opens path for appending, creating the file and any missing
// parent directories.
func NewFileLogger(path string) (*FileLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		path:    path,
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Log writes an event to the capture file.
// Encoding errors are dropped; capture never fails the session.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err == nil {
		l.written++
	}
}

// Path returns the capture file path.
func (l *FileLogger) Path() string {
	return l.path
}

// Written returns the number of events written so far.
func (l *FileLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close closes the capture file. Later Log calls are ignored.
// Close is idempotent.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
