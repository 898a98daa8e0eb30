// Package fault classifies errors by how callers should react to them.
//
// Three classes matter to a speaker bridge:
//   - Transient: network faults and lost connections. The session loop
//     absorbs these; callers may try again later.
//   - Auth: a rejected token or CSRF token. The credential is cleared and
//     refetched on the next attempt.
//   - Input: the caller asked for something invalid or unsupported. Never
//     retried.
//
// Packages declare classified sentinels with New and wrap dynamic errors with
// Wrap. Error types from other packages can opt in by implementing Classifier.
package fault

import (
	"context"
	"errors"
	"net"
)

// Class is an error classification.
type Class int

const (
	// None is the class of a nil error.
	None Class = iota
	// Transient errors may succeed when retried later.
	Transient
	// Auth errors need a fresh credential.
	Auth
	// Input errors are caller mistakes.
	Input
	// Unknown errors carry no classification.
	Unknown
)

// String returns the class name, used as a metric label.
func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Transient:
		return "transient"
	case Auth:
		return "auth"
	case Input:
		return "input"
	default:
		return "unknown"
	}
}

// Classifier is implemented by error types that know their class.
type Classifier interface {
	FaultClass() Class
}

// Error is a classified error.
type Error struct {
	Class Class
	Op    string
	Err   error
}

// New returns a classified sentinel error.
func New(class Class, msg string) *Error {
	return &Error{Class: class, Err: errors.New(msg)}
}

// Wrap classifies err. It returns nil for a nil err.
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// FaultClass implements Classifier.
func (e *Error) FaultClass() Class {
	return e.Class
}

// Classify returns the class of err, looking through wrapped errors.
func Classify(err error) Class {
	if err == nil {
		return None
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.FaultClass()
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient
	}
	return Unknown
}

// IsTransient reports whether err is transient.
func IsTransient(err error) bool { return Classify(err) == Transient }

// IsAuth reports whether err is an auth fault.
func IsAuth(err error) bool { return Classify(err) == Auth }

// IsInput reports whether err is a caller-input fault.
func IsInput(err error) bool { return Classify(err) == Input }
