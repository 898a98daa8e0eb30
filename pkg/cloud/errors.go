package cloud

import (
	"fmt"
	"net/http"

	"github.com/quasar-go/glagol-go/pkg/fault"
)

// Error is a failed cloud call.
type Error struct {
	// Op names the step: "csrf", "create", "update", "trigger" or "devices".
	Op string

	// StatusCode is the HTTP status, or 0 if no response arrived.
	StatusCode int

	// Status is the "status" field of the response body, if any.
	Status string

	// Err is the transport or decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("cloud %s: %v", e.Op, e.Err)
	case e.Status != "" && e.StatusCode == http.StatusOK:
		return fmt.Sprintf("cloud %s: status %q", e.Op, e.Status)
	default:
		return fmt.Sprintf("cloud %s: http %d", e.Op, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// FaultClass implements fault.Classifier.
func (e *Error) FaultClass() fault.Class {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return fault.Auth
	case e.StatusCode == 0 && e.Err != nil:
		if c := fault.Classify(e.Err); c != fault.Unknown {
			return c
		}
		return fault.Transient
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return fault.Transient
	case e.StatusCode >= 400:
		return fault.Input
	default:
		return fault.Unknown
	}
}

// IsForbidden reports whether the call failed with HTTP 403.
func (e *Error) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

var _ fault.Classifier = (*Error)(nil)
