package glagol

import (
	"net"
	"strconv"
)

// Identity identifies a speaker. It never changes for the life of a session.
type Identity struct {
	DeviceID string
	Platform string

	// Name is a display name, if known.
	Name string
}

// String returns "deviceID (platform)".
func (id Identity) String() string {
	if id.Platform == "" {
		return id.DeviceID
	}
	return id.DeviceID + " (" + id.Platform + ")"
}

// Endpoint is the network address a speaker was last seen at.
type Endpoint struct {
	Host string
	Port int
}

// Address returns host:port, bracketing IPv6 literals.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}
