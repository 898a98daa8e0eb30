package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the speaker service type.
	ServiceType = "_yandexio._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the usual speaker WebSocket port.
	DefaultPort = 1961
)

// TXT record key constants.
const (
	TXTKeyDeviceID = "deviceId" // Device identifier
	TXTKeyPlatform = "platform" // Hardware platform
	TXTKeyName     = "name"     // Display name (optional)
)

// Timing constants.
const (
	// BrowseTimeout bounds one-shot lookups such as the bridge's "scan" command.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the record TTL used by the advertiser.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrNoAddress           = errors.New("advertisement has no address")
	ErrInvalidPort         = errors.New("invalid port")
	ErrInstanceNameTooLong = errors.New("instance name too long")
)

// Advertisement is a decoded speaker announcement.
type Advertisement struct {
	// DeviceID is the speaker identifier.
	DeviceID string

	// Platform is the hardware platform.
	Platform string

	// Name is the display name, if advertised.
	Name string

	// Host is the address to dial: the first IPv4 address, else the first
	// IPv6 address, else the advertised host name.
	Host string

	// Port is the WebSocket port.
	Port int

	// InstanceName is the mDNS instance name.
	InstanceName string

	// Addresses lists every advertised address.
	Addresses []string
}

// Entry is a raw service entry as seen by a Browser.
type Entry struct {
	Instance string
	HostName string
	Port     int
	Text     []string
	IPv4     []string
	IPv6     []string
}

// SpeakerInfo describes a speaker to advertise.
type SpeakerInfo struct {
	InstanceName string
	DeviceID     string
	Platform     string
	Name         string
	Port         int
}

// AdvertiserConfig configures an MDNSAdvertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface (empty = all).
	Interface string

	// TTL of the published records (default: DefaultTTL).
	TTL time.Duration
}

// BrowserConfig configures an MDNSBrowser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface (empty = all).
	Interface string
}
