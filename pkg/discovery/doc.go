// Package discovery finds speakers on the local network via mDNS/DNS-SD.
//
// # Service
//
// Speakers advertise a _yandexio._tcp service in the local. domain. The
// instance name is free-form; the TXT record carries:
//
//	deviceId  device identifier (required)
//	platform  hardware platform, e.g. yandexstation_2 (required)
//	name      display name (optional)
//
// The advertised port is the speaker's local WebSocket port (usually 1961).
//
// # Feed
//
// A Feed owns one Browser and fans decoded advertisements out to any number
// of listeners. Each listener call runs in its own goroutine so a slow
// listener never stalls the scan. Advertisements are not deduplicated;
// listeners decide whether a repeat means anything.
//
// Malformed advertisements (missing deviceId or platform, no usable address,
// bad port) are dropped and counted.
//
// # Advertising
//
// MDNSAdvertiser registers the same service type. It exists for the speaker
// simulator.
package discovery
