// Package glagol implements the local speaker session.
//
// A Session keeps one self-healing WebSocket connection to one speaker:
//
//	DISCONNECTED → CONNECTING → CONNECTED → DISCONNECTED ... (STOPPED on Stop)
//
// CONNECTING fetches a conversation token if none is cached, dials
// wss://host:port and sends the softwareVersion liveness probe. While
// CONNECTED every inbound frame is classified and routed through the
// correlator. When the stream ends without Stop, the cached token is dropped,
// OnState(nil) tells the owner to fall back to the cloud, and the reconnect
// loop waits 15s, 30s, ... 480s between attempts until Stop.
//
// Send writes one command and blocks until the next state or response frame
// arrives, the connection ends, or the caller's context is done. Sends on one
// session are serialized.
package glagol
