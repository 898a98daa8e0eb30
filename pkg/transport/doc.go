// Package transport provides the WebSocket transport for Glagol sessions.
//
// The transport layer handles:
//   - Secure WebSocket dialing with the speaker's self-signed certificate
//   - Text frame I/O with a single writer at a time
//   - Keep-alive via WebSocket ping/pong control frames
//   - Protocol capture of every frame (see package log)
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON Frames (wire)        │
//	├────────────────────────────────┤
//	│   WebSocket text messages      │
//	├────────────────────────────────┤
//	│   TLS (certificate unchecked)  │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Speakers present a self-signed certificate that cannot be verified, so the
// client accepts any certificate. Access control comes from the conversation
// token carried inside every frame.
//
// # Keep-Alive
//
// Connection liveness is monitored using WebSocket ping/pong frames whose
// payload carries a 4-byte sequence number:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 95 seconds
package transport
