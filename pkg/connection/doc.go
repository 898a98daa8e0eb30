// Package connection provides connection lifecycle primitives for Glagol sessions.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Connection state tracking
//   - A single reconnect loop per device (sleep-and-continue, no task recursion)
//
// # Reconnection Strategy
//
// When a connection attempt fails or a live connection drops, the loop waits
// before dialing again:
//
//	delay = 15s * 2^min(failures-1, 5)
//
// which gives 15s, 30s, 60s, 120s, 240s, 480s and stays at 480s. The failure
// counter is reset as soon as a connection reaches CONNECTED. The loop keeps
// trying until its context is cancelled.
//
// # Waking
//
// Wake interrupts a pending backoff wait so the next attempt starts at once.
// Sessions use it when discovery reports a new address for the device.
package connection
