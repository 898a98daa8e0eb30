// Package interaction correlates outbound commands with inbound frames.
//
// Speakers do not answer commands one by one. They push their full state
// whenever something changes, and a few query-style commands additionally
// produce a "vinsResponse" frame. The correlator turns that push model into
// a request/response contract:
//
//   - Gate: a single-slot reusable signal. Arming it discards any earlier
//     signal; the next state or response frame (or the connection going
//     away) releases the armed waiter.
//   - Awaiting-response flag: set for commands that expect a card. While it
//     is set, the next response frame is routed to the response handler
//     instead of being forwarded as a state update, and the flag clears.
//
// # Usage
//
//	release := corr.Begin(id, cmd.Kind())
//	if err := conn.WriteFrame(frame); err != nil {
//	    corr.Abort(id)
//	    return err
//	}
//	r, err := interaction.Wait(ctx, release)
//
// The read loop routes every classified frame through Deliver and calls
// Teardown when the connection ends, so a blocked sender is never left
// hanging. Only one command may be in flight at a time; callers serialize
// sends per device.
package interaction
