// Package wire defines the JSON wire format of the Glagol local protocol.
//
// A speaker on the local network exposes a secure WebSocket. Every message
// sent to it is wrapped in an outbound Frame:
//
//	{"conversationToken": "...", "id": "...", "payload": {...}, "sentTime": 1700000000000}
//
// The payload is one of a closed set of commands (see Command). The speaker
// does not answer requests one by one; it pushes its full state whenever
// something changes. Query-style commands additionally produce a
// "vinsResponse" frame carrying a Card.
//
// # Inbound Frames
//
// Classify sorts inbound frames into three kinds:
//   - FrameResponse: a JSON object with a "vinsResponse" key; the card sits under
//     vinsResponse.payload.response.card or vinsResponse.response.card depending
//     on the device family
//   - FrameState: any other JSON object (the whole object is the snapshot;
//     the usual fields sit under "state")
//   - FrameUnknown: not a JSON object (ignored by the session)
package wire
