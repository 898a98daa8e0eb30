package wire

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMalformedFrame is returned when an inbound frame is not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the outbound envelope for every command.
type Frame struct {
	ConversationToken string          `json:"conversationToken"`
	ID                string          `json:"id"`
	Payload           json.RawMessage `json:"payload"`
	SentTime          int64           `json:"sentTime"`
}

// EncodeFrame builds the outbound frame for cmd.
// sentTime is encoded as Unix milliseconds.
func EncodeFrame(token, id string, cmd Command, sentAt time.Time) ([]byte, error) {
	payload, err := EncodePayload(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{
		ConversationToken: token,
		ID:                id,
		Payload:           payload,
		SentTime:          sentAt.UnixMilli(),
	})
}

// DecodeFrame parses an outbound frame. Used by the speaker simulator and tests.
func DecodeFrame(data []byte) (Frame, string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, "", err
	}
	var head struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(f.Payload, &head); err != nil {
		return Frame{}, "", err
	}
	return f, head.Command, nil
}

// FrameKind classifies inbound frames.
type FrameKind uint8

const (
	// FrameUnknown is any frame the session does not act on.
	FrameUnknown FrameKind = iota

	// FrameState is a state push.
	FrameState

	// FrameResponse is a vinsResponse answer to a query command.
	FrameResponse
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameState:
		return "STATE"
	case FrameResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Card is a structured answer to a query-style command.
type Card struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`

	// Raw holds the complete card object.
	Raw json.RawMessage `json:"-"`
}

// Inbound is a classified inbound frame.
type Inbound struct {
	Kind FrameKind

	// RequestID is the id of the outbound frame this one answers, if any.
	RequestID string

	// State is the full frame object for state and response frames.
	State State

	// Card is set for response frames that carry one.
	Card *Card
}

type vinsResponse struct {
	Payload *struct {
		Response *struct {
			Card json.RawMessage `json:"card"`
		} `json:"response"`
	} `json:"payload"`
	Response *struct {
		Card json.RawMessage `json:"card"`
	} `json:"response"`
}

// Classify parses an inbound frame. Any JSON object without a vinsResponse is
// a state snapshot, even if it lacks the "state" key.
// Frames that are not JSON objects return FrameUnknown and ErrMalformedFrame.
func Classify(data []byte) (Inbound, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Inbound{Kind: FrameUnknown}, ErrMalformedFrame
	}

	var in Inbound
	if raw, ok := obj["requestId"]; ok {
		_ = json.Unmarshal(raw, &in.RequestID)
	}

	raw, hasVins := obj["vinsResponse"]

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return Inbound{Kind: FrameUnknown}, ErrMalformedFrame
	}
	in.State = state

	if !hasVins {
		in.Kind = FrameState
		return in, nil
	}

	in.Kind = FrameResponse
	in.Card = decodeCard(raw)
	return in, nil
}

func decodeCard(raw json.RawMessage) *Card {
	var vr vinsResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil
	}

	var cardRaw json.RawMessage
	switch {
	case vr.Payload != nil && vr.Payload.Response != nil && len(vr.Payload.Response.Card) > 0:
		cardRaw = vr.Payload.Response.Card
	case vr.Response != nil && len(vr.Response.Card) > 0:
		cardRaw = vr.Response.Card
	default:
		return nil
	}
	if string(cardRaw) == "null" {
		return nil
	}

	card := &Card{Raw: cardRaw}
	if err := json.Unmarshal(cardRaw, card); err != nil {
		return nil
	}
	return card
}
