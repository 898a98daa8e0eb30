package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerWire.String(), "WIRE"},
		{LayerService.String(), "SERVICE"},
		{LayerCloud.String(), "CLOUD"},
		{Layer(9).String(), "UNKNOWN"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryControl.String(), "CONTROL"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{MessageTypeCommand.String(), "COMMAND"},
		{MessageTypeState.String(), "STATE"},
		{MessageTypeResponse.String(), "RESPONSE"},
		{MessageTypeUnknown.String(), "UNKNOWN_FRAME"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntitySession.String(), "SESSION"},
		{StateEntityRoute.String(), "ROUTE"},
		{ControlMsgPing.String(), "PING"},
		{ControlMsgPong.String(), "PONG"},
		{ControlMsgClose.String(), "CLOSE"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestMessageEventCBOR(t *testing.T) {
	rt := 42 * time.Millisecond
	original := Event{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		RemoteAddr:   "192.168.1.20:1961",
		DeviceID:     "station-1",
		Platform:     "yandexstation_2",
		Message: &MessageEvent{
			Type:      MessageTypeResponse,
			RequestID: "req-7",
			CardText:  "It is noon",
			Payload:   map[string]any{"aliceState": "IDLE"},
			RoundTrip: &rt,
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.DeviceID != "station-1" || decoded.Platform != "yandexstation_2" {
		t.Errorf("identity = %q/%q", decoded.DeviceID, decoded.Platform)
	}
	if decoded.Message == nil {
		t.Fatal("Message is nil")
	}
	if decoded.Message.Type != MessageTypeResponse || decoded.Message.RequestID != "req-7" {
		t.Errorf("Message = %+v", decoded.Message)
	}
	if decoded.Message.RoundTrip == nil || *decoded.Message.RoundTrip != rt {
		t.Errorf("RoundTrip = %v, want %v", decoded.Message.RoundTrip, rt)
	}
}

func TestCloudEventCBOR(t *testing.T) {
	original := Event{
		Timestamp: time.Now(),
		Layer:     LayerCloud,
		Category:  CategoryMessage,
		Direction: DirectionOut,
		Cloud: &CloudCallEvent{
			Method:     "PUT",
			Path:       "/m/user/scenarios/abc",
			StatusCode: 200,
			Duration:   150 * time.Millisecond,
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Cloud == nil || *decoded.Cloud != *original.Cloud {
		t.Errorf("Cloud = %+v, want %+v", decoded.Cloud, original.Cloud)
	}
}

func TestEventCBORUsesIntegerKeys(t *testing.T) {
	data, err := EncodeEvent(Event{Timestamp: time.Now(), ConnectionID: "c"})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	var raw map[any]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for k := range raw {
		if _, ok := k.(uint64); !ok {
			t.Errorf("key %v (%T) is not an integer", k, k)
		}
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, id := range []string{"a", "b"} {
		if err := enc.Encode(Event{ConnectionID: id, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	var got []string
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		got = append(got, e.ConnectionID)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("decoded ids = %v", got)
	}
}
