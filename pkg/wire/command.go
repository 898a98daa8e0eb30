package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quasar-go/glagol-go/pkg/fault"
)

// Command errors.
var (
	ErrInvalidCommand = fault.New(fault.Input, "invalid command")
	ErrEmptyText      = errors.New("text must not be empty")
	ErrVolumeRange    = errors.New("volume out of range")
)

// Kind is the value of the "command" field of a payload.
type Kind string

// Command kinds understood by the speaker.
const (
	KindSoftwareVersion Kind = "softwareVersion"
	KindSendText        Kind = "sendText"
	KindSetVolume       Kind = "setVolume"
	KindPlay            Kind = "play"
	KindStop            Kind = "stop"
	KindNext            Kind = "next"
	KindPrev            Kind = "prev"
	KindRewind          Kind = "rewind"
	KindPlayMusic       Kind = "playMusic"
	KindServerAction    Kind = "serverAction"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// ExpectsResponse reports whether a command of this kind produces a
// vinsResponse card distinct from the ambient state.
func (k Kind) ExpectsResponse() bool {
	switch k {
	case KindSendText, KindServerAction:
		return true
	default:
		return false
	}
}

// Command is a payload that can be sent to a speaker.
// The set of implementations is closed to this package.
type Command interface {
	// Kind returns the command kind.
	Kind() Kind

	// Validate checks the command fields.
	Validate() error

	fields() map[string]any
}

// Ping is the liveness probe sent right after connecting.
// The speaker answers with a state push.
type Ping struct{}

func (Ping) Kind() Kind { return KindSoftwareVersion }
func (Ping) Validate() error { return nil }
func (Ping) fields() map[string]any { return nil }

// SendText makes the assistant process Text as if it were spoken.
type SendText struct {
	Text string
}

func (SendText) Kind() Kind { return KindSendText }

func (c SendText) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, ErrEmptyText)
	}
	return nil
}

func (c SendText) fields() map[string]any {
	return map[string]any{"text": c.Text}
}

// SetVolume sets the speaker volume. Volume is in [0, 1].
type SetVolume struct {
	Volume float64
}

func (SetVolume) Kind() Kind { return KindSetVolume }

func (c SetVolume) Validate() error {
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("%w: %w: %v", ErrInvalidCommand, ErrVolumeRange, c.Volume)
	}
	return nil
}

func (c SetVolume) fields() map[string]any {
	return map[string]any{"volume": c.Volume}
}

// Play resumes playback.
type Play struct{}

func (Play) Kind() Kind { return KindPlay }
func (Play) Validate() error { return nil }
func (Play) fields() map[string]any { return nil }

// Stop pauses playback.
type Stop struct{}

func (Stop) Kind() Kind { return KindStop }
func (Stop) Validate() error { return nil }
func (Stop) fields() map[string]any { return nil }

// Next skips to the next track.
type Next struct{}

func (Next) Kind() Kind { return KindNext }
func (Next) Validate() error { return nil }
func (Next) fields() map[string]any { return nil }

// Prev goes back to the previous track.
type Prev struct{}

func (Prev) Kind() Kind { return KindPrev }
func (Prev) Validate() error { return nil }
func (Prev) fields() map[string]any { return nil }

// Rewind seeks to Position seconds in the current track.
type Rewind struct {
	Position float64
}

func (Rewind) Kind() Kind { return KindRewind }

func (c Rewind) Validate() error {
	if c.Position < 0 {
		return fmt.Errorf("%w: negative position %v", ErrInvalidCommand, c.Position)
	}
	return nil
}

func (c Rewind) fields() map[string]any {
	return map[string]any{"position": c.Position}
}

// PlayMusic starts playback of a catalogue object.
type PlayMusic struct {
	// ID is the catalogue id (track, album, playlist "owner:kind").
	ID string

	// Type is the catalogue object type ("track", "album", "artist", "playlist").
	Type string

	// StartFromPosition is an optional offset in seconds.
	StartFromPosition float64
}

func (PlayMusic) Kind() Kind { return KindPlayMusic }

func (c PlayMusic) Validate() error {
	if c.ID == "" || c.Type == "" {
		return fmt.Errorf("%w: playMusic requires id and type", ErrInvalidCommand)
	}
	return nil
}

func (c PlayMusic) fields() map[string]any {
	f := map[string]any{"id": c.ID, "type": c.Type}
	if c.StartFromPosition > 0 {
		f["startFromPosition"] = c.StartFromPosition
	}
	return f
}

// ServerAction triggers a named server action on the speaker.
type ServerAction struct {
	Name    string
	Payload map[string]any
}

func (ServerAction) Kind() Kind { return KindServerAction }

func (c ServerAction) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: server action name is empty", ErrInvalidCommand)
	}
	return nil
}

func (c ServerAction) fields() map[string]any {
	event := map[string]any{"type": "server_action", "name": c.Name}
	if c.Payload != nil {
		event["payload"] = c.Payload
	}
	return map[string]any{"serverActionEventPayload": event}
}

// EncodePayload validates cmd and returns its JSON payload object.
func EncodePayload(cmd Command) (json.RawMessage, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	obj := map[string]any{"command": string(cmd.Kind())}
	for k, v := range cmd.fields() {
		obj[k] = v
	}
	return json.Marshal(obj)
}
