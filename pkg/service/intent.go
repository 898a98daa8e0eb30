package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/quasar-go/glagol-go/pkg/cloud"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

// Intent is a transport-independent speaker action.
// The set of implementations is closed to this package.
type Intent interface {
	// Name is a short stable label, used in metrics and logs.
	Name() string

	intent()
}

// SayText makes the speaker say Text verbatim.
type SayText struct{ Text string }

// Command makes the assistant process Text as a voice command.
type Command struct{ Text string }

// SetVolume sets the volume. Level is clamped to [0, 1] and quantized to the
// platform's grid.
type SetVolume struct{ Level float64 }

// Play resumes playback.
type Play struct{}

// Pause pauses playback.
type Pause struct{}

// Stop stops playback.
type Stop struct{}

// Next skips to the next track.
type Next struct{}

// Prev returns to the previous track.
type Prev struct{}

// Rewind seeks to Position seconds. Local only.
type Rewind struct{ Position float64 }

// PlayMusic starts catalogue playback. Locally ID and Type select the object;
// through the cloud Query is spoken as "включи <Query>".
type PlayMusic struct {
	ID    string
	Type  string
	Query string
}

// ServerAction triggers a named server action. Local only.
type ServerAction struct {
	Action  string
	Payload map[string]any
}

func (SayText) Name() string      { return "say_text" }
func (Command) Name() string      { return "command" }
func (SetVolume) Name() string    { return "set_volume" }
func (Play) Name() string         { return "play" }
func (Pause) Name() string        { return "pause" }
func (Stop) Name() string         { return "stop" }
func (Next) Name() string         { return "next" }
func (Prev) Name() string         { return "prev" }
func (Rewind) Name() string       { return "rewind" }
func (PlayMusic) Name() string    { return "play_music" }
func (ServerAction) Name() string { return "server_action" }

func (SayText) intent()      {}
func (Command) intent()      {}
func (SetVolume) intent()    {}
func (Play) intent()         {}
func (Pause) intent()        {}
func (Stop) intent()         {}
func (Next) intent()         {}
func (Prev) intent()         {}
func (Rewind) intent()       {}
func (PlayMusic) intent()    {}
func (ServerAction) intent() {}

// Volume grids.
const (
	SpeakerVolumeSteps = 10
	TVVolumeSteps      = 100
)

// tvPlatforms use the fine volume grid.
var tvPlatforms = map[string]bool{
	"yandexmodule":   true,
	"yandexmodule_2": true,
	"yandex_tv":      true,
	"goya":           true,
	"magritte":       true,
	"monet":          true,
}

// VolumeSteps returns the number of volume steps of platform.
func VolumeSteps(platform string) int {
	if tvPlatforms[platform] {
		return TVVolumeSteps
	}
	return SpeakerVolumeSteps
}

// QuantizeVolume maps level onto the platform grid. It returns the step
// (0..steps) and the level that step represents. NaN is treated as 0.
func QuantizeVolume(platform string, level float64) (step int, quantized float64) {
	steps := VolumeSteps(platform)
	switch {
	case math.IsNaN(level) || level < 0:
		level = 0
	case level > 1:
		level = 1
	}
	step = int(math.Round(level * float64(steps)))
	return step, float64(step) / float64(steps)
}

func unsupported(in Intent, route Route) error {
	return fmt.Errorf("%w: %s over %s", ErrUnsupportedIntent, in.Name(), route)
}

// localCommand translates in into a local payload.
func localCommand(in Intent, platform string) (wire.Command, error) {
	switch v := in.(type) {
	case SayText:
		return wire.SendText{Text: "Повтори за мной '" + v.Text + "'"}, nil
	case Command:
		return wire.SendText{Text: v.Text}, nil
	case SetVolume:
		_, q := QuantizeVolume(platform, v.Level)
		return wire.SetVolume{Volume: q}, nil
	case Play:
		return wire.Play{}, nil
	case Pause, Stop:
		return wire.Stop{}, nil
	case Next:
		return wire.Next{}, nil
	case Prev:
		return wire.Prev{}, nil
	case Rewind:
		return wire.Rewind{Position: v.Position}, nil
	case PlayMusic:
		if v.ID == "" {
			return nil, unsupported(in, RouteLocal)
		}
		typ := v.Type
		if typ == "" {
			typ = "track"
		}
		return wire.PlayMusic{ID: v.ID, Type: typ}, nil
	case ServerAction:
		return wire.ServerAction{Name: v.Action, Payload: v.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedIntent, in)
	}
}

// cloudAction translates in into a scenario action. assumed is the state the
// speaker is expected to reach, for intents with no acknowledgement.
func cloudAction(in Intent, platform string) (action cloud.Action, assumed wire.State, err error) {
	text := func(s string) cloud.Action { return cloud.Action{Kind: cloud.ActionText, Value: s} }

	switch v := in.(type) {
	case SayText:
		return cloud.Action{Kind: cloud.ActionPhrase, Value: v.Text}, nil, nil
	case Command:
		return text(v.Text), nil, nil
	case SetVolume:
		step, q := QuantizeVolume(platform, v.Level)
		assumed = wire.State{"state": map[string]any{"volume": q}}
		return text("громкость на " + strconv.Itoa(step)), assumed, nil
	case Play:
		return text("продолжить"), nil, nil
	case Pause:
		return text("пауза"), nil, nil
	case Stop:
		return text("стоп"), nil, nil
	case Next:
		return text("следующий трек"), nil, nil
	case Prev:
		return text("предыдущий трек"), nil, nil
	case PlayMusic:
		if strings.TrimSpace(v.Query) == "" {
			return cloud.Action{}, nil, unsupported(in, RouteCloud)
		}
		return text("включи " + v.Query), nil, nil
	case Rewind, ServerAction:
		return cloud.Action{}, nil, unsupported(in, RouteCloud)
	default:
		return cloud.Action{}, nil, fmt.Errorf("%w: %T", ErrUnsupportedIntent, in)
	}
}
