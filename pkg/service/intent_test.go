package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasar-go/glagol-go/pkg/cloud"
	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/wire"
)

func TestQuantizeVolume(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		level    float64
		step     int
		want     float64
	}{
		{"speaker zero", "yandexstation", 0, 0, 0},
		{"speaker full", "yandexstation_2", 1, 10, 1},
		{"speaker rounds down", "yandexstation", 0.34, 3, 0.3},
		{"speaker rounds up", "yandexmini", 0.36, 4, 0.4},
		{"speaker clamps high", "yandexstation", 1.7, 10, 1},
		{"speaker clamps low", "yandexstation", -0.2, 0, 0},
		{"speaker NaN", "yandexstation", math.NaN(), 0, 0},
		{"tv fine grid", "yandexmodule_2", 0.37, 37, 0.37},
		{"tv full", "yandex_tv", 1, 100, 1},
		{"tv clamps", "goya", 2, 100, 1},
		{"unknown platform is a speaker", "", 0.52, 5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, q := QuantizeVolume(tt.platform, tt.level)
			assert.Equal(t, tt.step, step)
			assert.InDelta(t, tt.want, q, 1e-9)
		})
	}
}

func TestVolumeSteps(t *testing.T) {
	assert.Equal(t, SpeakerVolumeSteps, VolumeSteps("yandexstation"))
	for p := range tvPlatforms {
		assert.Equal(t, TVVolumeSteps, VolumeSteps(p), p)
	}
}

func TestLocalCommand(t *testing.T) {
	tests := []struct {
		name string
		in   Intent
		want wire.Command
	}{
		{"say", SayText{Text: "привет"}, wire.SendText{Text: "Повтори за мной 'привет'"}},
		{"command", Command{Text: "какая погода"}, wire.SendText{Text: "какая погода"}},
		{"volume", SetVolume{Level: 0.44}, wire.SetVolume{Volume: 0.4}},
		{"play", Play{}, wire.Play{}},
		{"pause", Pause{}, wire.Stop{}},
		{"stop", Stop{}, wire.Stop{}},
		{"next", Next{}, wire.Next{}},
		{"prev", Prev{}, wire.Prev{}},
		{"rewind", Rewind{Position: 42}, wire.Rewind{Position: 42}},
		{"music default type", PlayMusic{ID: "123"}, wire.PlayMusic{ID: "123", Type: "track"}},
		{"music album", PlayMusic{ID: "9", Type: "album"}, wire.PlayMusic{ID: "9", Type: "album"}},
		{"server action", ServerAction{Action: "bow"}, wire.ServerAction{Name: "bow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := localCommand(tt.in, "yandexstation")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("music without id", func(t *testing.T) {
		_, err := localCommand(PlayMusic{Query: "rock"}, "yandexstation")
		assert.ErrorIs(t, err, ErrUnsupportedIntent)
		assert.True(t, fault.IsInput(err))
	})

	t.Run("tv volume grid", func(t *testing.T) {
		got, err := localCommand(SetVolume{Level: 0.44}, "yandexmodule")
		require.NoError(t, err)
		assert.Equal(t, wire.SetVolume{Volume: 0.44}, got)
	})
}

func TestCloudAction(t *testing.T) {
	text := func(s string) cloud.Action { return cloud.Action{Kind: cloud.ActionText, Value: s} }

	tests := []struct {
		name string
		in   Intent
		want cloud.Action
	}{
		{"say", SayText{Text: "привет"}, cloud.Action{Kind: cloud.ActionPhrase, Value: "привет"}},
		{"command", Command{Text: "какая погода"}, text("какая погода")},
		{"play", Play{}, text("продолжить")},
		{"pause", Pause{}, text("пауза")},
		{"stop", Stop{}, text("стоп")},
		{"next", Next{}, text("следующий трек")},
		{"prev", Prev{}, text("предыдущий трек")},
		{"music", PlayMusic{Query: "джаз"}, text("включи джаз")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, assumed, err := cloudAction(tt.in, "yandexstation")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Nil(t, assumed)
		})
	}

	t.Run("volume", func(t *testing.T) {
		got, assumed, err := cloudAction(SetVolume{Level: 0.66}, "yandexstation")
		require.NoError(t, err)
		assert.Equal(t, text("громкость на 7"), got)
		v, ok := assumed.Volume()
		require.True(t, ok)
		assert.InDelta(t, 0.7, v, 1e-9)
	})

	t.Run("tv volume", func(t *testing.T) {
		got, assumed, err := cloudAction(SetVolume{Level: 0.66}, "yandex_tv")
		require.NoError(t, err)
		assert.Equal(t, text("громкость на 66"), got)
		v, _ := assumed.Volume()
		assert.InDelta(t, 0.66, v, 1e-9)
	})

	for _, in := range []Intent{Rewind{Position: 3}, ServerAction{Action: "bow"}, PlayMusic{ID: "1"}} {
		t.Run("unsupported "+in.Name(), func(t *testing.T) {
			_, _, err := cloudAction(in, "yandexstation")
			assert.ErrorIs(t, err, ErrUnsupportedIntent)
		})
	}
}

func TestRouteAndEventNames(t *testing.T) {
	assert.Equal(t, "local", RouteLocal.String())
	assert.Equal(t, "cloud", RouteCloud.String())
	assert.Equal(t, "DISCONNECTED", EventDisconnected.String())
	assert.Equal(t, "UNKNOWN", EventType(99).String())
}
