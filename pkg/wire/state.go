package wire

// State is a device state snapshot as pushed by the speaker.
// It is opaque to the session; the accessors below read the few fields the
// router and the CLI care about.
type State map[string]any

func (s State) inner() map[string]any {
	if s == nil {
		return nil
	}
	m, _ := s["state"].(map[string]any)
	return m
}

// Volume returns state.volume.
func (s State) Volume() (float64, bool) {
	v, ok := s.inner()["volume"].(float64)
	return v, ok
}

// Playing returns state.playing.
func (s State) Playing() bool {
	v, _ := s.inner()["playing"].(bool)
	return v
}

// AliceState returns state.aliceState ("IDLE", "LISTENING", "SPEAKING", ...).
func (s State) AliceState() string {
	v, _ := s.inner()["aliceState"].(string)
	return v
}

// TrackTitle returns state.playerState.title.
func (s State) TrackTitle() string {
	ps, _ := s.inner()["playerState"].(map[string]any)
	v, _ := ps["title"].(string)
	return v
}
