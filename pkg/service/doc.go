// Package service routes high-level speaker intents to whichever transport is
// available.
//
// A Router owns one glagol.Session per speaker, keyed by device id. Discovery
// advertisements start or retarget those sessions. Execute translates an
// Intent into a local command when the speaker's session is connected and
// into a cloud scenario action otherwise, so callers see the same call either
// way:
//
//	router.HandleAdvertisement(adv)          // from a discovery.Feed
//	out, err := router.Execute(ctx, "d1", service.SetVolume{Level: 0.4})
//	if out.Route == service.RouteCloud {
//	    // no acknowledgement; out.Assumed carries the synthesized state
//	}
//
// # Volume
//
// Speakers accept volume in ten steps; TV-like platforms in a hundred.
// QuantizeVolume maps a level in [0, 1] onto the platform grid and is applied
// on both routes.
//
// # Events
//
// Session callbacks are re-published as router Events (state, response,
// connected, disconnected) along with discovery of new speakers.
package service
