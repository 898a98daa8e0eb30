// Package cloud delivers commands to speakers through the account's cloud
// scenario API when no local connection exists.
//
// The API has no direct "send this to the speaker" call. Instead each command
// is written into a per-device scenario whose single step is a quasar
// server_action, and the scenario is then triggered:
//
//  1. Ensure a CSRF token. It is scraped from the quasar web page once and
//     cached until a 403 invalidates it.
//  2. Find the device's scenario. Its id is cached after the first use; on a
//     cache miss the account list (GET /m/user/scenarios) is searched for the
//     scenario name "glagol <device id>" so a restart reuses it.
//  3. Rewrite a found scenario (PUT /m/user/scenarios/{id}) or create it
//     (POST /m/user/scenarios).
//  4. Trigger it (POST /m/user/scenarios/{id}/actions).
//
// Every failure is returned as *Error. The client never retries; callers
// decide what to do with Error's fault class.
package cloud
