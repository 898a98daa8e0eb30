package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/quasar-go/glagol-go/pkg/auth"
	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/log"
)

// fakeAPI is a minimal scenario API.
type fakeAPI struct {
	t *testing.T

	mu         sync.Mutex
	pageFetch  int
	csrf       string
	nextID     int
	scenarios  map[string]scenario
	triggered  []string
	calls      []string
	forbidNext string // op path prefix that answers 403 once
	failStatus map[string]int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{t: t, scenarios: map[string]scenario{}, failStatus: map[string]int{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "OAuth secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/quasar" {
		f.pageFetch++
		f.csrf = fmt.Sprintf("csrf-%d", f.pageFetch)
		fmt.Fprintf(w, `<html><script>window.__DATA__={"csrfToken2":"%s","user":{}}</script></html>`, f.csrf)
		return
	}

	if r.URL.Path == "/m/v3/user/devices" {
		_, _ = w.Write([]byte(`{"status":"ok","households":[{"all":[
			{"id":"cloud-1","name":"Kitchen","quasar_info":{"device_id":"d1","platform":"yandexstation_2"}},
			{"id":"lamp-1","name":"Lamp","type":"devices.types.light"}
		]},{"all":[
			{"id":"cloud-2","name":"TV","quasar_info":{"device_id":"d2","platform":"yandexmodule_2"}}
		]}]}`))
		return
	}

	if r.Method != http.MethodGet && r.Header.Get(csrfHeader) != f.csrf {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if f.forbidNext != "" && strings.HasPrefix(r.Method+" "+r.URL.Path, f.forbidNext) {
		f.forbidNext = ""
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"error","message":"csrf expired"}`))
		return
	}
	if code, ok := f.failStatus[r.Method+" "+r.URL.Path]; ok {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/m/user/scenarios":
		type item struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		list := []item{}
		for id, sc := range f.scenarios {
			list = append(list, item{ID: id, Name: sc.Name})
		}
		assert.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scenarios": list}))

	case r.Method == http.MethodPost && r.URL.Path == "/m/user/scenarios":
		var sc scenario
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&sc))
		f.nextID++
		id := fmt.Sprintf("sc-%d", f.nextID)
		f.scenarios[id] = sc
		fmt.Fprintf(w, `{"status":"ok","scenario_id":"%s"}`, id)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/m/user/scenarios/"):
		id := strings.TrimPrefix(r.URL.Path, "/m/user/scenarios/")
		if _, ok := f.scenarios[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var sc scenario
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&sc))
		f.scenarios[id] = sc
		_, _ = w.Write([]byte(`{"status":"ok"}`))

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/actions"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/m/user/scenarios/"), "/actions")
		sc, ok := f.scenarios[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.triggered = append(f.triggered, sc.Devices[0].Capabilities[0].State.Value)
		_, _ = w.Write([]byte(`{"status":"ok"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) snapshot() (pageFetch int, triggered []string, calls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageFetch, append([]string(nil), f.triggered...), append([]string(nil), f.calls...)
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func newTestClient(t *testing.T, srv *httptest.Server, capture log.Logger) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIURL:         srv.URL,
		PageURL:        srv.URL,
		Client:         srv.Client(),
		Credentials:    auth.StaticToken("secret"),
		Limiter:        rate.NewLimiter(rate.Inf, 1),
		ProtocolLogger: capture,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, auth.ErrNoCredentials)
}

func TestRunCreatesThenUpdates(t *testing.T) {
	api, srv := newFakeAPI(t)
	capture := &captureLogger{}
	c := newTestClient(t, srv, capture)
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "включи музыку"}))
	id, ok := c.ScenarioID("cloud-1")
	require.True(t, ok)
	assert.Equal(t, "sc-1", id)

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionPhrase, Value: "привет"}))

	pages, triggered, calls := api.snapshot()
	assert.Equal(t, 1, pages, "csrf fetched once")
	assert.Equal(t, []string{"включи музыку", "привет"}, triggered)
	assert.Equal(t, []string{
		"GET /quasar",
		"GET /m/user/scenarios",
		"POST /m/user/scenarios",
		"POST /m/user/scenarios/sc-1/actions",
		"PUT /m/user/scenarios/sc-1",
		"POST /m/user/scenarios/sc-1/actions",
	}, calls)

	api.mu.Lock()
	sc := api.scenarios["sc-1"]
	api.mu.Unlock()
	require.Len(t, sc.Devices, 1)
	assert.Equal(t, "cloud-1", sc.Devices[0].ID)
	assert.Equal(t, serverActionCapability, sc.Devices[0].Capabilities[0].Type)
	assert.Equal(t, "phrase_action", sc.Devices[0].Capabilities[0].State.Instance)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 6)
	for _, e := range capture.events {
		assert.Equal(t, log.LayerCloud, e.Layer)
		require.NotNil(t, e.Cloud)
		assert.Equal(t, http.StatusOK, e.Cloud.StatusCode)
	}
}

func TestRunForbiddenClearsCSRF(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "one"}))
	require.True(t, c.HasCSRF())

	api.mu.Lock()
	api.forbidNext = "POST /m/user/scenarios/sc-1/actions"
	api.mu.Unlock()

	err := c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "two"})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "trigger", cerr.Op)
	assert.Equal(t, http.StatusForbidden, cerr.StatusCode)
	assert.Equal(t, "error", cerr.Status)
	assert.True(t, cerr.IsForbidden())
	assert.True(t, fault.IsAuth(err))
	assert.False(t, c.HasCSRF())

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "three"}))
	pages, triggered, _ := api.snapshot()
	assert.Equal(t, 2, pages, "csrf refetched after 403")
	assert.Equal(t, []string{"one", "three"}, triggered)
}

func TestRunRecreatesDeletedScenario(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "one"}))

	api.mu.Lock()
	delete(api.scenarios, "sc-1")
	api.mu.Unlock()

	require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "two"}))
	id, _ := c.ScenarioID("cloud-1")
	assert.Equal(t, "sc-2", id)
}

func TestRunReusesScenarioAcrossClients(t *testing.T) {
	api, srv := newFakeAPI(t)
	ctx := context.Background()

	api.mu.Lock()
	api.scenarios["other"] = scenario{Name: "glagol cloud-2"}
	api.mu.Unlock()

	for i, value := range []string{"one", "two", "three"} {
		// A fresh client has no cached scenario ids, as after a restart.
		c := newTestClient(t, srv, nil)
		require.NoError(t, c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: value}), "client %d", i)
		id, ok := c.ScenarioID("cloud-1")
		require.True(t, ok)
		assert.Equal(t, "sc-1", id)
	}

	_, triggered, calls := api.snapshot()
	assert.Equal(t, []string{"one", "two", "three"}, triggered)

	api.mu.Lock()
	assert.Len(t, api.scenarios, 2)
	assert.Equal(t, 1, api.nextID, "scenario created once")
	assert.Equal(t, "three", api.scenarios["sc-1"].Devices[0].Capabilities[0].State.Value)
	api.mu.Unlock()

	assert.Equal(t, []string{
		"GET /quasar",
		"GET /m/user/scenarios",
		"PUT /m/user/scenarios/sc-1",
		"POST /m/user/scenarios/sc-1/actions",
	}, calls[len(calls)-4:])
}

func TestRunLookupError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.failStatus["GET /m/user/scenarios"] = http.StatusServiceUnavailable
	c := newTestClient(t, srv, nil)

	err := c.Run(context.Background(), "cloud-1", Action{Kind: ActionText, Value: "x"})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "lookup", cerr.Op)
	assert.True(t, fault.IsTransient(err))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.scenarios, "nothing created when the lookup fails")
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidAction", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		c := newTestClient(t, srv, nil)
		for _, a := range []Action{{Kind: "other", Value: "x"}, {Kind: ActionText, Value: " "}} {
			err := c.Run(ctx, "cloud-1", a)
			assert.True(t, fault.IsInput(err), "%+v: %v", a, err)
		}
		assert.True(t, fault.IsInput(c.Run(ctx, "", Action{Kind: ActionText, Value: "x"})))
	})

	t.Run("ServerError", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.failStatus["POST /m/user/scenarios"] = http.StatusBadGateway
		c := newTestClient(t, srv, nil)

		err := c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "x"})
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "create", cerr.Op)
		assert.True(t, fault.IsTransient(err))
		assert.True(t, c.HasCSRF(), "only 403 clears the csrf token")
	})

	t.Run("StatusNotOK", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/quasar":
				_, _ = w.Write([]byte(`"csrfToken2":"tok"`))
			case r.Method == http.MethodGet:
				_, _ = w.Write([]byte(`{"status":"ok","scenarios":[]}`))
			default:
				_, _ = w.Write([]byte(`{"status":"error","message":"bad scenario"}`))
			}
		}))
		defer srv.Close()
		c := newTestClient(t, srv, nil)

		err := c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "x"})
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "error", cerr.Status)
		assert.Equal(t, `cloud create: status "error"`, cerr.Error())
	})

	t.Run("NoCSRFOnPage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>no token here</html>`))
		}))
		defer srv.Close()
		c := newTestClient(t, srv, nil)

		err := c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "x"})
		assert.ErrorIs(t, err, ErrNoCSRFToken)
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := newTestClient(t, srv, nil)

		err := c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "x"})
		assert.True(t, fault.IsTransient(err))
	})

	t.Run("Unauthorized", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		c, err := NewClient(Config{
			APIURL:      srv.URL,
			PageURL:     srv.URL,
			Credentials: auth.StaticToken("wrong"),
		})
		require.NoError(t, err)

		err = c.Run(ctx, "cloud-1", Action{Kind: ActionText, Value: "x"})
		assert.True(t, fault.IsAuth(err))
	})
}

func TestSpeakers(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)

	speakers, err := c.Speakers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Speaker{
		{ID: "cloud-1", DeviceID: "d1", Platform: "yandexstation_2", Name: "Kitchen"},
		{ID: "cloud-2", DeviceID: "d2", Platform: "yandexmodule_2", Name: "TV"},
	}, speakers)
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  *Error
		want fault.Class
	}{
		{&Error{Op: "x", StatusCode: 401}, fault.Auth},
		{&Error{Op: "x", StatusCode: 403}, fault.Auth},
		{&Error{Op: "x", StatusCode: 404}, fault.Input},
		{&Error{Op: "x", StatusCode: 429}, fault.Transient},
		{&Error{Op: "x", StatusCode: 503}, fault.Transient},
		{&Error{Op: "x", StatusCode: 200, Status: "error"}, fault.Unknown},
		{&Error{Op: "x", Err: errors.New("reset")}, fault.Transient},
		{&Error{Op: "x", Err: context.Canceled}, fault.Transient},
		{&Error{Op: "x", Err: auth.ErrNoCredentials}, fault.Auth},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.FaultClass(), tt.err.Error())
	}
}
