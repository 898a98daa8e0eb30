package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quasar-go/glagol-go/pkg/auth"
	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/metrics"
)

// Production endpoints.
const (
	DefaultAPIURL  = "https://iot.quasar.yandex.ru"
	DefaultPageURL = "https://yandex.ru"
)

// Request shaping.
const (
	// DefaultRate is the sustained request rate.
	DefaultRate = rate.Limit(5)

	// DefaultBurst is the request burst.
	DefaultBurst = 5

	// maxBodySize bounds response bodies, the quasar page included.
	maxBodySize = 4 << 20

	csrfHeader = "x-csrf-token"

	serverActionCapability = "devices.capabilities.quasar.server_action"
)

// ErrNoCSRFToken is returned when the quasar page carries no CSRF token.
var ErrNoCSRFToken = errors.New("csrf token not found")

var csrfPattern = regexp.MustCompile(`"csrfToken2":"([^"]+)"`)

// ActionKind selects how the speaker treats the action value.
type ActionKind string

const (
	// ActionText is processed as if the user said it ("turn on music").
	ActionText ActionKind = "text_action"

	// ActionPhrase is spoken aloud verbatim.
	ActionPhrase ActionKind = "phrase_action"
)

// Action is one command delivered through a scenario.
type Action struct {
	Kind  ActionKind
	Value string
}

// Validate checks the action.
func (a Action) Validate() error {
	if a.Kind != ActionText && a.Kind != ActionPhrase {
		return fault.Wrap(fault.Input, "cloud action", fmt.Errorf("unknown kind %q", a.Kind))
	}
	if strings.TrimSpace(a.Value) == "" {
		return fault.Wrap(fault.Input, "cloud action", errors.New("empty value"))
	}
	return nil
}

// Speaker is a speaker registered on the account.
type Speaker struct {
	// ID is the cloud device id used in scenarios.
	ID string

	// DeviceID is the speaker's local (Glagol) device id.
	DeviceID string

	Platform string
	Name     string
}

// Config configures a Client.
type Config struct {
	// APIURL is the scenario API base (default: DefaultAPIURL).
	APIURL string

	// PageURL is where the CSRF token is scraped from (default: DefaultPageURL).
	PageURL string

	// Client performs requests (default: a client with a 15s timeout).
	Client *http.Client

	// Credentials authenticate every request. Required.
	Credentials auth.Credentials

	// Limiter throttles requests (default: DefaultRate with DefaultBurst).
	Limiter *rate.Limiter

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives a capture event per call.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Client talks to the cloud scenario API.
type Client struct {
	api     string
	page    string
	http    *http.Client
	creds   auth.Credentials
	limiter *rate.Limiter
	logger  *slog.Logger
	capture log.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	csrf      string
	scenarios map[string]string // cloud device id -> scenario id

	// runMu serializes Run so two commands for one device cannot interleave
	// their update and trigger steps.
	runMu sync.Mutex
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, auth.ErrNoCredentials
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(DefaultRate, DefaultBurst)
	}
	return &Client{
		api:       strings.TrimSuffix(cfg.APIURL, "/"),
		page:      strings.TrimSuffix(cfg.PageURL, "/"),
		http:      cfg.Client,
		creds:     cfg.Credentials,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
		capture:   log.OrNoop(cfg.ProtocolLogger),
		metrics:   cfg.Metrics,
		scenarios: make(map[string]string),
	}, nil
}

// Run delivers action to the speaker with the given cloud device id.
func (c *Client) Run(ctx context.Context, deviceID string, action Action) error {
	if deviceID == "" {
		return fault.Wrap(fault.Input, "cloud run", errors.New("empty device id"))
	}
	if err := action.Validate(); err != nil {
		return err
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	csrf, err := c.ensureCSRF(ctx)
	if err != nil {
		return err
	}

	body := scenarioBody(deviceID, action)

	c.mu.Lock()
	id, known := c.scenarios[deviceID]
	c.mu.Unlock()

	if !known {
		// A previous process may have created it already.
		if id, err = c.lookupScenario(ctx, deviceID, body.Name); err != nil {
			return err
		}
		known = id != ""
	}

	if known {
		err = c.call(ctx, "update", http.MethodPut, "/m/user/scenarios/"+url.PathEscape(id), csrf, deviceID, body, nil)
		var cerr *Error
		if errors.As(err, &cerr) && cerr.StatusCode == http.StatusNotFound {
			// Deleted by the user; recreate it.
			c.forgetScenario(deviceID)
			known = false
		} else if err != nil {
			return err
		}
	}

	if !known {
		var created struct {
			ScenarioID string `json:"scenario_id"`
		}
		if err := c.call(ctx, "create", http.MethodPost, "/m/user/scenarios", csrf, deviceID, body, &created); err != nil {
			return err
		}
		if created.ScenarioID == "" {
			return &Error{Op: "create", StatusCode: http.StatusOK, Err: errors.New("no scenario_id in response")}
		}
		id = created.ScenarioID

		c.mu.Lock()
		c.scenarios[deviceID] = id
		c.mu.Unlock()
	}

	return c.call(ctx, "trigger", http.MethodPost, "/m/user/scenarios/"+url.PathEscape(id)+"/actions", csrf, deviceID, nil, nil)
}

// Speakers lists the speakers on the account.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	var resp struct {
		Households []struct {
			All []struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				Type       string `json:"type"`
				QuasarInfo *struct {
					DeviceID string `json:"device_id"`
					Platform string `json:"platform"`
				} `json:"quasar_info"`
			} `json:"all"`
		} `json:"households"`
	}
	if err := c.call(ctx, "devices", http.MethodGet, "/m/v3/user/devices", "", "", nil, &resp); err != nil {
		return nil, err
	}

	var out []Speaker
	for _, h := range resp.Households {
		for _, d := range h.All {
			if d.QuasarInfo == nil {
				continue
			}
			out = append(out, Speaker{
				ID:       d.ID,
				DeviceID: d.QuasarInfo.DeviceID,
				Platform: d.QuasarInfo.Platform,
				Name:     d.Name,
			})
		}
	}
	return out, nil
}

// ScenarioID returns the cached scenario id for a device.
func (c *Client) ScenarioID(deviceID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.scenarios[deviceID]
	return id, ok
}

// HasCSRF reports whether a CSRF token is cached.
func (c *Client) HasCSRF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf != ""
}

// lookupScenario finds the account scenario called name and caches its id.
// It returns "" when there is none.
func (c *Client) lookupScenario(ctx context.Context, deviceID, name string) (string, error) {
	var resp struct {
		Scenarios []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"scenarios"`
	}
	if err := c.call(ctx, "lookup", http.MethodGet, "/m/user/scenarios", "", deviceID, nil, &resp); err != nil {
		return "", err
	}
	for _, sc := range resp.Scenarios {
		if sc.Name == name && sc.ID != "" {
			c.mu.Lock()
			c.scenarios[deviceID] = sc.ID
			c.mu.Unlock()
			return sc.ID, nil
		}
	}
	return "", nil
}

func (c *Client) forgetScenario(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scenarios, deviceID)
}

func (c *Client) ensureCSRF(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrf
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	start := time.Now()
	page, status, err := c.do(ctx, http.MethodGet, c.page+"/quasar", "", nil)
	c.record("csrf", http.MethodGet, "/quasar", "", status, start, err)
	if err != nil {
		return "", &Error{Op: "csrf", Err: err}
	}
	if status != http.StatusOK {
		return "", &Error{Op: "csrf", StatusCode: status}
	}

	m := csrfPattern.FindSubmatch(page)
	if m == nil {
		return "", &Error{Op: "csrf", StatusCode: status, Err: ErrNoCSRFToken}
	}
	token = string(m[1])

	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
	c.debugLog("csrf token refreshed")
	return token, nil
}

// call performs one API request and decodes a {"status":"ok",...} body into out.
func (c *Client) call(ctx context.Context, op, method, path, csrf, deviceID string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Op: op, Err: err}
		}
	}

	start := time.Now()
	data, status, err := c.do(ctx, method, c.api+path, csrf, payload)
	c.record(op, method, path, deviceID, status, start, err)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	if status == http.StatusForbidden {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		c.debugLog("csrf token invalidated", "op", op)
	}
	if status < 200 || status > 299 {
		return &Error{Op: op, StatusCode: status, Status: peekStatus(data)}
	}

	if s := peekStatus(data); s != "ok" {
		return &Error{Op: op, StatusCode: status, Status: s}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Op: op, StatusCode: status, Err: err}
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u, csrf string, payload []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	oauth, err := c.creds.OAuthToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "OAuth "+oauth)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *Client) record(op, method, path, deviceID string, status int, start time.Time, err error) {
	d := time.Since(start)

	result := "ok"
	switch {
	case err != nil:
		result = fault.Classify(&Error{Op: op, Err: err}).String()
	case status < 200 || status > 299:
		result = (&Error{Op: op, StatusCode: status}).FaultClass().String()
	}
	c.metrics.CloudRequest(op, result, d)

	if c.logger != nil {
		c.logger.Debug("cloud call", "op", op, "method", method, "path", path, "status", status, "duration", d, "error", err)
	}

	e := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerCloud,
		Category:  log.CategoryMessage,
		DeviceID:  deviceID,
		Cloud: &log.CloudCallEvent{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Duration:   d,
		},
	}
	if err != nil {
		e.Category = log.CategoryError
		e.Error = &log.ErrorEventData{Layer: log.LayerCloud, Message: err.Error(), Context: op}
	}
	c.capture.Log(e)
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func peekStatus(data []byte) string {
	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Status
}

type scenario struct {
	Name                         string           `json:"name"`
	Icon                         string           `json:"icon"`
	Triggers                     []trigger        `json:"triggers"`
	RequestedSpeakerCapabilities []any            `json:"requested_speaker_capabilities"`
	Devices                      []scenarioDevice `json:"devices"`
}

type trigger struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type scenarioDevice struct {
	ID           string       `json:"id"`
	Capabilities []capability `json:"capabilities"`
}

type capability struct {
	Type  string          `json:"type"`
	State capabilityState `json:"state"`
}

type capabilityState struct {
	Instance string `json:"instance"`
	Value    string `json:"value"`
}

// scenarioBody builds the per-device scenario carrying action.
func scenarioBody(deviceID string, action Action) scenario {
	name := "glagol " + deviceID
	return scenario{
		Name:                         name,
		Icon:                         "home",
		Triggers:                     []trigger{{Type: "scenario.trigger.voice", Value: name}},
		RequestedSpeakerCapabilities: []any{},
		Devices: []scenarioDevice{{
			ID: deviceID,
			Capabilities: []capability{{
				Type:  serverActionCapability,
				State: capabilityState{Instance: string(action.Kind), Value: action.Value},
			}},
		}},
	}
}
