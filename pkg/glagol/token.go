package glagol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/quasar-go/glagol-go/pkg/auth"
	"github.com/quasar-go/glagol-go/pkg/fault"
)

// DefaultTokenURL is the production token service.
const DefaultTokenURL = "https://quasar.yandex.net"

// ErrTokenRejected is returned when the token service answers without "ok".
var ErrTokenRejected = fault.New(fault.Auth, "conversation token rejected")

// TokenSource issues conversation tokens for a speaker.
type TokenSource interface {
	Token(ctx context.Context, id Identity) (string, error)
}

// TokenConfig configures an HTTPTokenSource.
type TokenConfig struct {
	// BaseURL of the token service (default: DefaultTokenURL).
	BaseURL string

	// Client performs the request (default: a client with a 10s timeout).
	Client *http.Client

	// Credentials supply the account OAuth token. Required.
	Credentials auth.Credentials

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// HTTPTokenSource fetches tokens from GET {base}/glagol/token.
type HTTPTokenSource struct {
	base   string
	client *http.Client
	creds  auth.Credentials
	logger *slog.Logger
}

// NewHTTPTokenSource creates a token source.
func NewHTTPTokenSource(cfg TokenConfig) *HTTPTokenSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTokenURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTokenSource{
		base:   cfg.BaseURL,
		client: cfg.Client,
		creds:  cfg.Credentials,
		logger: cfg.Logger,
	}
}

type tokenResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Token requests a conversation token for id.
func (s *HTTPTokenSource) Token(ctx context.Context, id Identity) (string, error) {
	if s.creds == nil {
		return "", auth.ErrNoCredentials
	}
	oauth, err := s.creds.OAuthToken(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("device_id", id.DeviceID)
	q.Set("platform", id.Platform)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/glagol/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+oauth)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.Transient, "token request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fault.Wrap(fault.Transient, "token response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrTokenRejected, resp.Status)
	case resp.StatusCode >= 500:
		return "", fault.Wrap(fault.Transient, "token request", fmt.Errorf("server error: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: %s", ErrTokenRejected, resp.Status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrTokenRejected, err)
	}
	if tr.Status != "ok" || tr.Token == "" {
		return "", fmt.Errorf("%w: status %q", ErrTokenRejected, tr.Status)
	}

	s.debugLog("conversation token issued", "device", id.DeviceID)
	return tr.Token, nil
}

func (s *HTTPTokenSource) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

var _ TokenSource = (*HTTPTokenSource)(nil)
