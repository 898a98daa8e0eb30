// Package config loads the glagol-bridge YAML configuration.
//
// A minimal file names the OAuth token and lets discovery find the speakers:
//
//	cloud:
//	  token_file: ~/.config/glagol/token
//	discovery:
//	  auto_register: true
//
// Durations are written as Go duration strings ("15s", "2m").
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/quasar-go/glagol-go/pkg/auth"
	"github.com/quasar-go/glagol-go/pkg/cloud"
	"github.com/quasar-go/glagol-go/pkg/connection"
	"github.com/quasar-go/glagol-go/pkg/glagol"
	"github.com/quasar-go/glagol-go/pkg/transport"
)

// Config is the complete bridge configuration.
type Config struct {
	Devices   []Device  `yaml:"devices"`
	Cloud     Cloud     `yaml:"cloud"`
	Discovery Discovery `yaml:"discovery"`
	Session   Session   `yaml:"session"`
	Metrics   Metrics   `yaml:"metrics"`
	Log       Log       `yaml:"log"`
}

// Device pre-registers a speaker. Host is optional; without it the session
// waits for a discovery advertisement.
type Device struct {
	ID       string `yaml:"id"`
	Platform string `yaml:"platform"`
	Name     string `yaml:"name"`
	CloudID  string `yaml:"cloud_id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// Cloud configures the account credentials and the scenario fallback.
type Cloud struct {
	// Token is the OAuth token. TokenFile takes precedence when both are set.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Fallback enables routing through the scenario API while a speaker is
	// offline.
	Fallback bool `yaml:"fallback"`

	// ListSpeakers pre-registers the account's speakers at startup.
	ListSpeakers bool `yaml:"list_speakers"`

	APIURL  string  `yaml:"api_url"`
	PageURL string  `yaml:"page_url"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// Discovery configures mDNS browsing.
type Discovery struct {
	Enabled      bool   `yaml:"enabled"`
	Interface    string `yaml:"interface"`
	AutoRegister bool   `yaml:"auto_register"`
}

// Session configures every speaker session.
type Session struct {
	TokenURL string `yaml:"token_url"`

	// TokenInsecure skips certificate checks on the token service, for
	// glagol-sim.
	TokenInsecure bool `yaml:"token_insecure"`

	BackoffInitial   Duration `yaml:"backoff_initial"`
	BackoffMaxExp    int      `yaml:"backoff_max_exponent"`
	BackoffJitter    float64  `yaml:"backoff_jitter"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	KeepAlive        bool     `yaml:"keepalive"`
	PingInterval     Duration `yaml:"ping_interval"`
	PongTimeout      Duration `yaml:"pong_timeout"`
	MaxMissedPongs   int      `yaml:"max_missed_pongs"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Log configures operational logging and protocol capture.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Capture is a protocol capture file; empty disables capture.
	Capture string `yaml:"capture"`
}

// Duration is a time.Duration read from a duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns the built-in configuration.
func Default() Config {
	ka := transport.DefaultKeepAliveConfig()
	return Config{
		Cloud: Cloud{
			Fallback: true,
			APIURL:   cloud.DefaultAPIURL,
			PageURL:  cloud.DefaultPageURL,
			Rate:     float64(cloud.DefaultRate),
			Burst:    cloud.DefaultBurst,
		},
		Discovery: Discovery{
			Enabled:      true,
			AutoRegister: true,
		},
		Session: Session{
			TokenURL:         glagol.DefaultTokenURL,
			BackoffInitial:   Duration(connection.InitialBackoff),
			BackoffMaxExp:    connection.MaxBackoffExponent,
			HandshakeTimeout: Duration(10 * time.Second),
			KeepAlive:        true,
			PingInterval:     Duration(ka.PingInterval),
			PongTimeout:      Duration(ka.PongTimeout),
			MaxMissedPongs:   ka.MaxMissedPongs,
		},
		Log: Log{Level: "info"},
	}
}

// Parse reads a configuration from YAML bytes on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads a configuration file. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no component can use.
func (c Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("devices[%d]: id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		if d.Port < 0 || d.Port > 65535 {
			errs = append(errs, fmt.Errorf("devices[%d]: invalid port %d", i, d.Port))
		}
	}

	if c.Cloud.Rate < 0 || c.Cloud.Burst < 0 {
		errs = append(errs, errors.New("cloud: rate and burst must not be negative"))
	}
	if c.Session.BackoffInitial < 0 || c.Session.BackoffMaxExp < 0 {
		errs = append(errs, errors.New("session: backoff must not be negative"))
	}
	if c.Session.BackoffJitter < 0 || c.Session.BackoffJitter > 1 {
		errs = append(errs, fmt.Errorf("session: backoff_jitter %v outside [0, 1]", c.Session.BackoffJitter))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Credentials returns the OAuth credential source, or nil if none is
// configured.
func (c Cloud) Credentials() auth.Credentials {
	switch {
	case c.TokenFile != "":
		return auth.FileToken{Path: expandHome(c.TokenFile)}
	case c.Token != "":
		return auth.StaticToken(c.Token)
	default:
		return nil
	}
}

// Limiter returns the cloud request limiter. A zero rate disables
// throttling.
func (c Cloud) Limiter() *rate.Limiter {
	if c.Rate == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := c.Burst
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.Rate), burst)
}

// Backoff returns the session reconnect policy.
func (s Session) Backoff() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial:     s.BackoffInitial.Std(),
		MaxExponent: s.BackoffMaxExp,
		Jitter:      s.BackoffJitter,
	}
}

// Dialer returns the speaker dialer configuration without a capture logger.
func (s Session) Dialer() transport.DialerConfig {
	dc := transport.DialerConfig{HandshakeTimeout: s.HandshakeTimeout.Std()}
	if s.KeepAlive {
		dc.KeepAlive = &transport.KeepAliveConfig{
			PingInterval:   s.PingInterval.Std(),
			PongTimeout:    s.PongTimeout.Std(),
			MaxMissedPongs: s.MaxMissedPongs,
		}
	}
	return dc
}

// SlogLevel returns the operational log level.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
