// Command glagol-bridge keeps local sessions to the speakers on the LAN and
// routes commands to them, falling back to the cloud scenario API while a
// speaker is offline.
//
// Usage:
//
//	glagol-bridge [flags]
//
// Flags:
//
//	-config string      Configuration file path
//	-log-level string   Log level: debug, info, warn, error (overrides config)
//	-capture string     Protocol capture file (overrides config)
//	-metrics string     Prometheus listen address, e.g. :9100 (overrides config)
//	-token string       OAuth token (overrides config)
//	-interactive        Enable interactive command mode
//
// Examples:
//
//	# Discover speakers and control them from the console
//	glagol-bridge -token "$YANDEX_TOKEN" -interactive
//
//	# Run headless with a capture file for glagol-log
//	glagol-bridge -config bridge.yaml -capture /tmp/bridge.cap
//
// Interactive Commands:
//
//	say <device-id> <text>          - Make the speaker say text
//	cmd <device-id> <command>       - Send a voice command
//	volume <device-id> <level>      - Set volume
//	play|pause|next|prev <device-id>
//	music <device-id> <id|query>    - Play music
//	devices                         - List speakers
//	status [device-id]              - Show speaker state
//	quit                            - Exit the bridge
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quasar-go/glagol-go/cmd/glagol-bridge/interactive"
	"github.com/quasar-go/glagol-go/pkg/cloud"
	"github.com/quasar-go/glagol-go/pkg/config"
	"github.com/quasar-go/glagol-go/pkg/discovery"
	"github.com/quasar-go/glagol-go/pkg/glagol"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/metrics"
	"github.com/quasar-go/glagol-go/pkg/service"
	"github.com/quasar-go/glagol-go/pkg/transport"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	Capture     string
	Metrics     string
	Token       string
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.Capture, "capture", "", "Protocol capture file")
	flag.StringVar(&flags.Metrics, "metrics", "", "Prometheus listen address")
	flag.StringVar(&flags.Token, "token", "", "OAuth token")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glagol-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var console *interactive.Console
	var logOut io.Writer = os.Stderr
	if flags.Interactive {
		console, err = interactive.New()
		if err != nil {
			return err
		}
		logOut = console.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	creds := cfg.Cloud.Credentials()
	if creds == nil {
		return errors.New("no OAuth token configured (use -token or cloud.token_file)")
	}

	// Protocol capture
	var capture log.Logger
	if cfg.Log.Capture != "" {
		fl, err := log.NewFileLogger(cfg.Log.Capture)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()
		capture = fl
		if cfg.Log.SlogLevel() == slog.LevelDebug {
			capture = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
		}
		logger.Info("capturing protocol events", "file", fl.Path())
	}

	// Metrics
	var m *metrics.Metrics
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Listen != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = metrics.New(reg); err != nil {
			return err
		}
	}

	var cc *cloud.Client
	if cfg.Cloud.Fallback {
		cc, err = cloud.NewClient(cloud.Config{
			APIURL:         cfg.Cloud.APIURL,
			PageURL:        cfg.Cloud.PageURL,
			Credentials:    creds,
			Limiter:        cfg.Cloud.Limiter(),
			Logger:         logger,
			ProtocolLogger: capture,
			Metrics:        m,
		})
		if err != nil {
			return err
		}
	}

	dc := cfg.Session.Dialer()
	dc.Logger = capture

	tc := glagol.TokenConfig{
		BaseURL:     cfg.Session.TokenURL,
		Credentials: creds,
		Logger:      logger,
	}
	if cfg.Session.TokenInsecure {
		tc.Client = &http.Client{
			Timeout:   15 * time.Second,
			Transport: &http.Transport{TLSClientConfig: transport.NewSpeakerTLSConfig()},
		}
	}

	router, err := service.NewRouter(service.RouterConfig{
		Tokens:         glagol.NewHTTPTokenSource(tc),
		Cloud:          cc,
		Dialer:         transport.NewDialer(dc),
		Backoff:        cfg.Session.Backoff(),
		AutoRegister:   cfg.Discovery.AutoRegister,
		OnEvent:        eventLogger(logger),
		Logger:         logger,
		ProtocolLogger: capture,
		Metrics:        m,
	})
	if err != nil {
		return err
	}
	defer router.Close()

	if err := registerDevices(ctx, router, cc, cfg, logger); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Discovery.Enabled {
		feed, err := discovery.NewFeed(discovery.FeedConfig{
			Browser: discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Discovery.Interface}),
			Logger:  logger,
			Metrics: m,
		})
		if err != nil {
			return err
		}
		feed.AddListener(router.HandleAdvertisement)
		g.Go(func() error {
			err := feed.Run(gctx)
			feed.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info("browsing for speakers", "service", discovery.ServiceType)
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if console != nil {
		console.Attach(router)
		go console.Run(gctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down")
	if cerr := router.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func applyFlags(cfg *config.Config) {
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.Capture != "" {
		cfg.Log.Capture = flags.Capture
	}
	if flags.Metrics != "" {
		cfg.Metrics.Listen = flags.Metrics
	}
	if flags.Token != "" {
		cfg.Cloud.Token = flags.Token
		cfg.Cloud.TokenFile = ""
	}
}

// registerDevices registers the configured speakers and, when enabled, the
// speakers listed by the cloud account.
func registerDevices(ctx context.Context, router *service.Router, cc *cloud.Client, cfg config.Config, logger *slog.Logger) error {
	for _, d := range cfg.Devices {
		opts := service.DeviceOptions{CloudID: d.CloudID}
		if d.Host != "" {
			port := d.Port
			if port == 0 {
				port = discovery.DefaultPort
			}
			opts.Endpoint = glagol.Endpoint{Host: d.Host, Port: port}
		}
		id := glagol.Identity{DeviceID: d.ID, Platform: d.Platform, Name: d.Name}
		if err := router.Register(id, opts); err != nil {
			return fmt.Errorf("register %s: %w", d.ID, err)
		}
	}

	if cc == nil || !cfg.Cloud.ListSpeakers {
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	speakers, err := cc.Speakers(listCtx)
	if err != nil {
		logger.Warn("listing cloud speakers failed", "error", err)
		return nil
	}
	for _, sp := range speakers {
		id := glagol.Identity{DeviceID: sp.DeviceID, Platform: sp.Platform, Name: sp.Name}
		if err := router.Register(id, service.DeviceOptions{CloudID: sp.ID}); err != nil {
			logger.Warn("skipping cloud speaker", "device", sp.DeviceID, "error", err)
		}
	}
	logger.Info("registered cloud speakers", "count", len(speakers))
	return nil
}

func eventLogger(logger *slog.Logger) service.EventHandler {
	return func(e service.Event) {
		switch e.Type {
		case service.EventDiscovered:
			logger.Info("speaker discovered", "device", e.DeviceID,
				"host", e.Advertisement.Host, "port", e.Advertisement.Port)
		case service.EventConnected:
			logger.Info("speaker connected", "device", e.DeviceID)
		case service.EventDisconnected:
			logger.Info("speaker disconnected", "device", e.DeviceID)
		case service.EventState:
			vol, _ := e.State.Volume()
			logger.Debug("speaker state", "device", e.DeviceID, "volume", vol,
				"playing", e.State.Playing(), "alice", e.State.AliceState())
		case service.EventResponse:
			logger.Info("speaker response", "device", e.DeviceID, "id", e.RequestID, "text", e.Card.Text)
		}
	}
}
