// Command glagol-sim is a simulated speaker for trying glagol-bridge without
// hardware.
//
// It serves the token endpoint and the speaker WebSocket on one TLS port with
// a self-signed certificate, and advertises itself over mDNS as a
// _yandexio._tcp service.
//
// Usage:
//
//	glagol-sim [flags]
//
// Flags:
//
//	-device-id string   Device id (default "sim-0001")
//	-platform string    Platform (default "yandexstation")
//	-name string        Speaker name (default "Simulated Speaker")
//	-port int           Listen port (default 1961)
//	-oauth string       Require this OAuth token for token requests
//	-volume float       Initial volume (default 0.5)
//	-push duration      State push interval, 0 disables (default 0)
//	-interface string   Advertise on this interface only
//	-no-advertise       Do not advertise over mDNS
//	-capture string     Protocol capture file
//	-log-level string   Log level: debug, info, warn, error (default "info")
//
// Point the bridge at the simulator's token endpoint:
//
//	glagol-sim -oauth test &
//	glagol-bridge -token test -config sim.yaml
//
// with sim.yaml:
//
//	session:
//	  token_url: https://localhost:1961
//	  token_insecure: true
//	cloud:
//	  fallback: false
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quasar-go/glagol-go/internal/speakersim"
	"github.com/quasar-go/glagol-go/pkg/config"
	"github.com/quasar-go/glagol-go/pkg/discovery"
	"github.com/quasar-go/glagol-go/pkg/log"
	"github.com/quasar-go/glagol-go/pkg/transport"
)

// Config holds the simulator configuration.
type Config struct {
	DeviceID    string
	Platform    string
	Name        string
	Port        int
	OAuth       string
	Volume      float64
	Push        time.Duration
	Interface   string
	NoAdvertise bool
	Capture     string
	LogLevel    string
}

var cfg Config

func init() {
	flag.StringVar(&cfg.DeviceID, "device-id", "sim-0001", "Device id")
	flag.StringVar(&cfg.Platform, "platform", "yandexstation", "Platform")
	flag.StringVar(&cfg.Name, "name", "Simulated Speaker", "Speaker name")
	flag.IntVar(&cfg.Port, "port", transport.DefaultPort, "Listen port")
	flag.StringVar(&cfg.OAuth, "oauth", "", "Require this OAuth token for token requests")
	flag.Float64Var(&cfg.Volume, "volume", 0.5, "Initial volume")
	flag.DurationVar(&cfg.Push, "push", 0, "State push interval, 0 disables")
	flag.StringVar(&cfg.Interface, "interface", "", "Advertise on this interface only")
	flag.BoolVar(&cfg.NoAdvertise, "no-advertise", false, "Do not advertise over mDNS")
	flag.StringVar(&cfg.Capture, "capture", "", "Protocol capture file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glagol-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := config.Log{Level: cfg.LogLevel}.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var capture log.Logger
	if cfg.Capture != "" {
		fl, err := log.NewFileLogger(cfg.Capture)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	speaker := speakersim.New(speakersim.Config{
		DeviceID:       cfg.DeviceID,
		Platform:       cfg.Platform,
		OAuthToken:     cfg.OAuth,
		Volume:         cfg.Volume,
		Logger:         logger,
		ProtocolLogger: capture,
	})

	cert, err := transport.SelfSignedCertificate("localhost", "127.0.0.1", hostname())
	if err != nil {
		return err
	}
	ln, err := tls.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)), transport.NewServerTLSConfig(cert))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: speaker, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("speaker listening", "addr", ln.Addr().String(), "speaker", speaker.Describe())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		speaker.DropConnections()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if !cfg.NoAdvertise {
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Interface: cfg.Interface})
		info := &discovery.SpeakerInfo{
			DeviceID: cfg.DeviceID,
			Platform: cfg.Platform,
			Name:     cfg.Name,
			Port:     cfg.Port,
		}
		if err := adv.Advertise(gctx, info); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		logger.Info("advertising", "service", discovery.ServiceType, "device", cfg.DeviceID)
		g.Go(func() error {
			<-gctx.Done()
			return adv.Stop()
		})
	}

	if cfg.Push > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Push)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					speaker.PushState()
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case r := <-speaker.Received():
				logger.Info("command", "command", r.Command, "id", r.ID)
			}
		}
	})

	err = g.Wait()
	logger.Info("speaker stopped", "commands", len(speaker.Commands()))
	return err
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}
