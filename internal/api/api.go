// Package api provides the HTTP management surface and the main server
// wiring for leadbot.
//
// It exposes endpoints for inspecting leads and their message logs and for
// driving the operator override channel (takeover, release, relay), and it
// bootstraps the transport, store, generator, flow engine and background
// scheduler into one running service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hunchunmed/leadbot/internal/flow"
	"github.com/hunchunmed/leadbot/internal/genai"
	"github.com/hunchunmed/leadbot/internal/messaging"
	"github.com/hunchunmed/leadbot/internal/scheduler"
	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/hunchunmed/leadbot/internal/twiliowhatsapp"
	"github.com/hunchunmed/leadbot/internal/whatsapp"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Channel names selectable via configuration.
const (
	ChannelWhatsmeow = "whatsmeow"
	ChannelTwilio    = "twilio"
)

// httpShutdownTimeout bounds graceful HTTP shutdown.
const httpShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Operator string
	Channel  string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithOperator sets the operator identity that receives notifications and may
// take over conversations.
func WithOperator(identity string) Option {
	return func(o *Opts) { o.Operator = identity }
}

// WithChannel selects the transport: ChannelWhatsmeow (default) or
// ChannelTwilio.
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// Server carries the collaborators the HTTP handlers need.
type Server struct {
	addr       string
	msgService messaging.Service
	st         store.Store
	sequencer  *flow.Sequencer
}

// NewServer creates a Server around an already-wired flow engine.
func NewServer(addr string, msgService messaging.Service, st store.Store, sequencer *flow.Sequencer) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{addr: addr, msgService: msgService, st: st, sequencer: sequencer}
}

// Run bootstraps all modules and blocks until shutdown. It is the single
// composition root: transport, store, generator, sequencer, sweep, HTTP.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	genClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize reply generator: %w", err)
	}

	msgService, webhook, err := buildMessaging(cfg, waOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	sequencer := flow.NewSequencer(st, msgService, genClient, cfg.Operator)
	sequencer.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddSilenceSweep(st, flow.DefaultSilenceTimeout); err != nil {
		return fmt.Errorf("failed to schedule silence sweep: %w", err)
	}

	server := NewServer(cfg.Addr, msgService, st, sequencer)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	if webhook != nil {
		mux.HandleFunc("POST /webhook/twilio", webhook)
		slog.Info("Twilio webhook registered", "path", "/webhook/twilio")
	}

	httpServer := &http.Server{Addr: server.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", server.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}

// buildStore picks a backend from the DSN: postgres, sqlite file path, or
// in-memory when no DSN is configured.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	default:
		slog.Info("Using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	}
}

// buildMessaging constructs the selected transport. The second return value
// is a webhook handler to mount, nil for transports with live event streams.
func buildMessaging(cfg Opts, waOpts []whatsapp.Option) (messaging.Service, http.HandlerFunc, error) {
	if cfg.Channel == ChannelTwilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		service := messaging.NewTwilioService(client, os.Getenv("TWILIO_FROM_NUMBER"))
		return service, service.WebhookHandler, nil
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}
