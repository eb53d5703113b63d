package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxctl/voxctl/internal/api"
	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/metrics"
	"github.com/voxctl/voxctl/internal/pipeline"
	"github.com/voxctl/voxctl/internal/session"
	"github.com/voxctl/voxctl/internal/telephony"
	"github.com/voxctl/voxctl/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voxctl",
		"http_port", cfg.HTTPPort,
		"scenario_dir", cfg.ScenarioDir,
		"max_events", cfg.MaxEvents,
	)

	// Seed the scenario directory with the embedded defaults so operators
	// have files to edit. Existing files win.
	if err := pipeline.ExtractScenarios(cfg.ScenarioDir); err != nil {
		slog.Warn("could not extract scenario defaults", "error", err)
	}

	// Event stream: stderr rendering for humans tailing the process, an
	// in-memory store behind the query API.
	store := event.NewStore(cfg.MaxEvents)
	sink := event.NewConsoleSink(os.Stderr)
	emitter := event.NewEmitter(event.ComponentControlPlane, sink, store)

	mgr := session.NewManager()
	verifier := webhook.NewVerifier(cfg.LiveKitAPIKey, cfg.WebhookSecret)
	ingester := webhook.NewIngester(mgr, emitter)
	rooms := telephony.NewClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)

	// Dedicated registry so the scrape carries only voxctl series.
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(mgr, store, time.Now()))

	srv := api.NewServer(cfg, api.Deps{
		Manager:  mgr,
		Store:    store,
		Emitter:  emitter,
		Verifier: verifier,
		Ingester: ingester,
		Rooms:    rooms,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxctl stopped")
}
