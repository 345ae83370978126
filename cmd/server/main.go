// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package main is the entry point for the Trustgate server.
//
// Trustgate is a Zero Trust telemetry gateway for IoT fleets. Every reading
// a device submits passes a fixed policy pipeline: per-device rate limiting,
// credential validation, two-layer anomaly detection and a continuously
// updated trust score that maps to an access tier.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered loading from defaults, config.yaml and
//     environment variables (Koanf v2)
//  2. Storage: DuckDB for devices, readings, trust history, alerts and
//     access logs
//  3. Policy components: rate limiter, detection engine, trust engine,
//     token manager
//  4. Event bus: in-process Watermill bus carrying alerts and audit events
//     to the persister
//  5. HTTP server: REST API under /api/v1 plus /healthz and /metrics
//
// Long-lived components run under a suture supervision tree with an events
// layer and an API layer, so event handling failures never take the ingest
// surface down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, DUCKDB_PATH, JWT_SECRET, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests within the shutdown
// timeout and closes the event bus and database.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trustgate-io/trustgate/internal/api"
	"github.com/trustgate-io/trustgate/internal/auth"
	"github.com/trustgate-io/trustgate/internal/config"
	"github.com/trustgate-io/trustgate/internal/detection"
	"github.com/trustgate-io/trustgate/internal/events"
	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/pipeline"
	"github.com/trustgate-io/trustgate/internal/ratelimit"
	"github.com/trustgate-io/trustgate/internal/store"
	"github.com/trustgate-io/trustgate/internal/supervisor"
	"github.com/trustgate-io/trustgate/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("db_path", cfg.Database.Path).
		Dur("rate_limit_window", cfg.RateLimit.Window).
		Int("rate_limit_max", cfg.RateLimit.MaxRequests).
		Msg("Starting Trustgate")

	db, err := store.NewDuckDB(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	tokens, err := auth.NewTokenManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	detector := detection.NewEngine(
		detection.NewStatDetector(detection.StatConfig{
			Threshold:    cfg.Detection.ZScoreThreshold,
			HistoryLimit: cfg.Detection.StatHistory,
			MinSamples:   cfg.Detection.StatMinSamples,
		}),
		detection.NewAdaptiveDetector(detection.AdaptiveConfig{
			HistoryLimit: cfg.Detection.AdaptiveHistory,
			Warmup:       cfg.Detection.AdaptiveWarmup,
			RetrainEvery: cfg.Detection.RetrainEvery,
			Forest: detection.ForestConfig{
				Trees:         cfg.Detection.ForestTrees,
				Contamination: cfg.Detection.Contamination,
				Seed:          cfg.Detection.ForestSeed,
			},
		}),
	)

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	trustEngine := trust.NewEngine(db)
	gateway := pipeline.New(db, limiter, detector, trustEngine, tokens, bus, cfg.Server.Timeout)

	handler := api.NewHandler(gateway, db, limiter, trustEngine)
	server := api.NewServer(&cfg.Server, api.NewRouter(&cfg.Server, handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEventService(events.NewPersister(bus, db))
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Gateway stopped gracefully")
}
