// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustgate-io/trustgate/internal/config"
	"github.com/trustgate-io/trustgate/internal/middleware"
)

// NewRouter wires the full HTTP surface. The httprate limiter here is a
// per-IP transport guard for the whole API; the per-device policy limiter
// inside the pipeline is a separate concern.
func NewRouter(cfg *config.ServerConfig, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			cfg.HTTPRateLimitReqs,
			cfg.HTTPRateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
		r.Use(middleware.Metrics)

		r.Post("/auth/register", handler.Register)
		r.Post("/data/ingest", handler.Ingest)

		r.Get("/devices", handler.ListDevices)
		r.Get("/trust/{deviceID}", handler.TrustHistory)
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/logs", handler.ListAccessLogs)
		r.Get("/status", handler.Status)
	})

	return r
}

// NewServer builds the http.Server with the gateway's timeouts applied.
func NewServer(cfg *config.ServerConfig, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Timeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
}
