// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package config defines the Trustgate configuration model and its layered
// loading via Koanf v2 (defaults, optional YAML file, environment variables).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Security  SecurityConfig  `koanf:"security"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Detection DetectionConfig `koanf:"detection"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Timeout bounds request handling, including detector and store work on
	// the ingest path. Timeouts surface as transient failures, never as
	// silent success.
	Timeout time.Duration `koanf:"timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	// HTTPRateLimitReqs/Window configure the coarse per-IP edge limiter.
	// This is independent of the per-device, trust-gated sliding window.
	HTTPRateLimitReqs   int           `koanf:"http_rate_limit_reqs"`
	HTTPRateLimitWindow time.Duration `koanf:"http_rate_limit_window"`
}

// Addr returns the host:port listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`

	// Threads for the DuckDB engine. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// SecurityConfig holds credential settings.
type SecurityConfig struct {
	// JWTSecret signs device tokens (HS256). Minimum 16 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the device token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// RateLimitConfig holds the per-device sliding-window limiter settings.
type RateLimitConfig struct {
	// Window is the sliding window length.
	Window time.Duration `koanf:"window"`

	// MaxRequests is the number of requests tolerated inside the window
	// before a low-trust device is blocked.
	MaxRequests int `koanf:"max_requests"`
}

// DetectionConfig holds both anomaly detection layers' settings.
type DetectionConfig struct {
	// Statistical layer.
	ZScoreThreshold float64 `koanf:"zscore_threshold"`
	StatHistory     int     `koanf:"stat_history"`
	StatMinSamples  int     `koanf:"stat_min_samples"`

	// Adaptive layer.
	AdaptiveHistory int     `koanf:"adaptive_history"`
	AdaptiveWarmup  int     `koanf:"adaptive_warmup"`
	RetrainEvery    int     `koanf:"retrain_every"`
	Contamination   float64 `koanf:"contamination"`
	ForestTrees     int     `koanf:"forest_trees"`
	ForestSeed      int64   `koanf:"forest_seed"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 16 {
		return fmt.Errorf("security.jwt_secret must be at least 16 characters")
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("security.token_ttl must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if c.Detection.ZScoreThreshold <= 0 {
		return fmt.Errorf("detection.zscore_threshold must be positive")
	}
	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		return fmt.Errorf("detection.contamination must be in (0, 0.5), got %v", c.Detection.Contamination)
	}
	if c.Detection.AdaptiveWarmup < c.Detection.StatMinSamples {
		return fmt.Errorf("detection.adaptive_warmup must be >= detection.stat_min_samples")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
