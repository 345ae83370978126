// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"context"
	"time"

	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/metrics"
)

// Engine runs both detection layers against a reading and combines their
// results. The layers read the same history snapshot and are independent, so
// they run concurrently.
type Engine struct {
	stat     *StatDetector
	adaptive *AdaptiveDetector
}

// NewEngine creates a detection engine from both layers.
func NewEngine(stat *StatDetector, adaptive *AdaptiveDetector) *Engine {
	return &Engine{stat: stat, adaptive: adaptive}
}

// Analyze evaluates one reading against the device's history (newest first)
// and returns the combined verdict. The context bounds the adaptive layer,
// whose retrain step dominates latency; on cancellation the adaptive result
// degrades to inactive rather than failing the reading.
func (e *Engine) Analyze(ctx context.Context, deviceID string, value float64, history []float64) Verdict {
	statCh := make(chan StatResult, 1)
	adaptiveCh := make(chan AdaptiveResult, 1)

	go func() {
		start := time.Now()
		statCh <- e.stat.Check(value, history)
		metrics.DetectionDuration.WithLabelValues("statistical").Observe(time.Since(start).Seconds())
	}()
	go func() {
		start := time.Now()
		adaptiveCh <- e.adaptive.Check(deviceID, value, history)
		metrics.DetectionDuration.WithLabelValues("adaptive").Observe(time.Since(start).Seconds())
	}()

	stat := <-statCh

	var adaptive AdaptiveResult
	select {
	case adaptive = <-adaptiveCh:
	case <-ctx.Done():
		logging.Warn().
			Str("device_id", deviceID).
			Err(ctx.Err()).
			Msg("adaptive layer timed out, treating as inactive")
		adaptive = AdaptiveResult{Active: false}
	}

	verdict := Combine(stat, adaptive)
	metrics.RecordVerdict(verdict.Method, verdict.Anomaly)

	logging.Debug().
		Str("device_id", deviceID).
		Str("method", verdict.Method).
		Bool("anomaly", verdict.Anomaly).
		Float64("confidence", verdict.Confidence).
		Msg("detection verdict")

	return verdict
}
