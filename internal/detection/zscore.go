// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"fmt"
	"math"
	"sync"
)

// StatConfig configures the statistical layer.
type StatConfig struct {
	// Threshold is the z-score above which a value is anomalous.
	Threshold float64

	// HistoryLimit caps how many recent readings are considered.
	HistoryLimit int

	// MinSamples is the minimum history size before the layer produces a
	// signal. Below it every check returns insufficient_history.
	MinSamples int
}

// DefaultStatConfig returns the standard statistical layer settings.
func DefaultStatConfig() StatConfig {
	return StatConfig{
		Threshold:    2.5,
		HistoryLimit: 100,
		MinSamples:   10,
	}
}

// StatDetector is the statistical outlier layer. Check is a pure function of
// the supplied history window; the detector itself holds only configuration.
type StatDetector struct {
	mu  sync.RWMutex
	cfg StatConfig
}

// NewStatDetector creates a statistical detector with the given config.
func NewStatDetector(cfg StatConfig) *StatDetector {
	return &StatDetector{cfg: cfg}
}

// Config returns the current configuration.
func (d *StatDetector) Config() StatConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// SetConfig replaces the configuration.
func (d *StatDetector) SetConfig(cfg StatConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Check evaluates one value against the device's recent history. The history
// slice is ordered newest first; only the most recent HistoryLimit entries
// are considered. Deterministic, O(len(history)).
func (d *StatDetector) Check(value float64, history []float64) StatResult {
	cfg := d.Config()

	if len(history) > cfg.HistoryLimit {
		history = history[:cfg.HistoryLimit]
	}
	if len(history) < cfg.MinSamples {
		return StatResult{Anomaly: false, Confidence: 0, Reason: ReasonInsufficientHistory}
	}

	mean, stddev := meanStddev(history)

	// Constant series: any deviation at all is fully anomalous.
	if stddev == 0 {
		if value != mean {
			return StatResult{Anomaly: true, Confidence: 1.0, Reason: ReasonZeroVariance}
		}
		return StatResult{Anomaly: false, Confidence: 0, Reason: ReasonZeroVariance}
	}

	z := math.Abs(value-mean) / stddev
	anomaly := z > cfg.Threshold
	confidence := math.Min(1.0, z/5.0)
	reason := fmt.Sprintf("z=%.2f mean=%.2f stddev=%.2f", z, mean, stddev)

	return StatResult{Anomaly: anomaly, Confidence: confidence, Reason: reason}
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / n)
	return mean, stddev
}
