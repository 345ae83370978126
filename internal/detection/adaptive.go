// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"math"
	"sync"
	"time"

	"github.com/trustgate-io/trustgate/internal/metrics"
)

// AdaptiveConfig configures the adaptive layer.
type AdaptiveConfig struct {
	// HistoryLimit caps how many recent readings feed training.
	HistoryLimit int

	// Warmup is the minimum history size before the layer activates.
	Warmup int

	// RetrainEvery retriggers training whenever the history size is a
	// multiple of it. The model is also trained on first activation.
	RetrainEvery int

	// Forest holds the training parameters for the backing model.
	Forest ForestConfig
}

// DefaultAdaptiveConfig returns the standard adaptive layer settings.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		HistoryLimit: 200,
		Warmup:       50,
		RetrainEvery: 50,
		Forest:       DefaultForestConfig(),
	}
}

// TrainFunc builds a model from a history sample. The default trains an
// isolation forest; tests may swap in a scripted backend.
type TrainFunc func(history []float64, cfg ForestConfig) Model

// AdaptiveDetector is the learned outlier layer. It keeps one model per
// device, trained over that device's bounded recent history and replaced
// wholesale on retrain. Model state for different devices is independent:
// retraining one device never blocks another's checks.
type AdaptiveDetector struct {
	cfg   AdaptiveConfig
	train TrainFunc

	mu     sync.Mutex
	states map[string]*deviceState
}

// deviceState serializes model access per device.
type deviceState struct {
	mu    sync.Mutex
	model Model
}

// NewAdaptiveDetector creates an adaptive detector with the given config.
func NewAdaptiveDetector(cfg AdaptiveConfig) *AdaptiveDetector {
	return &AdaptiveDetector{
		cfg: cfg,
		train: func(history []float64, fc ForestConfig) Model {
			f := TrainForest(history, fc)
			if f == nil {
				return nil
			}
			return f
		},
		states: make(map[string]*deviceState),
	}
}

// SetTrainFunc replaces the model training backend. Call before first use.
func (d *AdaptiveDetector) SetTrainFunc(fn TrainFunc) {
	d.train = fn
}

func (d *AdaptiveDetector) stateFor(deviceID string) *deviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[deviceID]
	if !ok {
		st = &deviceState{}
		d.states[deviceID] = st
	}
	return st
}

// Check evaluates one value against the device's learned model. The history
// slice is ordered newest first; only the most recent HistoryLimit entries
// feed training. Below the warm-up size the result is inactive and neutral.
//
// The model is (re)trained when none exists yet or when the history size
// reaches a multiple of RetrainEvery. Only this device's subsequent checks
// wait on a retrain. Once the history is pegged at HistoryLimit (a multiple
// of RetrainEvery), the size test holds on every check and the model
// retrains per reading; results stay deterministic since training is
// seeded, but the retrain cost becomes part of every check at the cap.
func (d *AdaptiveDetector) Check(deviceID string, value float64, history []float64) AdaptiveResult {
	if len(history) > d.cfg.HistoryLimit {
		history = history[:d.cfg.HistoryLimit]
	}
	if len(history) < d.cfg.Warmup {
		return AdaptiveResult{Active: false}
	}

	st := d.stateFor(deviceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.model == nil || len(history)%d.cfg.RetrainEvery == 0 {
		start := time.Now()
		st.model = d.train(history, d.cfg.Forest)
		metrics.RecordRetrain(time.Since(start))
	}
	if st.model == nil {
		return AdaptiveResult{Active: false}
	}

	outlier, raw := st.model.Score(value)
	confidence := math.Min(1.0, math.Abs(raw)/0.5)

	return AdaptiveResult{
		Anomaly:    outlier,
		Confidence: confidence,
		Active:     true,
	}
}

// Reset drops a device's model, forcing a retrain on its next active check.
func (d *AdaptiveDetector) Reset(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, deviceID)
}
