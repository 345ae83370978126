// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"context"
	"testing"
)

func newTestEngine() *Engine {
	return NewEngine(
		NewStatDetector(DefaultStatConfig()),
		NewAdaptiveDetector(DefaultAdaptiveConfig()),
	)
}

func TestEngineAnalyzeMatchesLayerResults(t *testing.T) {
	engine := newTestEngine()
	history := gaussianHistory(120, 20, 1, 13)

	got := engine.Analyze(context.Background(), "dev-1", 20, history)

	stat := NewStatDetector(DefaultStatConfig()).Check(20, history)
	adaptive := NewAdaptiveDetector(DefaultAdaptiveConfig()).Check("dev-1", 20, history)
	want := Combine(stat, adaptive)

	if got.Anomaly != want.Anomaly || got.Method != want.Method {
		t.Errorf("Analyze() = %+v, want %+v", got, want)
	}
}

func TestEngineAnalyzeShortHistory(t *testing.T) {
	engine := newTestEngine()

	v := engine.Analyze(context.Background(), "dev-1", 20, constantHistory(20, 5))
	if v.Anomaly {
		t.Error("anomaly flagged with near-empty history")
	}
	if v.Method != MethodNone {
		t.Errorf("method = %q, want %q", v.Method, MethodNone)
	}
	if v.Reason != ReasonInsufficientHistory {
		t.Errorf("reason = %q, want %q", v.Reason, ReasonInsufficientHistory)
	}
}

func TestEngineAnalyzeCanceledContextDegradesAdaptive(t *testing.T) {
	stat := NewStatDetector(DefaultStatConfig())
	adaptive := NewAdaptiveDetector(DefaultAdaptiveConfig())

	release := make(chan struct{})
	adaptive.SetTrainFunc(func([]float64, ForestConfig) Model {
		<-release
		return &scriptedModel{outlier: true, raw: -0.5}
	})
	defer close(release)

	engine := NewEngine(stat, adaptive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The adaptive layer is stuck in training; the canceled context must
	// let the verdict through with the adaptive layer treated as inactive.
	v := engine.Analyze(ctx, "dev-1", 20, constantHistory(20, 60))
	if v.Method == MethodIsolationForest || v.Method == MethodBothLayers {
		t.Errorf("method = %q, adaptive layer should have been dropped", v.Method)
	}
}

func TestEngineAnalyzeDetectsInjectedSpike(t *testing.T) {
	engine := newTestEngine()
	history := gaussianHistory(150, 22, 0.8, 17)

	v := engine.Analyze(context.Background(), "dev-1", 95, history)
	if !v.Anomaly {
		t.Fatal("spike far outside history not flagged")
	}
	if v.Confidence <= 0 || v.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0, 1]", v.Confidence)
	}
	if v.TrustPenalty <= 0 {
		t.Errorf("trust penalty = %v, want positive", v.TrustPenalty)
	}
}
