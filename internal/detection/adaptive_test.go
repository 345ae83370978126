// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"sync"
	"testing"
)

// scriptedModel returns fixed scores, for exercising the cache logic without
// real training.
type scriptedModel struct {
	outlier bool
	raw     float64
}

func (m *scriptedModel) Score(float64) (bool, float64) {
	return m.outlier, m.raw
}

// countingTrainer counts train invocations per call.
type countingTrainer struct {
	mu    sync.Mutex
	calls int
	model Model
}

func (c *countingTrainer) train(history []float64, cfg ForestConfig) Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.model
}

func (c *countingTrainer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestAdaptiveInactiveBeforeWarmup(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	trainer := &countingTrainer{model: &scriptedModel{}}
	d.SetTrainFunc(trainer.train)

	res := d.Check("dev-1", 20, constantHistory(20, 49))
	if res.Active {
		t.Error("active = true below warm-up size")
	}
	if res.Anomaly || res.Confidence != 0 {
		t.Errorf("inactive result = %+v, want neutral", res)
	}
	if trainer.count() != 0 {
		t.Errorf("train calls = %d before warm-up, want 0", trainer.count())
	}
}

func TestAdaptiveTrainsOnFirstActiveCheck(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	trainer := &countingTrainer{model: &scriptedModel{outlier: true, raw: -0.25}}
	d.SetTrainFunc(trainer.train)

	res := d.Check("dev-1", 99, constantHistory(20, 51))
	if !res.Active {
		t.Fatal("active = false at warm-up size")
	}
	if trainer.count() != 1 {
		t.Errorf("train calls = %d, want 1", trainer.count())
	}
	if !res.Anomaly {
		t.Error("scripted outlier not reported")
	}
	if res.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 (|-0.25|/0.5)", res.Confidence)
	}
}

func TestAdaptiveRetrainSchedule(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	trainer := &countingTrainer{model: &scriptedModel{}}
	d.SetTrainFunc(trainer.train)

	// First active check trains (size 51, model absent).
	d.Check("dev-1", 20, constantHistory(20, 51))
	if trainer.count() != 1 {
		t.Fatalf("train calls = %d after first check, want 1", trainer.count())
	}

	// Sizes 52..99 reuse the model.
	for n := 52; n < 100; n++ {
		d.Check("dev-1", 20, constantHistory(20, n))
	}
	if trainer.count() != 1 {
		t.Errorf("train calls = %d between retrain points, want 1", trainer.count())
	}

	// Size 100 is a multiple of RetrainEvery and retrains.
	d.Check("dev-1", 20, constantHistory(20, 100))
	if trainer.count() != 2 {
		t.Errorf("train calls = %d at retrain point, want 2", trainer.count())
	}
}

func TestAdaptiveConfidenceClamped(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	d.SetTrainFunc(func([]float64, ForestConfig) Model {
		return &scriptedModel{outlier: true, raw: -3.0}
	})

	res := d.Check("dev-1", 99, constantHistory(20, 60))
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", res.Confidence)
	}
}

func TestAdaptiveDevicesIndependent(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	trainer := &countingTrainer{model: &scriptedModel{}}
	d.SetTrainFunc(trainer.train)

	d.Check("dev-a", 20, constantHistory(20, 60))
	d.Check("dev-b", 20, constantHistory(20, 60))

	// Each device trains its own model.
	if trainer.count() != 2 {
		t.Errorf("train calls = %d for two devices, want 2", trainer.count())
	}
}

func TestAdaptiveReset(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	trainer := &countingTrainer{model: &scriptedModel{}}
	d.SetTrainFunc(trainer.train)

	d.Check("dev-1", 20, constantHistory(20, 51))
	d.Reset("dev-1")
	d.Check("dev-1", 20, constantHistory(20, 51))

	if trainer.count() != 2 {
		t.Errorf("train calls = %d after reset, want 2", trainer.count())
	}
}

func TestAdaptiveEndToEndWithForest(t *testing.T) {
	d := NewAdaptiveDetector(DefaultAdaptiveConfig())
	history := gaussianHistory(120, 20, 1, 9)

	normal := d.Check("dev-1", 20, history)
	if !normal.Active {
		t.Fatal("detector inactive with sufficient history")
	}
	if normal.Anomaly {
		t.Error("distribution center flagged as anomaly")
	}

	extreme := d.Check("dev-1", 90, history)
	if !extreme.Anomaly {
		t.Error("extreme value not flagged as anomaly")
	}
	if extreme.Confidence <= 0 || extreme.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0, 1]", extreme.Confidence)
	}
}
