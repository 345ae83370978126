// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"math/rand"
	"testing"
)

// gaussianHistory returns n values around mean with the given spread,
// deterministic for a fixed seed.
func gaussianHistory(n int, mean, spread float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	h := make([]float64, n)
	for i := range h {
		h[i] = mean + rng.NormFloat64()*spread
	}
	return h
}

func TestTrainForestTooSmall(t *testing.T) {
	if f := TrainForest(nil, DefaultForestConfig()); f != nil {
		t.Error("expected nil forest for empty history")
	}
	if f := TrainForest([]float64{1}, DefaultForestConfig()); f != nil {
		t.Error("expected nil forest for single-value history")
	}
}

func TestForestSeparatesOutliers(t *testing.T) {
	history := gaussianHistory(200, 20, 1, 7)
	f := TrainForest(history, DefaultForestConfig())
	if f == nil {
		t.Fatal("TrainForest returned nil")
	}

	// A value far outside the training distribution must be flagged.
	outlier, raw := f.Score(80)
	if !outlier {
		t.Errorf("Score(80) = (%v, %v), want outlier", outlier, raw)
	}
	if raw >= 0 {
		t.Errorf("Score(80) raw = %v, want negative", raw)
	}

	// The bulk of the training distribution must not be flagged.
	inlier, _ := f.Score(20)
	if inlier {
		t.Error("Score(20) flagged the distribution center as outlier")
	}
}

func TestForestDeterministicTraining(t *testing.T) {
	history := gaussianHistory(150, 50, 5, 11)
	cfg := DefaultForestConfig()

	a := TrainForest(history, cfg)
	b := TrainForest(history, cfg)

	for _, v := range []float64{0, 25, 50, 75, 200} {
		aOut, aRaw := a.Score(v)
		bOut, bRaw := b.Score(v)
		if aOut != bOut || aRaw != bRaw {
			t.Errorf("Score(%v) differs between identically trained forests: (%v,%v) vs (%v,%v)",
				v, aOut, aRaw, bOut, bRaw)
		}
	}
}

func TestForestContaminationBoundsInlierFlags(t *testing.T) {
	history := gaussianHistory(500, 20, 1, 3)
	f := TrainForest(history, DefaultForestConfig())

	flagged := 0
	for _, v := range history {
		if out, _ := f.Score(v); out {
			flagged++
		}
	}

	// The offset sits at the contamination quantile of the training scores,
	// so roughly 10% of the training data scores below it.
	frac := float64(flagged) / float64(len(history))
	if frac > 0.2 {
		t.Errorf("flagged %.0f%% of training data, want about 10%%", frac*100)
	}
}

func TestForestRawScoreRange(t *testing.T) {
	history := gaussianHistory(100, 0, 1, 5)
	f := TrainForest(history, DefaultForestConfig())

	for _, v := range []float64{-1000, -1, 0, 1, 1000} {
		_, raw := f.Score(v)
		// scoreSample is in (-1, 0) and the offset is too, so the decision
		// score stays within (-1, 1).
		if raw <= -1 || raw >= 1 {
			t.Errorf("Score(%v) raw = %v, want within (-1, 1)", v, raw)
		}
	}
}
