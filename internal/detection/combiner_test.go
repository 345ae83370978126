// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"math"
	"testing"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		name        string
		stat        StatResult
		adaptive    AdaptiveResult
		wantAnomaly bool
		wantMethod  string
		wantConf    float64
		wantPenalty float64
	}{
		{
			name:        "neither layer fires",
			stat:        StatResult{Reason: "z=0.10 mean=20.00 stddev=1.00"},
			adaptive:    AdaptiveResult{Active: true},
			wantAnomaly: false,
			wantMethod:  MethodNone,
			wantConf:    0,
			wantPenalty: 0,
		},
		{
			name:        "statistical only",
			stat:        StatResult{Anomaly: true, Confidence: 0.8},
			adaptive:    AdaptiveResult{Active: true, Confidence: 0.1},
			wantAnomaly: true,
			wantMethod:  MethodZScore,
			wantConf:    0.4*0.8 + 0.6*0.1,
			wantPenalty: 7.6, // round((0.32+0.06)*20, 1)
		},
		{
			name:        "adaptive only",
			stat:        StatResult{Confidence: 0.2},
			adaptive:    AdaptiveResult{Active: true, Anomaly: true, Confidence: 0.9},
			wantAnomaly: true,
			wantMethod:  MethodIsolationForest,
			wantConf:    0.4*0.2 + 0.6*0.9,
			wantPenalty: 12.4,
		},
		{
			name:        "both layers",
			stat:        StatResult{Anomaly: true, Confidence: 1.0},
			adaptive:    AdaptiveResult{Active: true, Anomaly: true, Confidence: 1.0},
			wantAnomaly: true,
			wantMethod:  MethodBothLayers,
			wantConf:    1.0,
			wantPenalty: 20.0,
		},
		{
			name:        "inactive adaptive contributes nothing",
			stat:        StatResult{Anomaly: true, Confidence: 0.6},
			adaptive:    AdaptiveResult{},
			wantAnomaly: true,
			wantMethod:  MethodZScore,
			wantConf:    0.24,
			wantPenalty: 4.8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Combine(tt.stat, tt.adaptive)
			if v.Anomaly != tt.wantAnomaly {
				t.Errorf("anomaly = %v, want %v", v.Anomaly, tt.wantAnomaly)
			}
			if v.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", v.Method, tt.wantMethod)
			}
			if math.Abs(v.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", v.Confidence, tt.wantConf)
			}
			if math.Abs(v.TrustPenalty-tt.wantPenalty) > 1e-9 {
				t.Errorf("trust penalty = %v, want %v", v.TrustPenalty, tt.wantPenalty)
			}
		})
	}
}

func TestCombineReasonComesFromStatLayer(t *testing.T) {
	v := Combine(
		StatResult{Anomaly: true, Confidence: 0.7, Reason: "z=3.50 mean=20.00 stddev=1.00"},
		AdaptiveResult{Active: true, Anomaly: true, Confidence: 0.5},
	)
	if v.Reason != "z=3.50 mean=20.00 stddev=1.00" {
		t.Errorf("reason = %q, want the statistical layer's diagnostics", v.Reason)
	}
}

// Combined confidence stays in [0,1] for any pair of per-layer confidences
// in [0,1]. The weights sum to 1, so a grid sweep pins the property.
func TestCombineConfidenceBounded(t *testing.T) {
	for sc := 0.0; sc <= 1.0; sc += 0.05 {
		for ac := 0.0; ac <= 1.0; ac += 0.05 {
			v := Combine(
				StatResult{Anomaly: true, Confidence: sc},
				AdaptiveResult{Active: true, Anomaly: true, Confidence: ac},
			)
			if v.Confidence < 0 || v.Confidence > 1 {
				t.Fatalf("confidence(%v, %v) = %v, out of [0,1]", sc, ac, v.Confidence)
			}
		}
	}
}
