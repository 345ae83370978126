// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import "math"

// Layer weights for the combined confidence. The adaptive layer is weighted
// higher because it models the device's own behavior rather than a generic
// distribution assumption.
const (
	statWeight     = 0.4
	adaptiveWeight = 0.6
)

// penaltyScale maps combined confidence to a trust penalty.
const penaltyScale = 20.0

// Combine merges the two layers into one verdict. The anomaly flag is the OR
// of both layers; the confidence is the weighted sum of both layers'
// confidences and stays in [0,1] whenever the inputs do. The diagnostic
// reason always comes from the statistical layer since the adaptive layer
// has none.
func Combine(stat StatResult, adaptive AdaptiveResult) Verdict {
	anomaly := stat.Anomaly || adaptive.Anomaly
	confidence := statWeight*stat.Confidence + adaptiveWeight*adaptive.Confidence

	var method string
	switch {
	case stat.Anomaly && adaptive.Anomaly:
		method = MethodBothLayers
	case stat.Anomaly:
		method = MethodZScore
	case adaptive.Anomaly:
		method = MethodIsolationForest
	default:
		method = MethodNone
	}

	var penalty float64
	if anomaly {
		penalty = math.Round(confidence*penaltyScale*10) / 10
	}

	return Verdict{
		Anomaly:      anomaly,
		Confidence:   confidence,
		Method:       method,
		Reason:       stat.Reason,
		TrustPenalty: penalty,
	}
}
