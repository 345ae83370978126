// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package detection implements the two-layer anomaly detection engine: a
// statistical z-score check that is always available, and an adaptive
// per-device isolation forest that activates after a warm-up history size.
// A combiner merges both layers into a single verdict per reading.
package detection

// Detection methods reported in a combined verdict. Stable API values.
const (
	MethodNone            = "none"
	MethodZScore          = "zscore"
	MethodIsolationForest = "isolation_forest"
	MethodBothLayers      = "both_layers"
)

// Reason codes emitted by the statistical layer for degenerate inputs.
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonZeroVariance        = "zero_variance"
)

// StatResult is the outcome of the statistical layer for one reading.
type StatResult struct {
	Anomaly    bool
	Confidence float64
	Reason     string
}

// AdaptiveResult is the outcome of the adaptive layer for one reading.
// Active is false while the device's history is below the warm-up size; an
// inactive result is a neutral non-anomaly, not an error.
type AdaptiveResult struct {
	Anomaly    bool
	Confidence float64
	Active     bool
}

// Verdict is the combined verdict for one reading. TrustPenalty is the score
// deduction the trust engine would apply if the verdict were acted on; it is
// derived, not persisted.
type Verdict struct {
	Anomaly      bool    `json:"is_anomaly"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"`
	Reason       string  `json:"reason,omitempty"`
	TrustPenalty float64 `json:"trust_penalty"`
}

// Model scores single values for outlierness. Implementations are immutable
// once trained; retraining replaces the model wholesale.
type Model interface {
	// Score returns whether the value is an outlier and the raw decision
	// score. Negative raw scores indicate outliers; the magnitude feeds the
	// confidence calculation.
	Score(value float64) (outlier bool, raw float64)
}
