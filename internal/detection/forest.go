// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package detection

import (
	"math"
	"math/rand"
	"sort"
)

// ForestConfig configures isolation forest training.
type ForestConfig struct {
	// Trees is the ensemble size.
	Trees int

	// SubsampleSize bounds the per-tree training sample. Zero selects the
	// conventional 256.
	SubsampleSize int

	// Contamination is the expected fraction of outliers in the training
	// data. It positions the decision offset at that quantile of the
	// training scores.
	Contamination float64

	// Seed fixes the RNG so training is deterministic for a given history.
	Seed int64
}

// DefaultForestConfig returns the standard forest settings.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		SubsampleSize: 256,
		Contamination: 0.10,
		Seed:          42,
	}
}

// forestNode is one node of an isolation tree. Leaves carry the size of the
// training subset that reached them for the path-length correction.
type forestNode struct {
	split       float64
	left, right *forestNode
	size        int
}

// Forest is a trained isolation forest over a single numeric feature. It is
// immutable after training and safe for concurrent Score calls.
type Forest struct {
	trees  []*forestNode
	cn     float64 // average path length normalizer c(n)
	offset float64 // decision boundary: contamination quantile of training scores
}

// TrainForest builds an isolation forest from the history sample. Training
// is deterministic for a fixed config and history. Returns nil if the
// history is too small to isolate anything.
func TrainForest(history []float64, cfg ForestConfig) *Forest {
	if len(history) < 2 {
		return nil
	}

	sub := cfg.SubsampleSize
	if sub <= 0 {
		sub = 256
	}
	if sub > len(history) {
		sub = len(history)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	maxDepth := int(math.Ceil(math.Log2(float64(sub))))

	f := &Forest{
		trees: make([]*forestNode, cfg.Trees),
		cn:    avgPathLength(sub),
	}

	for i := range f.trees {
		sample := make([]float64, sub)
		for j := range sample {
			sample[j] = history[rng.Intn(len(history))]
		}
		f.trees[i] = buildTree(sample, 0, maxDepth, rng)
	}

	// Position the decision boundary so that the configured fraction of the
	// training data scores below it.
	scores := make([]float64, len(history))
	for i, v := range history {
		scores[i] = f.scoreSample(v)
	}
	sort.Float64s(scores)
	idx := int(cfg.Contamination * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.offset = scores[idx]

	return f
}

// Score implements Model. The raw score is the value's anomaly score minus
// the decision offset; negative means outlier, and its magnitude scales the
// caller's confidence.
func (f *Forest) Score(value float64) (bool, float64) {
	raw := f.scoreSample(value) - f.offset
	return raw < 0, raw
}

// scoreSample returns the negated anomaly score in (-1, 0). More negative
// means more isolated.
func (f *Forest) scoreSample(value float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, value, 0)
	}
	avg := total / float64(len(f.trees))
	return -math.Pow(2, -avg/f.cn)
}

func buildTree(sample []float64, depth, maxDepth int, rng *rand.Rand) *forestNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &forestNode{size: len(sample)}
	}

	lo, hi := sample[0], sample[0]
	for _, v := range sample[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &forestNode{size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range sample {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &forestNode{
		split: split,
		left:  buildTree(left, depth+1, maxDepth, rng),
		right: buildTree(right, depth+1, maxDepth, rng),
		size:  len(sample),
	}
}

func pathLength(n *forestNode, value float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if value < n.split {
		return pathLength(n.left, value, depth+1)
	}
	return pathLength(n.right, value, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n values. Used both to normalize scores and to credit leaves
// that still hold multiple values.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}
