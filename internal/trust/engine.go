// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package trust maintains per-device trust scores. The score is a running
// float in [0,100]; the access tier is a pure function of the score. Every
// transition appends an immutable record to the device's trust history.
package trust

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
)

// RecordStore is the slice of the history store the trust engine needs.
type RecordStore interface {
	LatestTrustRecord(ctx context.Context, deviceID string) (*models.TrustScoreRecord, error)
	AppendTrustRecord(ctx context.Context, record models.TrustScoreRecord) error
}

// lockShards bounds the keyed-lock table. Power of two.
const lockShards = 64

// Engine applies trust transitions. The get-latest-then-append sequence is
// atomic per device: concurrent readings from the same identity serialize on
// a keyed lock, while different devices proceed in parallel.
type Engine struct {
	store RecordStore
	locks [lockShards]sync.Mutex
}

// NewEngine creates a trust engine over the given record store.
func NewEngine(store RecordStore) *Engine {
	return &Engine{store: store}
}

func (e *Engine) lockFor(deviceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return &e.locks[h.Sum32()%lockShards]
}

// Current returns the device's current trust state: its most recent record,
// or the implicit default (score 100, full access) if none exists.
func (e *Engine) Current(ctx context.Context, deviceID string) (models.TrustScoreRecord, error) {
	rec, err := e.store.LatestTrustRecord(ctx, deviceID)
	if err != nil {
		return models.TrustScoreRecord{}, fmt.Errorf("reading latest trust record: %w", err)
	}
	if rec == nil {
		return models.DefaultTrustRecord(deviceID), nil
	}
	return *rec, nil
}

// Apply transitions the device's trust score for one reading: a penalty on
// an anomalous reading, a small recovery otherwise. The new record is
// appended to the device's history and returned.
//
// Apply holds the device's lock across read, compute and append so that
// concurrent readings from one device cannot lose updates. It must be called
// at most once per reading; callers on failed paths (rate limit, auth,
// persistence) skip it entirely.
func (e *Engine) Apply(ctx context.Context, deviceID string, anomaly bool) (models.TrustScoreRecord, error) {
	mu := e.lockFor(deviceID)
	mu.Lock()
	defer mu.Unlock()

	current, err := e.Current(ctx, deviceID)
	if err != nil {
		return models.TrustScoreRecord{}, err
	}

	delta := models.TrustRecoveryDelta
	if anomaly {
		delta = models.TrustAnomalyDelta
	}

	score := models.ClampScore(current.Score + delta)
	record := models.TrustScoreRecord{
		DeviceID:    deviceID,
		Score:       score,
		AccessLevel: models.LevelForScore(score),
		ComputedAt:  time.Now().UTC(),
	}

	if err := e.store.AppendTrustRecord(ctx, record); err != nil {
		return models.TrustScoreRecord{}, fmt.Errorf("appending trust record: %w", err)
	}

	metrics.RecordTrustTransition(delta)
	if record.AccessLevel != current.AccessLevel {
		metrics.TrustTierDevices.WithLabelValues(string(current.AccessLevel)).Dec()
		metrics.TrustTierDevices.WithLabelValues(string(record.AccessLevel)).Inc()
		logging.Info().
			Str("device_id", deviceID).
			Str("from_tier", string(current.AccessLevel)).
			Str("to_tier", string(record.AccessLevel)).
			Float64("score", score).
			Msg("access tier changed")
	}

	return record, nil
}
