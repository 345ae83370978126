// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package ratelimit implements the per-device sliding-window request limiter
// and its sticky blocked set. It is the first gate on the ingest path.
//
// Blocking is gated on trust: only devices below the quarantine threshold can
// be blocked for flooding. A trusted device exceeding the window is admitted
// unpenalized. This asymmetry is deliberate policy, not an oversight, and the
// tests pin it.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
)

// Rejection reason codes. These are stable API values.
const (
	ReasonAlreadyBlocked    = "already_blocked"
	ReasonRateLimitExceeded = "rate_limit_exceeded"
)

// shardCount trades lock contention for memory. Power of two.
const shardCount = 32

// Decision is the outcome of an admit check.
type Decision struct {
	Allowed bool

	// Reason is set on rejection: ReasonAlreadyBlocked or
	// ReasonRateLimitExceeded.
	Reason string

	// NewlyBlocked is true on the rejection that moved the device into the
	// blocked set. The caller raises the high-severity alert exactly once,
	// on this transition.
	NewlyBlocked bool
}

// Limiter tracks request timestamps per device in a sliding window and keeps
// a sticky blocked set. Devices are sharded so that concurrent admits for
// different devices do not contend on one lock.
//
// The blocked set has no expiry. There is no unblock path for the process
// lifetime; operators restart the gateway to clear it. See Unblock for the
// administrative escape hatch.
type Limiter struct {
	window      time.Duration
	maxRequests int
	shards      [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	blocked map[string]struct{}
}

// New creates a limiter with the given window length and per-window request
// budget.
func New(window time.Duration, maxRequests int) *Limiter {
	l := &Limiter{
		window:      window,
		maxRequests: maxRequests,
	}
	for i := range l.shards {
		l.shards[i] = &shard{
			windows: make(map[string][]time.Time),
			blocked: make(map[string]struct{}),
		}
	}
	return l
}

func (l *Limiter) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return l.shards[h.Sum32()%shardCount]
}

// Admit records a request for the device at time now and decides whether it
// passes the flood gate.
//
// A blocked device is rejected immediately with no state change. Otherwise
// the device's window is pruned to entries within the window length of now
// and the request appended. If the device's trust score is below the
// quarantine threshold and the window now exceeds the budget, the device
// enters the sticky blocked set and the request is rejected.
func (l *Limiter) Admit(deviceID string, trustScore float64, now time.Time) Decision {
	s := l.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocked[deviceID]; ok {
		metrics.RateLimitRejections.WithLabelValues(ReasonAlreadyBlocked).Inc()
		return Decision{Allowed: false, Reason: ReasonAlreadyBlocked}
	}

	cutoff := now.Add(-l.window)
	win := s.windows[deviceID]

	// Prune in place. Timestamps arrive in order, so the first kept index
	// bounds the scan.
	kept := win[:0]
	for _, t := range win {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.windows[deviceID] = kept

	if trustScore < models.TrustQuarantine && len(kept) > l.maxRequests {
		s.blocked[deviceID] = struct{}{}
		delete(s.windows, deviceID)
		metrics.RateLimitRejections.WithLabelValues(ReasonRateLimitExceeded).Inc()
		metrics.RateLimitBlockedDevices.Inc()
		return Decision{Allowed: false, Reason: ReasonRateLimitExceeded, NewlyBlocked: true}
	}

	return Decision{Allowed: true}
}

// IsBlocked reports whether the device is in the sticky blocked set.
func (l *Limiter) IsBlocked(deviceID string) bool {
	s := l.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[deviceID]
	return ok
}

// Unblock removes a device from the blocked set. The core flow never calls
// this; it exists for operator intervention only.
func (l *Limiter) Unblock(deviceID string) bool {
	s := l.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[deviceID]; !ok {
		return false
	}
	delete(s.blocked, deviceID)
	metrics.RateLimitBlockedDevices.Dec()
	return true
}

// BlockedDevices returns a snapshot of all blocked device IDs.
func (l *Limiter) BlockedDevices() []string {
	var ids []string
	for _, s := range l.shards {
		s.mu.Lock()
		for id := range s.blocked {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	return ids
}
