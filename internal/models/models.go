// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package models defines the core domain types shared across Trustgate:
// devices, telemetry readings, trust score records, alerts, and access logs.
package models

import (
	"time"
)

// AccessLevel is the access tier derived from a device's trust score.
type AccessLevel string

const (
	// AccessFull grants unrestricted ingestion (score >= 70).
	AccessFull AccessLevel = "full"

	// AccessReadOnly restricts the device to read-only operations (40 <= score < 70).
	AccessReadOnly AccessLevel = "read_only"

	// AccessQuarantine is the most restrictive tier (score < 40). Readings are
	// still accepted for scoring but normal access is denied.
	AccessQuarantine AccessLevel = "quarantine"
)

// Trust score tier thresholds. The tier is a pure function of the score;
// there is no hysteresis between consecutive readings.
const (
	TrustFullAccess    = 70.0
	TrustQuarantine    = 40.0
	TrustInitialScore  = 100.0
	TrustAnomalyDelta  = -15.0
	TrustRecoveryDelta = 2.0
)

// LevelForScore maps a trust score to its access tier.
// Boundaries are exact: 70.0 is full, 39.9 is quarantine.
func LevelForScore(score float64) AccessLevel {
	switch {
	case score >= TrustFullAccess:
		return AccessFull
	case score >= TrustQuarantine:
		return AccessReadOnly
	default:
		return AccessQuarantine
	}
}

// ClampScore bounds a trust score to the valid [0,100] range.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Device is a registered telemetry source. Devices are created on first
// registration (idempotent upsert) and never deleted in normal operation.
type Device struct {
	DeviceID     string    `json:"device_id"`
	DeviceType   string    `json:"device_type"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
	IsActive     bool      `json:"is_active"`
}

// Reading is a single immutable telemetry sample. Readings are append-only
// and ordered by arrival per device.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	IsAnomaly  bool      `json:"is_anomaly"`
	ReceivedAt time.Time `json:"received_at"`
}

// TrustScoreRecord is one point in a device's append-only trust time series.
// The current trust state of a device is its most recent record; a device
// with no records is at (100, full).
type TrustScoreRecord struct {
	ID          int64       `json:"id"`
	DeviceID    string      `json:"device_id"`
	Score       float64     `json:"score"`
	AccessLevel AccessLevel `json:"access_level"`
	ComputedAt  time.Time   `json:"computed_at"`
}

// DefaultTrustRecord returns the implicit trust state for a device that has
// no recorded history yet.
func DefaultTrustRecord(deviceID string) TrustScoreRecord {
	return TrustScoreRecord{
		DeviceID:    deviceID,
		Score:       TrustInitialScore,
		AccessLevel: AccessFull,
	}
}

// AlertSeverity grades alerts raised by the policy pipeline.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// AlertType categorizes alerts.
type AlertType string

const (
	AlertTypeRateLimit  AlertType = "rate_limit"
	AlertTypeAnomaly    AlertType = "anomaly"
	AlertTypeQuarantine AlertType = "quarantine"
)

// Alert is a security alert raised against a device.
type Alert struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Type      AlertType     `json:"alert_type"`
	Message   string        `json:"message"`
	Severity  AlertSeverity `json:"severity"`
	CreatedAt time.Time     `json:"created_at"`
}

// AccessAction is the recorded outcome of one ingest attempt.
type AccessAction string

const (
	ActionAllowed     AccessAction = "allowed"
	ActionQuarantined AccessAction = "quarantined"
	ActionDenied      AccessAction = "denied"
)

// AccessLog records a single access decision for audit purposes.
type AccessLog struct {
	ID         string       `json:"id"`
	DeviceID   string       `json:"device_id"`
	Action     AccessAction `json:"action"`
	Reason     string       `json:"reason,omitempty"`
	TrustScore float64      `json:"trust_score"`
	LoggedAt   time.Time    `json:"logged_at"`
}

// DeviceStatus is the read-only projection of a device joined with its
// latest trust state, served by the device listing endpoint.
type DeviceStatus struct {
	DeviceID    string      `json:"device_id"`
	DeviceType  string      `json:"device_type"`
	Location    string      `json:"location"`
	TrustScore  float64     `json:"trust_score"`
	AccessLevel AccessLevel `json:"access_level"`
	LastSeen    *time.Time  `json:"last_seen,omitempty"`
}
