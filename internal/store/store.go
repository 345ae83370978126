// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package store persists devices, readings, trust history, alerts and access
// logs. The production backend is DuckDB; an in-memory backend backs tests
// and the load simulator.
package store

import (
	"context"

	"github.com/trustgate-io/trustgate/internal/models"
)

// Store is the history store consumed by the policy pipeline and the
// read-only API projections. All reading and trust sequences are append-only;
// devices are the only upserted entity.
type Store interface {
	// UpsertDevice registers a device or touches an existing one. Repeat
	// registrations of the same ID are a no-op besides activation.
	UpsertDevice(ctx context.Context, device models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)

	// ListDevices returns every device joined with its latest trust state.
	ListDevices(ctx context.Context) ([]models.DeviceStatus, error)

	AppendReading(ctx context.Context, reading models.Reading) error

	// RecentReadings returns up to limit readings for a device, newest first.
	RecentReadings(ctx context.Context, deviceID string, limit int) ([]models.Reading, error)

	AppendTrustRecord(ctx context.Context, record models.TrustScoreRecord) error
	LatestTrustRecord(ctx context.Context, deviceID string) (*models.TrustScoreRecord, error)

	// TrustHistory returns up to limit trust records for a device, newest first.
	TrustHistory(ctx context.Context, deviceID string, limit int) ([]models.TrustScoreRecord, error)

	AppendAlert(ctx context.Context, alert models.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)

	AppendAccessLog(ctx context.Context, entry models.AccessLog) error
	ListAccessLogs(ctx context.Context, limit int) ([]models.AccessLog, error)

	Close() error
}
