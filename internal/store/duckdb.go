// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/trustgate-io/trustgate/internal/config"
	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
)

// DuckDB is the persistent Store backed by an embedded DuckDB database.
type DuckDB struct {
	conn *sql.DB
}

// schema creates all tables on startup. Readings and trust records draw
// their IDs from sequences; alerts and access logs carry UUIDs generated in
// the application.
const schema = `
CREATE SEQUENCE IF NOT EXISTS seq_device_data START 1;
CREATE SEQUENCE IF NOT EXISTS seq_trust_scores START 1;

CREATE TABLE IF NOT EXISTS devices (
    device_id     VARCHAR PRIMARY KEY,
    device_type   VARCHAR NOT NULL,
    location      VARCHAR,
    registered_at TIMESTAMP NOT NULL,
    is_active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS device_data (
    id          BIGINT PRIMARY KEY DEFAULT nextval('seq_device_data'),
    device_id   VARCHAR NOT NULL,
    value       DOUBLE NOT NULL,
    unit        VARCHAR,
    is_anomaly  BOOLEAN NOT NULL DEFAULT FALSE,
    received_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_scores (
    id           BIGINT PRIMARY KEY DEFAULT nextval('seq_trust_scores'),
    device_id    VARCHAR NOT NULL,
    score        DOUBLE NOT NULL,
    access_level VARCHAR NOT NULL,
    computed_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    id         VARCHAR PRIMARY KEY,
    device_id  VARCHAR NOT NULL,
    alert_type VARCHAR NOT NULL,
    message    VARCHAR,
    severity   VARCHAR NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS access_logs (
    id          VARCHAR PRIMARY KEY,
    device_id   VARCHAR NOT NULL,
    action      VARCHAR NOT NULL,
    reason      VARCHAR,
    trust_score DOUBLE NOT NULL,
    logged_at   TIMESTAMP NOT NULL
);
`

// NewDuckDB opens (or creates) the database file and initializes the schema.
func NewDuckDB(cfg *config.DatabaseConfig) (*DuckDB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// The data directory may not exist on first boot.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("database opened")
	return &DuckDB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DuckDB) Close() error {
	return d.conn.Close()
}

// UpsertDevice implements Store. Re-registering a device keeps the original
// registration timestamp and reactivates it.
func (d *DuckDB) UpsertDevice(ctx context.Context, device models.Device) error {
	start := time.Now()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO devices (device_id, device_type, location, registered_at, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		ON CONFLICT (device_id) DO UPDATE SET is_active = TRUE`,
		device.DeviceID, device.DeviceType, device.Location, device.RegisteredAt)
	metrics.RecordDBQuery("upsert", "devices", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", device.DeviceID, err)
	}
	return nil
}

// GetDevice implements Store. Returns (nil, nil) for an unknown device.
func (d *DuckDB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	start := time.Now()
	row := d.conn.QueryRowContext(ctx, `
		SELECT device_id, device_type, location, registered_at, is_active
		FROM devices WHERE device_id = ?`, deviceID)

	var dev models.Device
	err := row.Scan(&dev.DeviceID, &dev.DeviceType, &dev.Location, &dev.RegisteredAt, &dev.IsActive)
	metrics.RecordDBQuery("select", "devices", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device %s: %w", deviceID, err)
	}
	return &dev, nil
}

// ListDevices implements Store: every device joined with its latest trust
// record (or the implicit default when none exists) and last reading time.
func (d *DuckDB) ListDevices(ctx context.Context) ([]models.DeviceStatus, error) {
	start := time.Now()
	rows, err := d.conn.QueryContext(ctx, `
		SELECT d.device_id, d.device_type, d.location,
		       COALESCE(t.score, ?), COALESCE(t.access_level, ?),
		       r.last_seen
		FROM devices d
		LEFT JOIN (
		    SELECT device_id, score, access_level,
		           ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY id DESC) AS rn
		    FROM trust_scores
		) t ON t.device_id = d.device_id AND t.rn = 1
		LEFT JOIN (
		    SELECT device_id, MAX(received_at) AS last_seen
		    FROM device_data GROUP BY device_id
		) r ON r.device_id = d.device_id
		ORDER BY d.device_id`,
		models.TrustInitialScore, string(models.AccessFull))
	metrics.RecordDBQuery("select", "devices", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var statuses []models.DeviceStatus
	for rows.Next() {
		var s models.DeviceStatus
		var level string
		var lastSeen sql.NullTime
		if err := rows.Scan(&s.DeviceID, &s.DeviceType, &s.Location, &s.TrustScore, &level, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device status: %w", err)
		}
		s.AccessLevel = models.AccessLevel(level)
		if lastSeen.Valid {
			t := lastSeen.Time
			s.LastSeen = &t
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// AppendReading implements Store.
func (d *DuckDB) AppendReading(ctx context.Context, reading models.Reading) error {
	start := time.Now()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO device_data (device_id, value, unit, is_anomaly, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		reading.DeviceID, reading.Value, reading.Unit, reading.IsAnomaly, reading.ReceivedAt)
	metrics.RecordDBQuery("insert", "device_data", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("appending reading for %s: %w", reading.DeviceID, err)
	}
	return nil
}

// RecentReadings implements Store, newest first.
func (d *DuckDB) RecentReadings(ctx context.Context, deviceID string, limit int) ([]models.Reading, error) {
	start := time.Now()
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, device_id, value, unit, is_anomaly, received_at
		FROM device_data WHERE device_id = ?
		ORDER BY id DESC LIMIT ?`, deviceID, limit)
	metrics.RecordDBQuery("select", "device_data", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var unit sql.NullString
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Value, &unit, &r.IsAnomaly, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r.Unit = unit.String
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// AppendTrustRecord implements Store.
func (d *DuckDB) AppendTrustRecord(ctx context.Context, record models.TrustScoreRecord) error {
	start := time.Now()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO trust_scores (device_id, score, access_level, computed_at)
		VALUES (?, ?, ?, ?)`,
		record.DeviceID, record.Score, string(record.AccessLevel), record.ComputedAt)
	metrics.RecordDBQuery("insert", "trust_scores", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("appending trust record for %s: %w", record.DeviceID, err)
	}
	return nil
}

// LatestTrustRecord implements Store. Returns (nil, nil) when the device has
// no trust history yet.
func (d *DuckDB) LatestTrustRecord(ctx context.Context, deviceID string) (*models.TrustScoreRecord, error) {
	start := time.Now()
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, device_id, score, access_level, computed_at
		FROM trust_scores WHERE device_id = ?
		ORDER BY id DESC LIMIT 1`, deviceID)

	var rec models.TrustScoreRecord
	var level string
	err := row.Scan(&rec.ID, &rec.DeviceID, &rec.Score, &level, &rec.ComputedAt)
	metrics.RecordDBQuery("select", "trust_scores", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest trust record for %s: %w", deviceID, err)
	}
	rec.AccessLevel = models.AccessLevel(level)
	return &rec, nil
}

// TrustHistory implements Store, newest first.
func (d *DuckDB) TrustHistory(ctx context.Context, deviceID string, limit int) ([]models.TrustScoreRecord, error) {
	start := time.Now()
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, device_id, score, access_level, computed_at
		FROM trust_scores WHERE device_id = ?
		ORDER BY id DESC LIMIT ?`, deviceID, limit)
	metrics.RecordDBQuery("select", "trust_scores", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("reading trust history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var records []models.TrustScoreRecord
	for rows.Next() {
		var rec models.TrustScoreRecord
		var level string
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Score, &level, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("scanning trust record: %w", err)
		}
		rec.AccessLevel = models.AccessLevel(level)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendAlert implements Store. Missing IDs and timestamps are filled in.
func (d *DuckDB) AppendAlert(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO alerts (id, device_id, alert_type, message, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.DeviceID, string(alert.Type), alert.Message, string(alert.Severity), alert.CreatedAt)
	metrics.RecordDBQuery("insert", "alerts", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("appending alert for %s: %w", alert.DeviceID, err)
	}
	return nil
}

// ListAlerts implements Store, newest first.
func (d *DuckDB) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	start := time.Now()
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, device_id, alert_type, message, severity, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	metrics.RecordDBQuery("select", "alerts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var typ, sev string
		if err := rows.Scan(&a.ID, &a.DeviceID, &typ, &a.Message, &sev, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Type = models.AlertType(typ)
		a.Severity = models.AlertSeverity(sev)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AppendAccessLog implements Store. Missing IDs and timestamps are filled in.
func (d *DuckDB) AppendAccessLog(ctx context.Context, entry models.AccessLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO access_logs (id, device_id, action, reason, trust_score, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, string(entry.Action), entry.Reason, entry.TrustScore, entry.LoggedAt)
	metrics.RecordDBQuery("insert", "access_logs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("appending access log for %s: %w", entry.DeviceID, err)
	}
	return nil
}

// ListAccessLogs implements Store, newest first.
func (d *DuckDB) ListAccessLogs(ctx context.Context, limit int) ([]models.AccessLog, error) {
	start := time.Now()
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, device_id, action, reason, trust_score, logged_at
		FROM access_logs ORDER BY logged_at DESC LIMIT ?`, limit)
	metrics.RecordDBQuery("select", "access_logs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("listing access logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AccessLog
	for rows.Next() {
		var l models.AccessLog
		var action string
		var reason sql.NullString
		if err := rows.Scan(&l.ID, &l.DeviceID, &action, &reason, &l.TrustScore, &l.LoggedAt); err != nil {
			return nil, fmt.Errorf("scanning access log: %w", err)
		}
		l.Action = models.AccessAction(action)
		l.Reason = reason.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
