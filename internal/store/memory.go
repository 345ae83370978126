// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustgate-io/trustgate/internal/models"
)

// Memory is an in-memory Store used by tests and the load simulator. It
// mirrors the DuckDB backend's semantics, including newest-first ordering.
type Memory struct {
	mu           sync.RWMutex
	devices      map[string]models.Device
	readings     map[string][]models.Reading
	trustRecords map[string][]models.TrustScoreRecord
	alerts       []models.Alert
	accessLogs   []models.AccessLog
	nextReading  int64
	nextTrust    int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:      make(map[string]models.Device),
		readings:     make(map[string][]models.Reading),
		trustRecords: make(map[string][]models.TrustScoreRecord),
	}
}

// UpsertDevice implements Store.
func (m *Memory) UpsertDevice(_ context.Context, device models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.devices[device.DeviceID]; ok {
		existing.IsActive = true
		m.devices[device.DeviceID] = existing
		return nil
	}
	device.IsActive = true
	m.devices[device.DeviceID] = device
	return nil
}

// GetDevice implements Store.
func (m *Memory) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &dev, nil
}

// ListDevices implements Store.
func (m *Memory) ListDevices(_ context.Context) ([]models.DeviceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]models.DeviceStatus, 0, len(m.devices))
	for id, dev := range m.devices {
		s := models.DeviceStatus{
			DeviceID:    id,
			DeviceType:  dev.DeviceType,
			Location:    dev.Location,
			TrustScore:  models.TrustInitialScore,
			AccessLevel: models.AccessFull,
		}
		if recs := m.trustRecords[id]; len(recs) > 0 {
			latest := recs[len(recs)-1]
			s.TrustScore = latest.Score
			s.AccessLevel = latest.AccessLevel
		}
		if reads := m.readings[id]; len(reads) > 0 {
			t := reads[len(reads)-1].ReceivedAt
			s.LastSeen = &t
		}
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].DeviceID < statuses[j].DeviceID })
	return statuses, nil
}

// AppendReading implements Store.
func (m *Memory) AppendReading(_ context.Context, reading models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReading++
	reading.ID = m.nextReading
	m.readings[reading.DeviceID] = append(m.readings[reading.DeviceID], reading)
	return nil
}

// RecentReadings implements Store, newest first.
func (m *Memory) RecentReadings(_ context.Context, deviceID string, limit int) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.readings[deviceID]
	n := len(all)
	if limit > n {
		limit = n
	}
	out := make([]models.Reading, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// AppendTrustRecord implements Store.
func (m *Memory) AppendTrustRecord(_ context.Context, record models.TrustScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTrust++
	record.ID = m.nextTrust
	m.trustRecords[record.DeviceID] = append(m.trustRecords[record.DeviceID], record)
	return nil
}

// LatestTrustRecord implements Store.
func (m *Memory) LatestTrustRecord(_ context.Context, deviceID string) (*models.TrustScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.trustRecords[deviceID]
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

// TrustHistory implements Store, newest first.
func (m *Memory) TrustHistory(_ context.Context, deviceID string, limit int) ([]models.TrustScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.trustRecords[deviceID]
	n := len(all)
	if limit > n {
		limit = n
	}
	out := make([]models.TrustScoreRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// AppendAlert implements Store.
func (m *Memory) AppendAlert(_ context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// ListAlerts implements Store, newest first.
func (m *Memory) ListAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.alerts)
	if limit > n {
		limit = n
	}
	out := make([]models.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

// AppendAccessLog implements Store.
func (m *Memory) AppendAccessLog(_ context.Context, entry models.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	m.accessLogs = append(m.accessLogs, entry)
	return nil
}

// ListAccessLogs implements Store, newest first.
func (m *Memory) ListAccessLogs(_ context.Context, limit int) ([]models.AccessLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.accessLogs)
	if limit > n {
		limit = n
	}
	out := make([]models.AccessLog, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.accessLogs[i])
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// Compile-time interface checks.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*DuckDB)(nil)
)
