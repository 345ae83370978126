// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package api

// RegisterRequest is the request body for device registration.
type RegisterRequest struct {
	DeviceID   string `json:"device_id" validate:"required,device_id"`
	DeviceType string `json:"device_type" validate:"required,min=1,max=64"`
	Location   string `json:"location" validate:"omitempty,max=128"`
}

// RegisterResponse carries the credential issued at registration.
type RegisterResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// IngestRequest is the request body for telemetry ingestion.
type IngestRequest struct {
	DeviceID string  `json:"device_id" validate:"required,device_id"`
	Value    float64 `json:"value" validate:"gte=-1000000,lte=1000000"`
	Unit     string  `json:"unit" validate:"required,min=1,max=32"`

	// IsAnomaly lets edge devices self-report an anomalous reading.
	IsAnomaly bool `json:"is_anomaly"`
}
