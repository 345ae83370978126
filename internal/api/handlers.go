// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/pipeline"
	"github.com/trustgate-io/trustgate/internal/ratelimit"
	"github.com/trustgate-io/trustgate/internal/store"
	"github.com/trustgate-io/trustgate/internal/trust"
	"github.com/trustgate-io/trustgate/internal/validation"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler exposes the gateway over HTTP.
type Handler struct {
	gateway *pipeline.Gateway
	store   store.Store
	limiter *ratelimit.Limiter
	trust   *trust.Engine
}

// NewHandler creates the HTTP handler set.
func NewHandler(gateway *pipeline.Gateway, st store.Store, limiter *ratelimit.Limiter, trustEngine *trust.Engine) *Handler {
	return &Handler{
		gateway: gateway,
		store:   st,
		limiter: limiter,
		trust:   trustEngine,
	}
}

// Register handles POST /api/v1/auth/register. Registration is idempotent:
// re-registering an existing device issues a fresh credential.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, apiErr.Message, apiErr.Details)
		return
	}

	token, err := h.gateway.Register(r.Context(), req.DeviceID, req.DeviceType, req.Location)
	if err != nil {
		logging.Error().Err(err).Str("device_id", req.DeviceID).Msg("device registration failed")
		rw.ServiceUnavailable("registration temporarily unavailable")
		return
	}

	rw.Created(RegisterResponse{DeviceID: req.DeviceID, Token: token})
}

// Ingest handles POST /api/v1/data/ingest. The policy outcome is always a
// 2xx/4xx with a decision payload; only infrastructure failures map to 5xx.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	token, ok := bearerToken(r)
	if !ok {
		rw.Unauthorized("missing bearer token")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, apiErr.Message, apiErr.Details)
		return
	}

	decision, err := h.gateway.Ingest(r.Context(), pipeline.IngestRequest{
		DeviceID:      req.DeviceID,
		Value:         req.Value,
		Unit:          req.Unit,
		CallerAnomaly: req.IsAnomaly,
		Token:         token,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrPersistence) {
			rw.ServiceUnavailable("storage temporarily unavailable")
			return
		}
		logging.Error().Err(err).Str("device_id", req.DeviceID).Msg("ingest failed")
		rw.InternalError("ingest failed")
		return
	}

	rw.writeJSON(statusCodeFor(decision), APIResponse{
		Success: decision.Status != pipeline.StatusDenied && decision.Status != pipeline.StatusRateLimited,
		Data:    decision,
		Meta:    rw.meta(),
	})
}

// statusCodeFor maps a policy decision to an HTTP status. Quarantined and
// read-only outcomes are successful ingests with reduced access, not errors.
func statusCodeFor(d pipeline.Decision) int {
	switch d.Status {
	case pipeline.StatusRateLimited:
		return http.StatusTooManyRequests
	case pipeline.StatusDenied:
		if d.Reason == pipeline.ReasonUnknownDevice {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	default:
		return http.StatusOK
	}
}

// ListDevices handles GET /api/v1/devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to list devices")
		rw.InternalError("failed to list devices")
		return
	}

	rw.Success(map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// TrustHistory handles GET /api/v1/trust/{deviceID}.
func (h *Handler) TrustHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deviceID := chi.URLParam(r, "deviceID")
	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		logging.Error().Err(err).Str("device_id", deviceID).Msg("failed to load device")
		rw.InternalError("failed to load device")
		return
	}
	if device == nil {
		rw.NotFound("unknown device")
		return
	}

	current, err := h.trust.Current(r.Context(), deviceID)
	if err != nil {
		logging.Error().Err(err).Str("device_id", deviceID).Msg("failed to load trust state")
		rw.InternalError("failed to load trust state")
		return
	}

	history, err := h.store.TrustHistory(r.Context(), deviceID, listLimit(r))
	if err != nil {
		logging.Error().Err(err).Str("device_id", deviceID).Msg("failed to load trust history")
		rw.InternalError("failed to load trust history")
		return
	}

	rw.Success(map[string]interface{}{
		"device_id":    deviceID,
		"trust_score":  current.Score,
		"access_level": current.AccessLevel,
		"history":      history,
	})
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	alerts, err := h.store.ListAlerts(r.Context(), listLimit(r))
	if err != nil {
		logging.Error().Err(err).Msg("failed to list alerts")
		rw.InternalError("failed to list alerts")
		return
	}

	rw.Success(map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ListAccessLogs handles GET /api/v1/logs.
func (h *Handler) ListAccessLogs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	logs, err := h.store.ListAccessLogs(r.Context(), listLimit(r))
	if err != nil {
		logging.Error().Err(err).Msg("failed to list access logs")
		rw.InternalError("failed to list access logs")
		return
	}

	rw.Success(map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// Status handles GET /api/v1/status with a gateway-wide summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to load gateway status")
		rw.InternalError("failed to load gateway status")
		return
	}

	tiers := map[string]int{}
	for _, d := range devices {
		tiers[string(d.AccessLevel)]++
	}

	rw.Success(map[string]interface{}{
		"device_count":    len(devices),
		"devices_by_tier": tiers,
		"blocked_devices": h.limiter.BlockedDevices(),
	})
}

// Healthz handles GET /healthz for liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
