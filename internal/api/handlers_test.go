// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/trustgate-io/trustgate/internal/auth"
	"github.com/trustgate-io/trustgate/internal/config"
	"github.com/trustgate-io/trustgate/internal/detection"
	"github.com/trustgate-io/trustgate/internal/events"
	"github.com/trustgate-io/trustgate/internal/models"
	"github.com/trustgate-io/trustgate/internal/pipeline"
	"github.com/trustgate-io/trustgate/internal/ratelimit"
	"github.com/trustgate-io/trustgate/internal/store"
	"github.com/trustgate-io/trustgate/internal/trust"
)

type testServer struct {
	router http.Handler
	store  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemory()
	tokens, err := auth.NewTokenManager(&config.SecurityConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		TokenTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	detector := detection.NewEngine(
		detection.NewStatDetector(detection.DefaultStatConfig()),
		detection.NewAdaptiveDetector(detection.DefaultAdaptiveConfig()),
	)

	limiter := ratelimit.New(10*time.Second, 5)
	trustEngine := trust.NewEngine(st)
	gateway := pipeline.New(st, limiter, detector, trustEngine, tokens, bus, 5*time.Second)

	handler := NewHandler(gateway, st, limiter, trustEngine)
	cfg := &config.ServerConfig{
		Host:                "127.0.0.1",
		Port:                8443,
		Timeout:             5 * time.Second,
		CORSOrigins:         []string{"*"},
		HTTPRateLimitReqs:   10000,
		HTTPRateLimitWindow: time.Minute,
	}

	return &testServer{router: NewRouter(cfg, handler), store: st}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()

	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data is %T, want map", resp.Data)
	}
	return m
}

// register registers a device through the API and returns its token.
func (ts *testServer) register(t *testing.T, deviceID, deviceType string) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Location:   "warehouse-a",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d\nbody: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	data := dataMap(t, decodeEnvelope(t, rec))
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("register returned empty token")
	}
	return token
}

func TestRegisterEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		DeviceID:   "sensor-001",
		DeviceType: "temperature_sensor",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	data := dataMap(t, resp)
	if data["device_id"] != "sensor-001" {
		t.Errorf("device_id = %v, want sensor-001", data["device_id"])
	}
	if data["token"] == "" {
		t.Error("token is empty")
	}

	device, err := ts.store.GetDevice(context.Background(), "sensor-001")
	if err != nil || device == nil {
		t.Fatalf("GetDevice() = %v, %v; want stored device", device, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing device_id", RegisterRequest{DeviceType: "temperature_sensor"}},
		{"invalid device_id chars", RegisterRequest{DeviceID: "bad id; DROP TABLE", DeviceType: "temperature_sensor"}},
		{"missing device_type", RegisterRequest{DeviceID: "sensor-001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			resp := decodeEnvelope(t, rec)
			if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
				t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeValidationFailed)
			}
		})
	}
}

func TestRegisterMalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngestAllowed(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "sensor-001", "temperature_sensor")

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", token, IngestRequest{
		DeviceID: "sensor-001",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	data := dataMap(t, resp)
	if data["status"] != pipeline.StatusAllowed {
		t.Errorf("status = %v, want %s", data["status"], pipeline.StatusAllowed)
	}
	if data["trust_score"] != 100.0 {
		t.Errorf("trust_score = %v, want 100", data["trust_score"])
	}
	if data["access_level"] != string(models.AccessFull) {
		t.Errorf("access_level = %v, want %s", data["access_level"], models.AccessFull)
	}
}

func TestIngestMissingToken(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sensor-001", "temperature_sensor")

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", "", IngestRequest{
		DeviceID: "sensor-001",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeUnauthorized)
	}
}

func TestIngestInvalidToken(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sensor-001", "temperature_sensor")

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", "not-a-jwt", IngestRequest{
		DeviceID: "sensor-001",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	resp := decodeEnvelope(t, rec)
	if resp.Success {
		t.Error("Success = true, want false")
	}
	data := dataMap(t, resp)
	if data["status"] != pipeline.StatusDenied {
		t.Errorf("status = %v, want %s", data["status"], pipeline.StatusDenied)
	}
	if data["reason"] != pipeline.ReasonInvalidCredential {
		t.Errorf("reason = %v, want %s", data["reason"], pipeline.ReasonInvalidCredential)
	}
}

func TestIngestIdentityMismatch(t *testing.T) {
	ts := newTestServer(t)
	tokenA := ts.register(t, "sensor-a", "temperature_sensor")
	ts.register(t, "sensor-b", "temperature_sensor")

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", tokenA, IngestRequest{
		DeviceID: "sensor-b",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	data := dataMap(t, decodeEnvelope(t, rec))
	if data["reason"] != pipeline.ReasonIdentityMismatch {
		t.Errorf("reason = %v, want %s", data["reason"], pipeline.ReasonIdentityMismatch)
	}
}

func TestIngestUnknownDevice(t *testing.T) {
	ts := newTestServer(t)

	// Register never issues a token for an unstored device, so mint one
	// directly with the same signing secret.
	tokens, err := auth.NewTokenManager(&config.SecurityConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		TokenTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	ghost, err := tokens.Issue("ghost-device", "temperature_sensor")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", ghost, IngestRequest{
		DeviceID: "ghost-device",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusForbidden, rec.Body.String())
	}
	data := dataMap(t, decodeEnvelope(t, rec))
	if data["reason"] != pipeline.ReasonUnknownDevice {
		t.Errorf("reason = %v, want %s", data["reason"], pipeline.ReasonUnknownDevice)
	}
}

func TestIngestRateLimited(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "sensor-001", "temperature_sensor")

	// Seed trust below the quarantine threshold so the per-device limiter
	// engages blocking once the window budget is exceeded.
	err := ts.store.AppendTrustRecord(context.Background(), models.TrustScoreRecord{
		DeviceID:    "sensor-001",
		Score:       20,
		AccessLevel: models.AccessQuarantine,
		ComputedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendTrustRecord() error = %v", err)
	}

	var last *httptest.ResponseRecorder
	for i := 0; i < 7; i++ {
		last = ts.do(t, http.MethodPost, "/api/v1/data/ingest", token, IngestRequest{
			DeviceID: "sensor-001",
			Value:    21.5,
			Unit:     "celsius",
		})
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d\nbody: %s", last.Code, http.StatusTooManyRequests, last.Body.String())
	}
	data := dataMap(t, decodeEnvelope(t, last))
	if data["status"] != pipeline.StatusRateLimited {
		t.Errorf("status = %v, want %s", data["status"], pipeline.StatusRateLimited)
	}
}

func TestListDevicesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sensor-001", "temperature_sensor")
	ts.register(t, "lock-001", "smart_lock")

	rec := ts.do(t, http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data := dataMap(t, decodeEnvelope(t, rec))
	if data["count"] != 2.0 {
		t.Errorf("count = %v, want 2", data["count"])
	}
}

func TestTrustHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "sensor-001", "temperature_sensor")

	rec := ts.do(t, http.MethodPost, "/api/v1/data/ingest", token, IngestRequest{
		DeviceID: "sensor-001",
		Value:    21.5,
		Unit:     "celsius",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/trust/sensor-001", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data := dataMap(t, decodeEnvelope(t, rec))
	if data["device_id"] != "sensor-001" {
		t.Errorf("device_id = %v, want sensor-001", data["device_id"])
	}
	if data["trust_score"] != 100.0 {
		t.Errorf("trust_score = %v, want 100", data["trust_score"])
	}
	history, ok := data["history"].([]interface{})
	if !ok || len(history) != 1 {
		t.Errorf("history = %v, want one record", data["history"])
	}
}

func TestTrustHistoryUnknownDevice(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/trust/nobody", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sensor-001", "temperature_sensor")

	rec := ts.do(t, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data := dataMap(t, decodeEnvelope(t, rec))
	if data["device_count"] != 1.0 {
		t.Errorf("device_count = %v, want 1", data["device_count"])
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestListLimitParsing(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", defaultListLimit},
		{"25", 25},
		{"0", defaultListLimit},
		{"-5", defaultListLimit},
		{"junk", defaultListLimit},
		{"99999", maxListLimit},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit="+tt.raw, nil)
		if got := listLimit(req); got != tt.want {
			t.Errorf("listLimit(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
