// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package pipeline orchestrates the policy decision for each incoming
// reading: rate limit, credential check, persistence, anomaly detection,
// trust transition, tier branch. The order is fixed; trust state is mutated
// at most once per reading, and only after auth and persistence succeed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/trustgate-io/trustgate/internal/auth"
	"github.com/trustgate-io/trustgate/internal/detection"
	"github.com/trustgate-io/trustgate/internal/events"
	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
	"github.com/trustgate-io/trustgate/internal/ratelimit"
	"github.com/trustgate-io/trustgate/internal/store"
	"github.com/trustgate-io/trustgate/internal/trust"
)

// Decision statuses returned by Ingest. Stable API values.
const (
	StatusAllowed     = "allowed"
	StatusReadOnly    = "read_only"
	StatusQuarantined = "quarantined"
	StatusDenied      = "denied"
	StatusRateLimited = "rate_limited"
)

// Denial reason codes.
const (
	ReasonInvalidCredential = "invalid_credential"
	ReasonIdentityMismatch  = "identity_mismatch"
	ReasonUnknownDevice     = "unknown_device"
)

// ErrPersistence marks a transient storage failure. The reading was not
// scored and trust state was not touched; the caller may retry.
var ErrPersistence = errors.New("persistence unavailable")

// historyFetch bounds the history read feeding both detector layers. It
// matches the adaptive layer's window, the larger of the two.
const historyFetch = 200

// deviceLocks serializes the persist-detect-score sequence per device so a
// single device's readings are processed in arrival order. Power of two.
const deviceLocks = 64

// IngestRequest is one reading submitted for a policy decision.
type IngestRequest struct {
	DeviceID      string
	Value         float64
	Unit          string
	CallerAnomaly bool
	Token         string
}

// Decision is the outcome of one ingest.
type Decision struct {
	Status      string             `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	TrustScore  float64            `json:"trust_score"`
	AccessLevel models.AccessLevel `json:"access_level"`
	Verdict     *detection.Verdict `json:"verdict,omitempty"`
}

// Gateway wires the policy components together.
type Gateway struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	detector *detection.Engine
	trust    *trust.Engine
	tokens   *auth.TokenManager
	bus      *events.Bus
	breaker  *gobreaker.CircuitBreaker[any]
	timeout  time.Duration

	locks [deviceLocks]sync.Mutex
}

// New creates a gateway. Store writes on the ingest path run through a
// circuit breaker so a wedged database sheds load fast instead of stacking
// up blocked requests. timeout bounds each ingest's store and detector work
// with a request-scoped deadline; zero disables the deadline.
func New(st store.Store, limiter *ratelimit.Limiter, detector *detection.Engine, trustEngine *trust.Engine, tokens *auth.TokenManager, bus *events.Bus, timeout time.Duration) *Gateway {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "store-writes",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Gateway{
		store:    st,
		limiter:  limiter,
		detector: detector,
		trust:    trustEngine,
		tokens:   tokens,
		bus:      bus,
		breaker:  breaker,
		timeout:  timeout,
	}
}

func (g *Gateway) lockFor(deviceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return &g.locks[h.Sum32()%deviceLocks]
}

// Register creates (or reactivates) a device and issues a fresh credential.
// Idempotent: re-registering an existing ID keeps one device record and
// simply mints another valid token.
func (g *Gateway) Register(ctx context.Context, deviceID, deviceType, location string) (string, error) {
	device := models.Device{
		DeviceID:     deviceID,
		DeviceType:   deviceType,
		Location:     location,
		RegisteredAt: time.Now().UTC(),
	}
	if err := g.store.UpsertDevice(ctx, device); err != nil {
		return "", fmt.Errorf("registering device: %w", err)
	}

	token, err := g.tokens.Issue(deviceID, deviceType)
	if err != nil {
		return "", fmt.Errorf("issuing credential: %w", err)
	}

	logging.Info().
		Str("device_id", deviceID).
		Str("device_type", deviceType).
		Msg("device registered")
	return token, nil
}

// Ingest runs the full policy pipeline for one reading.
//
// A non-nil error is returned only for transient infrastructure failures
// (wrapped ErrPersistence); every policy outcome, including denials, is a
// Decision with a nil error. A hung store or detector hits the
// request-scoped deadline and surfaces on the same transient path.
func (g *Gateway) Ingest(ctx context.Context, req IngestRequest) (Decision, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	decision, err := g.ingest(ctx, req)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.IngestTotal.WithLabelValues("error").Inc()
	case decision.Status == StatusRateLimited:
		metrics.IngestTotal.WithLabelValues("rate_limited").Inc()
	case decision.Status == StatusDenied:
		metrics.IngestTotal.WithLabelValues("auth_failed").Inc()
	case decision.Status == StatusQuarantined:
		metrics.IngestTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.IngestTotal.WithLabelValues("accepted").Inc()
	}
	return decision, err
}

func (g *Gateway) ingest(ctx context.Context, req IngestRequest) (Decision, error) {
	// 1. Rate limiter. The admit check needs the current trust score since
	// blocking only engages below the quarantine threshold. Rejections
	// never touch trust state.
	current, err := g.trust.Current(ctx, req.DeviceID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	admit := g.limiter.Admit(req.DeviceID, current.Score, time.Now())
	if !admit.Allowed {
		if admit.NewlyBlocked {
			g.emitAlert(models.Alert{
				DeviceID: req.DeviceID,
				Type:     models.AlertTypeRateLimit,
				Severity: models.SeverityHigh,
				Message:  fmt.Sprintf("device %s blocked: rate limit exceeded", req.DeviceID),
			})
		}
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionDenied,
			Reason:     admit.Reason,
			TrustScore: current.Score,
		})
		return Decision{
			Status:      StatusRateLimited,
			Reason:      admit.Reason,
			TrustScore:  current.Score,
			AccessLevel: current.AccessLevel,
		}, nil
	}

	// 2. Credential verification and identity match. Denials are logged
	// with trust score zero and never mutate trust state.
	if _, err := g.tokens.ValidateFor(req.Token, req.DeviceID); err != nil {
		reason := ReasonInvalidCredential
		if errors.Is(err, auth.ErrDeviceMismatch) {
			reason = ReasonIdentityMismatch
		}
		logging.Warn().
			Str("device_id", req.DeviceID).
			Str("reason", reason).
			Err(err).
			Msg("credential rejected")
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionDenied,
			Reason:     reason,
			TrustScore: 0,
		})
		return Decision{Status: StatusDenied, Reason: reason}, nil
	}

	dev, err := g.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if dev == nil {
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionDenied,
			Reason:     ReasonUnknownDevice,
			TrustScore: 0,
		})
		return Decision{Status: StatusDenied, Reason: ReasonUnknownDevice}, nil
	}

	// Steps 3-6 run under the device lock so one device's readings are
	// scored in arrival order with no lost updates.
	mu := g.lockFor(req.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	// 3. Persist the raw reading. Failure propagates as a transient error
	// before any trust mutation, preserving at-most-one mutation per
	// reading.
	_, err = g.breaker.Execute(func() (any, error) {
		return nil, g.store.AppendReading(ctx, models.Reading{
			DeviceID:   req.DeviceID,
			Value:      req.Value,
			Unit:       req.Unit,
			IsAnomaly:  req.CallerAnomaly,
			ReceivedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues("store-writes", breakerResult(err)).Inc()
		return Decision{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues("store-writes", "success").Inc()

	// History is read after the persist so the most-recent window includes
	// the reading being judged.
	history, err := g.store.RecentReadings(ctx, req.DeviceID, historyFetch)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	values := make([]float64, len(history))
	for i, r := range history {
		values[i] = r.Value
	}

	// 4-5. Detect and combine; the caller's own anomaly assertion ORs in.
	verdict := g.detector.Analyze(ctx, req.DeviceID, req.Value, values)
	finalAnomaly := req.CallerAnomaly || verdict.Anomaly

	// 6. Trust transition, exactly once.
	record, err := g.trust.Apply(ctx, req.DeviceID, finalAnomaly)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// 7. Tier branch and side effects.
	return g.decide(req, record, verdict, finalAnomaly), nil
}

// decide maps the post-transition trust state to the final decision and
// emits the tier's alert and audit events.
func (g *Gateway) decide(req IngestRequest, record models.TrustScoreRecord, verdict detection.Verdict, finalAnomaly bool) Decision {
	decision := Decision{
		TrustScore:  record.Score,
		AccessLevel: record.AccessLevel,
		Verdict:     &verdict,
	}

	switch record.AccessLevel {
	case models.AccessQuarantine:
		decision.Status = StatusQuarantined
		g.emitAlert(models.Alert{
			DeviceID: req.DeviceID,
			Type:     models.AlertTypeQuarantine,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("device %s quarantined at trust score %.1f", req.DeviceID, record.Score),
		})
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionQuarantined,
			Reason:     verdict.Reason,
			TrustScore: record.Score,
		})

	case models.AccessReadOnly:
		decision.Status = StatusReadOnly
		if finalAnomaly {
			g.emitAlert(models.Alert{
				DeviceID: req.DeviceID,
				Type:     models.AlertTypeAnomaly,
				Severity: models.SeverityMedium,
				Message:  fmt.Sprintf("anomaly on read-only device %s (%s)", req.DeviceID, verdict.Method),
			})
		}
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionAllowed,
			TrustScore: record.Score,
		})

	default:
		decision.Status = StatusAllowed
		if finalAnomaly {
			g.emitAlert(models.Alert{
				DeviceID: req.DeviceID,
				Type:     models.AlertTypeAnomaly,
				Severity: models.SeverityLow,
				Message:  fmt.Sprintf("anomaly on trusted device %s (%s)", req.DeviceID, verdict.Method),
			})
		}
		g.emitAccessLog(models.AccessLog{
			DeviceID:   req.DeviceID,
			Action:     models.ActionAllowed,
			TrustScore: record.Score,
		})
	}

	logging.Info().
		Str("device_id", req.DeviceID).
		Str("status", decision.Status).
		Float64("trust_score", record.Score).
		Str("access_level", string(record.AccessLevel)).
		Bool("anomaly", finalAnomaly).
		Msg("policy decision")

	return decision
}

func (g *Gateway) emitAlert(alert models.Alert) {
	if err := g.bus.PublishAlert(alert); err != nil {
		logging.Error().Err(err).Str("device_id", alert.DeviceID).Msg("failed to publish alert")
	}
}

func (g *Gateway) emitAccessLog(entry models.AccessLog) {
	if err := g.bus.PublishAccessLog(entry); err != nil {
		logging.Error().Err(err).Str("device_id", entry.DeviceID).Msg("failed to publish access log")
	}
}

func breakerResult(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "rejected"
	}
	return "failure"
}
