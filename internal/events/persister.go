// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/trustgate-io/trustgate/internal/logging"
	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
)

// PersistStore is the slice of the history store the persister writes to.
type PersistStore interface {
	AppendAlert(ctx context.Context, alert models.Alert) error
	AppendAccessLog(ctx context.Context, entry models.AccessLog) error
}

// Persister consumes alert and audit events from the bus and writes them to
// the history store. It runs as a supervised service; Serve blocks until the
// context is canceled.
//
// A failed write is logged and the message dropped rather than retried: the
// decision that produced it has already been returned to the caller, and
// audit persistence is best-effort by design.
type Persister struct {
	bus   *Bus
	store PersistStore
}

// NewPersister creates a persister over the given bus and store.
func NewPersister(bus *Bus, store PersistStore) *Persister {
	return &Persister{bus: bus, store: store}
}

// Serve implements suture.Service.
func (p *Persister) Serve(ctx context.Context) error {
	alerts, err := p.bus.Subscribe(ctx, TopicAlerts)
	if err != nil {
		return err
	}
	audit, err := p.bus.Subscribe(ctx, TopicAudit)
	if err != nil {
		return err
	}

	logging.Info().Msg("event persister started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-alerts:
			if !ok {
				return nil
			}
			p.handleAlert(ctx, msg)
		case msg, ok := <-audit:
			if !ok {
				return nil
			}
			p.handleAccessLog(ctx, msg)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Persister) String() string {
	return "event-persister"
}

func (p *Persister) handleAlert(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var alert models.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("dropping unparseable alert event")
		metrics.EventsProcessed.WithLabelValues(TopicAlerts, "failure").Inc()
		return
	}

	if err := p.store.AppendAlert(ctx, alert); err != nil {
		logging.Error().Err(err).
			Str("device_id", alert.DeviceID).
			Str("alert_type", string(alert.Type)).
			Msg("failed to persist alert")
		metrics.EventsProcessed.WithLabelValues(TopicAlerts, "failure").Inc()
		return
	}

	metrics.EventsProcessed.WithLabelValues(TopicAlerts, "success").Inc()
	metrics.RecordAlert(string(alert.Type), string(alert.Severity))
}

func (p *Persister) handleAccessLog(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var entry models.AccessLog
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("dropping unparseable audit event")
		metrics.EventsProcessed.WithLabelValues(TopicAudit, "failure").Inc()
		return
	}

	if err := p.store.AppendAccessLog(ctx, entry); err != nil {
		logging.Error().Err(err).
			Str("device_id", entry.DeviceID).
			Str("action", string(entry.Action)).
			Msg("failed to persist access log")
		metrics.EventsProcessed.WithLabelValues(TopicAudit, "failure").Inc()
		return
	}

	metrics.EventsProcessed.WithLabelValues(TopicAudit, "success").Inc()
}
