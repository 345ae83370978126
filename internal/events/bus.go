// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package events decouples the policy pipeline from its audit and alerting
// side effects. The pipeline publishes structured events onto an in-process
// Watermill bus; a supervised persister subscribes and writes them to the
// history store. Publishing never blocks the decision path on storage.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/trustgate-io/trustgate/internal/metrics"
	"github.com/trustgate-io/trustgate/internal/models"
)

// Topics carried by the bus.
const (
	TopicAlerts = "trustgate.alerts"
	TopicAudit  = "trustgate.audit"
)

// Bus is the in-process pub/sub fabric. Messages are buffered so a slow
// persister does not stall ingest; the buffer bound keeps memory use fixed.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            1024,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: false,
			},
			NewLoggerAdapter(),
		),
	}
}

// PublishAlert publishes a security alert.
func (b *Bus) PublishAlert(alert models.Alert) error {
	return b.publish(TopicAlerts, alert)
}

// PublishAccessLog publishes an audit entry.
func (b *Bus) PublishAccessLog(entry models.AccessLog) error {
	return b.publish(TopicAudit, entry)
}

func (b *Bus) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe returns the message channel for a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down. In-flight messages are dropped.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
