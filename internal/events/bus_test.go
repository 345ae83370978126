// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/trustgate-io/trustgate/internal/models"
)

func TestBusPublishAlertRoundTrip(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicAlerts)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	want := models.Alert{
		ID:       "a-1",
		DeviceID: "dev-1",
		Type:     models.AlertTypeRateLimit,
		Severity: models.SeverityHigh,
		Message:  "device blocked",
	}
	if err := bus.PublishAlert(want); err != nil {
		t.Fatalf("PublishAlert() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var got models.Alert
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshaling payload: %v", err)
		}
		msg.Ack()
		if got.DeviceID != want.DeviceID || got.Type != want.Type || got.Severity != want.Severity {
			t.Errorf("received %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for alert event")
	}
}

// recordingStore collects persisted events for assertions.
type recordingStore struct {
	mu     sync.Mutex
	alerts []models.Alert
	logs   []models.AccessLog
}

func (s *recordingStore) AppendAlert(_ context.Context, alert models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *recordingStore) AppendAccessLog(_ context.Context, entry models.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *recordingStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts), len(s.logs)
}

func TestPersisterWritesBothTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	store := &recordingStore{}
	p := NewPersister(bus, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Serve(ctx)
	}()

	// Subscriptions are registered synchronously inside Serve before the
	// loop, but give the goroutine a moment to get there.
	time.Sleep(50 * time.Millisecond)

	if err := bus.PublishAlert(models.Alert{DeviceID: "dev-1", Type: models.AlertTypeAnomaly, Severity: models.SeverityLow}); err != nil {
		t.Fatalf("PublishAlert() error = %v", err)
	}
	if err := bus.PublishAccessLog(models.AccessLog{DeviceID: "dev-1", Action: models.ActionAllowed}); err != nil {
		t.Fatalf("PublishAccessLog() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		alerts, logs := store.counts()
		if alerts == 1 && logs == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("persisted %d alerts and %d logs, want 1 and 1", alerts, logs)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("persister did not stop on context cancel")
	}
}
