// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package main simulates an IoT fleet against a running gateway.
//
// Each simulated device registers itself, obtains a credential and then
// submits readings on its own schedule. A configurable fraction of readings
// is drawn from the device profile's anomaly range and self-reported as
// anomalous, which exercises the gateway's detection layers and trust
// scoring end to end.
//
// Usage:
//
//	simulator -gateway http://localhost:8443 -interval 3s -anomaly-prob 0.08
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/trustgate-io/trustgate/internal/logging"
)

// profile describes one device type's value distribution.
type profile struct {
	unit         string
	normalRange  [2]float64
	anomalyRange [2]float64
	discrete     bool
}

var profiles = map[string]profile{
	"temperature_sensor": {unit: "celsius", normalRange: [2]float64{18, 35}, anomalyRange: [2]float64{80, 150}},
	"smart_lock":         {unit: "status", normalRange: [2]float64{0, 1}, anomalyRange: [2]float64{0, 1}, discrete: true},
	"humidity_sensor":    {unit: "percent_rh", normalRange: [2]float64{30, 70}, anomalyRange: [2]float64{95, 100}},
	"motion_detector":    {unit: "events", normalRange: [2]float64{0, 3}, anomalyRange: [2]float64{20, 50}},
	"smart_camera":       {unit: "fps", normalRange: [2]float64{24, 30}, anomalyRange: [2]float64{0, 1}},
}

var fleet = []struct {
	id, deviceType, location string
}{
	{"DEV_TEMP_01", "temperature_sensor", "Server Room A"},
	{"DEV_TEMP_02", "temperature_sensor", "Server Room B"},
	{"DEV_LOCK_01", "smart_lock", "Main Entrance"},
	{"DEV_LOCK_02", "smart_lock", "Back Door"},
	{"DEV_HUM_01", "humidity_sensor", "Data Center"},
	{"DEV_MOTION_01", "motion_detector", "Corridor 1"},
	{"DEV_MOTION_02", "motion_detector", "Parking Lot"},
	{"DEV_CAM_01", "smart_camera", "Main Lobby"},
}

type registerRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Location   string `json:"location"`
}

type ingestRequest struct {
	DeviceID  string  `json:"device_id"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	IsAnomaly bool    `json:"is_anomaly"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type decisionPayload struct {
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	TrustScore  float64 `json:"trust_score"`
	AccessLevel string  `json:"access_level"`
}

type registerPayload struct {
	Token string `json:"token"`
}

// device drives one simulated sensor.
type device struct {
	id         string
	deviceType string
	location   string
	profile    profile

	gateway     string
	client      *http.Client
	pacer       *rate.Limiter
	anomalyProb float64
	rng         *rand.Rand

	token string

	sent     int
	accepted int
	rejected int
}

func (d *device) run(ctx context.Context) {
	for d.token == "" {
		if err := d.register(ctx); err != nil {
			logging.Warn().Err(err).Str("device_id", d.id).Msg("Registration failed, retrying")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
	}

	for {
		if err := d.pacer.Wait(ctx); err != nil {
			return
		}

		if d.token == "" {
			if err := d.register(ctx); err != nil {
				logging.Warn().Err(err).Str("device_id", d.id).Msg("Re-registration failed")
				continue
			}
		}
		d.send(ctx)
	}
}

func (d *device) register(ctx context.Context) error {
	body, err := json.Marshal(registerRequest{
		DeviceID:   d.id,
		DeviceType: d.deviceType,
		Location:   d.location,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gateway+"/api/v1/auth/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	var payload registerPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return err
	}
	if payload.Token == "" {
		return fmt.Errorf("register returned empty token")
	}

	d.token = payload.Token
	logging.Info().Str("device_id", d.id).Msg("Registered")
	return nil
}

// reading draws one value, anomalous with the configured probability.
func (d *device) reading() (float64, bool) {
	anomalous := d.rng.Float64() < d.anomalyProb

	r := d.profile.normalRange
	if anomalous {
		r = d.profile.anomalyRange
	}

	if d.profile.discrete {
		return float64(d.rng.Intn(2)), anomalous
	}
	value := r[0] + d.rng.Float64()*(r[1]-r[0])
	return float64(int(value*100)) / 100, anomalous
}

func (d *device) send(ctx context.Context) {
	value, anomalous := d.reading()

	body, err := json.Marshal(ingestRequest{
		DeviceID:  d.id,
		Value:     value,
		Unit:      d.profile.unit,
		IsAnomaly: anomalous,
	})
	if err != nil {
		logging.Error().Err(err).Str("device_id", d.id).Msg("Encode failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gateway+"/api/v1/data/ingest", bytes.NewReader(body))
	if err != nil {
		logging.Error().Err(err).Str("device_id", d.id).Msg("Request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Str("device_id", d.id).Msg("Gateway not reachable")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	d.sent++

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		logging.Warn().Err(err).Str("device_id", d.id).Int("status", resp.StatusCode).Msg("Unreadable response")
		return
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var dec decisionPayload
		if err := json.Unmarshal(env.Data, &dec); err != nil {
			logging.Warn().Err(err).Str("device_id", d.id).Msg("Unreadable decision")
			return
		}
		d.accepted++
		logging.Info().
			Str("device_id", d.id).
			Float64("value", value).
			Str("unit", d.profile.unit).
			Float64("trust", dec.TrustScore).
			Str("access", dec.AccessLevel).
			Str("status", dec.Status).
			Bool("anomaly_injected", anomalous).
			Msg("Reading accepted")

	case http.StatusUnauthorized:
		logging.Info().Str("device_id", d.id).Msg("Credential rejected, re-authenticating")
		d.token = ""
		d.rejected++

	case http.StatusTooManyRequests:
		logging.Warn().Str("device_id", d.id).Msg("Rate limited")
		d.rejected++

	case http.StatusForbidden:
		logging.Warn().Str("device_id", d.id).Msg("Access denied by policy")
		d.rejected++

	default:
		logging.Warn().Str("device_id", d.id).Int("status", resp.StatusCode).Msg("Unexpected response")
		d.rejected++
	}
}

func main() {
	gateway := flag.String("gateway", "http://localhost:8443", "gateway base URL")
	interval := flag.Duration("interval", 3*time.Second, "mean interval between readings per device")
	anomalyProb := flag.Float64("anomaly-prob", 0.08, "probability a reading is drawn from the anomaly range")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	logging.Init(logging.DefaultConfig())
	logging.Info().
		Str("gateway", *gateway).
		Dur("interval", *interval).
		Float64("anomaly_prob", *anomalyProb).
		Int("devices", len(fleet)).
		Msg("Starting device simulator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info().Msg("Stopping all devices")
		cancel()
	}()

	client := &http.Client{Timeout: 5 * time.Second}

	var wg sync.WaitGroup
	devices := make([]*device, 0, len(fleet))
	for i, entry := range fleet {
		prof, ok := profiles[entry.deviceType]
		if !ok {
			logging.Fatal().Str("device_type", entry.deviceType).Msg("No profile for device type")
		}

		dev := &device{
			id:          entry.id,
			deviceType:  entry.deviceType,
			location:    entry.location,
			profile:     prof,
			gateway:     *gateway,
			client:      client,
			pacer:       rate.NewLimiter(rate.Every(*interval), 1),
			anomalyProb: *anomalyProb,
			rng:         rand.New(rand.NewSource(*seed + int64(i))),
		}

		devices = append(devices, dev)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev.run(ctx)
		}()

		// Stagger startup so registrations do not arrive as one burst.
		time.Sleep(200 * time.Millisecond)
	}

	wg.Wait()

	// Counters are read only after every device goroutine has returned.
	for _, dev := range devices {
		logging.Info().
			Str("device_id", dev.id).
			Int("sent", dev.sent).
			Int("accepted", dev.accepted).
			Int("rejected", dev.rejected).
			Msg("Device summary")
	}
	logging.Info().Msg("All devices stopped")
}
