/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry maintains device records and standalone telemetry
// readings in the shared KV store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brainlytree/camlink/pkg/kv"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/models"
)

const (
	devicePrefix  = "device."
	readingPrefix = "reading."
	auditPrefix   = "audit."

	codeLength = 8
)

// Registry stores device records. Unknown devices seen on HELLO are
// auto-provisioned with a generated human-readable code and flagged as
// pending mapping until an operator claims them.
type Registry struct {
	store            kv.KVStore
	log              logger.Logger
	now              func() time.Time
	fallbackInterval time.Duration
}

func New(store kv.KVStore, fallbackInterval time.Duration, log logger.Logger) *Registry {
	if fallbackInterval <= 0 {
		fallbackInterval = DefaultWakeInterval
	}

	return &Registry{
		store:            store,
		log:              log.WithComponent("registry"),
		now:              time.Now,
		fallbackInterval: fallbackInterval,
	}
}

// Get fetches a device record; found reports whether it exists.
func (r *Registry) Get(ctx context.Context, deviceID string) (*models.Device, bool, error) {
	raw, found, err := r.store.Get(ctx, deviceKey(deviceID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read device %s: %w", deviceID, err)
	}

	if !found {
		return nil, false, nil
	}

	var dev models.Device
	if err := json.Unmarshal(raw, &dev); err != nil {
		return nil, false, fmt.Errorf("failed to decode device %s: %w", deviceID, err)
	}

	return &dev, true, nil
}

// Provision creates a minimal record for a device seen for the first time.
func (r *Registry) Provision(ctx context.Context, deviceID string) (*models.Device, error) {
	now := r.now()

	dev := &models.Device{
		DeviceID:       deviceID,
		Code:           generateCode(),
		PendingMapping: true,
		LastSeen:       now,
		CreatedAt:      now,
	}

	if err := r.Update(ctx, dev); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("device_id", deviceID).
		Str("code", dev.Code).
		Msg("Auto-provisioned unknown device, pending mapping")

	return dev, nil
}

// Update persists a device record.
func (r *Registry) Update(ctx context.Context, dev *models.Device) error {
	raw, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("failed to encode device %s: %w", dev.DeviceID, err)
	}

	if err := r.store.Put(ctx, deviceKey(dev.DeviceID), raw); err != nil {
		return fmt.Errorf("failed to write device %s: %w", dev.DeviceID, err)
	}

	return nil
}

// RecordWake applies a HELLO to the device record: auto-provision if
// unknown, refresh last-seen/battery/signal, clear any manual override,
// and recompute the next scheduled wake.
func (r *Registry) RecordWake(ctx context.Context, ev *models.WakeEvent) (*models.Device, error) {
	dev, found, err := r.Get(ctx, ev.DeviceID)
	if err != nil {
		return nil, err
	}

	if !found {
		dev, err = r.Provision(ctx, ev.DeviceID)
		if err != nil {
			return nil, err
		}
	}

	dev.LastSeen = ev.ReceivedAt
	dev.ManualOverride = false

	if ev.Firmware != "" {
		dev.Firmware = ev.Firmware
	}

	if ev.Hardware != "" {
		dev.Hardware = ev.Hardware
	}

	if ev.Telemetry != nil {
		if ev.Telemetry.BatteryVolts != 0 {
			dev.BatteryVolts = ev.Telemetry.BatteryVolts
		}

		if ev.Telemetry.SignalDBM != 0 {
			dev.SignalDBM = ev.Telemetry.SignalDBM
		}
	}

	next := r.NextWake(dev, ev.ReceivedAt)
	dev.NextWakeAt = &next

	if err := r.Update(ctx, dev); err != nil {
		return nil, err
	}

	return dev, nil
}

// RecordReading persists a standalone telemetry reading outside any
// transfer session.
func (r *Registry) RecordReading(ctx context.Context, reading *models.TelemetryReading) error {
	raw, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading for %s: %w", reading.DeviceID, err)
	}

	key := fmt.Sprintf("%s%s.%d", readingPrefix, sanitizeKeyPart(reading.DeviceID), reading.RecordedAt.UnixNano())

	if err := r.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write reading for %s: %w", reading.DeviceID, err)
	}

	return nil
}

// RecordAuditError writes an operator-facing error-audit record. These
// never reach the device; they surface through operator tooling.
func (r *Registry) RecordAuditError(ctx context.Context, deviceID, subject, message string) error {
	record := map[string]string{
		"device_id":   deviceID,
		"subject":     subject,
		"message":     message,
		"recorded_at": r.now().Format(time.RFC3339),
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record for %s: %w", deviceID, err)
	}

	key := fmt.Sprintf("%s%s.%d", auditPrefix, sanitizeKeyPart(deviceID), r.now().UnixNano())

	if err := r.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write audit record for %s: %w", deviceID, err)
	}

	r.log.Error().
		Str("device_id", deviceID).
		Str("subject", subject).
		Str("message", message).
		Msg("Error-audit record written")

	return nil
}

func deviceKey(deviceID string) string {
	return devicePrefix + sanitizeKeyPart(deviceID)
}

// sanitizeKeyPart escapes runes outside the KV key token alphabet as
// "_<hex>_" so distinct identifiers never share a key.
func sanitizeKeyPart(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "_%X_", r)
		}
	}

	return b.String()
}

// generateCode builds the short human-readable claim code shown to
// operators when mapping a new device, e.g. "CAM-1A2B3C4D".
func generateCode() string {
	id := uuid.New().String()
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))

	return "CAM-" + compact[:codeLength]
}
