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

package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainlytree/camlink/pkg/kv"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/models"
)

func testRegistry() *Registry {
	return New(kv.NewMemoryStore(), 0, logger.NewTestLogger())
}

func TestProvisionAndGet(t *testing.T) {
	ctx := context.Background()
	r := testRegistry()

	_, found, err := r.Get(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.False(t, found)

	dev, err := r.Provision(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.True(t, dev.PendingMapping)
	assert.True(t, strings.HasPrefix(dev.Code, "CAM-"), "code %q", dev.Code)
	assert.Len(t, dev.Code, len("CAM-")+codeLength)

	got, found, err := r.Get(ctx, "98A316F82928")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, dev.Code, got.Code)
}

func TestRecordWakeProvisionsUnknownDevice(t *testing.T) {
	ctx := context.Background()
	r := testRegistry()

	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	dev, err := r.RecordWake(ctx, &models.WakeEvent{
		DeviceID:   "98A316F82928",
		ReceivedAt: now,
		Firmware:   "2.4.1",
		Telemetry:  &models.Telemetry{BatteryVolts: 3.87, SignalDBM: -64},
	})
	require.NoError(t, err)

	assert.True(t, dev.PendingMapping)
	assert.Equal(t, now, dev.LastSeen)
	assert.Equal(t, "2.4.1", dev.Firmware)
	assert.InDelta(t, 3.87, dev.BatteryVolts, 0.001)
	assert.Equal(t, -64, dev.SignalDBM)
	require.NotNil(t, dev.NextWakeAt)
	assert.Equal(t, now.Add(DefaultWakeInterval), *dev.NextWakeAt)
}

func TestRecordWakeRefreshesKnownDevice(t *testing.T) {
	ctx := context.Background()
	r := testRegistry()

	dev, err := r.Provision(ctx, "98A316F82928")
	require.NoError(t, err)

	dev.ManualOverride = true
	dev.Schedule = "0 */6 * * *"
	require.NoError(t, r.Update(ctx, dev))

	now := time.Date(2026, 8, 31, 7, 30, 0, 0, time.UTC)
	updated, err := r.RecordWake(ctx, &models.WakeEvent{DeviceID: "98A316F82928", ReceivedAt: now})
	require.NoError(t, err)

	assert.False(t, updated.ManualOverride, "wake clears the manual override flag")
	require.NotNil(t, updated.NextWakeAt)
	assert.Equal(t, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), updated.NextWakeAt.UTC())
}

func TestNextWake(t *testing.T) {
	r := testRegistry()
	now := time.Date(2026, 8, 31, 7, 30, 0, 0, time.UTC)

	t.Run("cron schedule", func(t *testing.T) {
		dev := &models.Device{DeviceID: "X", Schedule: "0 */6 * * *"}
		assert.Equal(t, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), r.NextWake(dev, now).UTC())
	})

	t.Run("schedule in device timezone", func(t *testing.T) {
		dev := &models.Device{DeviceID: "X", Schedule: "0 6 * * *", Timezone: "America/Denver"}
		next := r.NextWake(dev, now)
		loc, err := time.LoadLocation("America/Denver")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 8, 31, 6, 0, 0, 0, loc).In(time.UTC), next.UTC())
	})

	t.Run("no schedule uses fallback interval", func(t *testing.T) {
		dev := &models.Device{DeviceID: "X"}
		assert.Equal(t, now.Add(DefaultWakeInterval), r.NextWake(dev, now))
	})

	t.Run("bad schedule uses fallback interval", func(t *testing.T) {
		dev := &models.Device{DeviceID: "X", Schedule: "every sunrise"}
		assert.Equal(t, now.Add(DefaultWakeInterval), r.NextWake(dev, now))
	})
}

func TestRecordReading(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	r := New(store, 0, logger.NewTestLogger())

	reading := &models.TelemetryReading{
		DeviceID:   "98A316F82928",
		Telemetry:  models.Telemetry{TemperatureF: 68.0, Humidity: 45.2},
		RecordedAt: time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.RecordReading(ctx, reading))

	key := "reading.98A316F82928." + "1788163200000000000"
	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGenerateCodeUnique(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		code := generateCode()
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
