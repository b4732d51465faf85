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
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brainlytree/camlink/pkg/models"
)

// DefaultWakeInterval is the fallback wake cadence for devices with no
// parseable schedule.
const DefaultWakeInterval = 6 * time.Hour

// NextWake computes a device's next scheduled wake after now from its
// cron-like schedule, evaluated in the device's timezone. Devices with no
// schedule, or an unparseable one, fall back to a fixed interval.
func (r *Registry) NextWake(dev *models.Device, now time.Time) time.Time {
	if dev.Schedule == "" {
		return now.Add(r.fallbackInterval)
	}

	sched, err := cron.ParseStandard(dev.Schedule)
	if err != nil {
		r.log.Warn().
			Str("device_id", dev.DeviceID).
			Str("schedule", dev.Schedule).
			Err(err).
			Msg("Unparseable wake schedule, using fallback interval")

		return now.Add(r.fallbackInterval)
	}

	return sched.Next(now.In(r.location(dev)))
}

// Location resolves the device's timezone, defaulting to UTC.
func (r *Registry) Location(dev *models.Device) *time.Location {
	return r.location(dev)
}

func (r *Registry) location(dev *models.Device) *time.Location {
	if dev.Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(dev.Timezone)
	if err != nil {
		r.log.Warn().
			Str("device_id", dev.DeviceID).
			Str("timezone", dev.Timezone).
			Msg("Unknown device timezone, using UTC")

		return time.UTC
	}

	return loc
}
