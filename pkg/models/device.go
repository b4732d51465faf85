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

package models

import "time"

// Device is the persisted record for one field camera.
type Device struct {
	DeviceID       string     `json:"device_id"`
	Code           string     `json:"code"`
	PendingMapping bool       `json:"pending_mapping"`
	ManualOverride bool       `json:"manual_override"`
	Schedule       string     `json:"schedule,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	Firmware       string     `json:"firmware,omitempty"`
	Hardware       string     `json:"hardware,omitempty"`
	BatteryVolts   float64    `json:"battery_volts,omitempty"`
	SignalDBM      int        `json:"signal_dbm,omitempty"`
	LastSeen       time.Time  `json:"last_seen"`
	NextWakeAt     *time.Time `json:"next_wake_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Lineage is the company/site/program hierarchy a device belongs to,
// resolved by the external lineage service.
type Lineage struct {
	DeviceID  string `json:"device_id"`
	CompanyID string `json:"company_id"`
	SiteID    string `json:"site_id"`
	ProgramID string `json:"program_id"`
	Timezone  string `json:"timezone"`
}

// WakeIngestionResult is the wake-ingestion service response linking a
// metadata message to downstream records.
type WakeIngestionResult struct {
	Success   bool   `json:"success"`
	PayloadID string `json:"payload_id"`
	ImageID   string `json:"image_id"`
	SessionID string `json:"session_id"`
	WakeIndex int    `json:"wake_index"`
	IsResume  bool   `json:"is_resume"`
}

// ImageCompletionResult is the image-completion service response.
type ImageCompletionResult struct {
	Success       bool       `json:"success"`
	ImageID       string     `json:"image_id"`
	ObservationID string     `json:"observation_id"`
	NextWakeAt    *time.Time `json:"next_wake_at,omitempty"`
	MoldScore     *float64   `json:"mold_score,omitempty"`
}
