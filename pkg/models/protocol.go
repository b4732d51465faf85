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

// Package models defines the canonical message and record shapes shared
// across the CamLink ingestion pipeline.
package models

import "time"

// MessageKind classifies an inbound device message after field mapping.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindHello
	KindMetadata
	KindChunk
	KindTelemetry
)

func (k MessageKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindMetadata:
		return "metadata"
	case KindChunk:
		return "chunk"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Telemetry is one environmental sample as reported at wake or capture time.
// Temperature is stored in Fahrenheit; the Celsius conversion happens once,
// in the field mapper, never downstream.
type Telemetry struct {
	TemperatureF  float64 `json:"temperature_f"`
	Humidity      float64 `json:"humidity"`
	Pressure      float64 `json:"pressure"`
	GasResistance float64 `json:"gas_resistance"`
	BatteryVolts  float64 `json:"battery_volts,omitempty"`
	SignalDBM     int     `json:"signal_dbm,omitempty"`
}

// WakeEvent is the canonical form of a HELLO (status/alive) message.
type WakeEvent struct {
	DeviceID      string     `json:"device_id"`
	PendingImages int        `json:"pending_images"`
	PendingNames  []string   `json:"pending_names,omitempty"`
	Telemetry     *Telemetry `json:"telemetry,omitempty"`
	Firmware      string     `json:"firmware,omitempty"`
	Hardware      string     `json:"hardware,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
}

// ImageMetadata is the canonical form of an image metadata message.
type ImageMetadata struct {
	DeviceID     string     `json:"device_id"`
	ImageName    string     `json:"image_name"`
	ImageSize    int        `json:"image_size"`
	MaxChunkSize int        `json:"max_chunk_size"`
	TotalChunks  int        `json:"total_chunks"`
	CapturedAt   time.Time  `json:"captured_at"`
	Location     string     `json:"location,omitempty"`
	ErrorCode    int        `json:"error_code,omitempty"`
	Telemetry    *Telemetry `json:"telemetry,omitempty"`
}

// ImageChunk is the canonical form of one decoded image fragment.
type ImageChunk struct {
	DeviceID     string `json:"device_id"`
	ImageName    string `json:"image_name"`
	Index        int    `json:"chunk_id"`
	MaxChunkSize int    `json:"max_chunk_size"`
	Payload      []byte `json:"-"`
}

// TelemetryReading is a standalone sensor report with no image attached.
type TelemetryReading struct {
	DeviceID   string    `json:"device_id"`
	Telemetry  Telemetry `json:"telemetry"`
	RecordedAt time.Time `json:"recorded_at"`
}
