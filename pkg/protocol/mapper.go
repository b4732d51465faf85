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

// Package protocol translates between the wire vocabulary spoken by field
// firmware and the canonical internal message shapes, and builds outbound
// ACK/command messages.
//
// Firmware revisions disagree on field names (total_chunks_count vs
// total_chunk_count, pendingImg vs pending_images, flat vs nested
// telemetry, string vs object timestamps). Each canonical field is mapped
// through an explicit ordered precedence chain; the first extractor that
// yields a value wins. No reflection, no duck typing.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/models"
)

var (
	ErrMissingImageName = errors.New("payload missing image name")
	ErrMissingChunkID   = errors.New("payload missing chunk id")
	ErrEmptyChunk       = errors.New("chunk payload decoded to zero bytes")
	ErrBadChunkPayload  = errors.New("chunk payload is neither base64 string nor byte array")
)

// jpegMagic is the SOI marker every JPEG begins with. The header check is
// advisory: a mismatch is logged, never rejected, because the device has no
// way to react to a soft warning.
var jpegMagic = []byte{0xFF, 0xD8}

// Extractor pulls one candidate value for a canonical field out of a raw
// payload. Extractors are tried in declaration order.
type Extractor struct {
	Name string
	Get  func(p map[string]interface{}) (interface{}, bool)
}

// Chain is the ordered precedence list for one canonical field.
type Chain struct {
	Field   string
	Sources []Extractor
}

// Lookup returns the first non-null candidate value.
func (c Chain) Lookup(p map[string]interface{}) (interface{}, bool) {
	for _, src := range c.Sources {
		if v, ok := src.Get(p); ok && v != nil {
			return v, true
		}
	}

	return nil, false
}

// key extracts a top-level field by name.
func key(name string) Extractor {
	return Extractor{
		Name: name,
		Get: func(p map[string]interface{}) (interface{}, bool) {
			v, ok := p[name]
			return v, ok
		},
	}
}

// nested extracts a field from a nested object, for firmware that wraps
// sensor data in a sub-document.
func nested(obj, name string) Extractor {
	return Extractor{
		Name: obj + "." + name,
		Get: func(p map[string]interface{}) (interface{}, bool) {
			inner, ok := p[obj].(map[string]interface{})
			if !ok {
				return nil, false
			}

			v, ok := inner[name]

			return v, ok
		},
	}
}

// Precedence chains, backend-historical name first, firmware aliases after.
var (
	chainImageName   = Chain{Field: "image_name", Sources: []Extractor{key("image_name"), key("imageName"), key("img_name")}}
	chainImageSize   = Chain{Field: "image_size", Sources: []Extractor{key("image_size"), key("imageSize"), key("size")}}
	chainChunkSize   = Chain{Field: "max_chunk_size", Sources: []Extractor{key("max_chunk_size"), key("chunk_size"), key("maxChunkSize")}}
	chainTotalChunks = Chain{Field: "total_chunks", Sources: []Extractor{key("total_chunks_count"), key("total_chunk_count"), key("totalChunks"), key("total_chunks")}}
	chainChunkID     = Chain{Field: "chunk_id", Sources: []Extractor{key("chunk_id"), key("chunkId"), key("chunk_index")}}
	chainChunkData   = Chain{Field: "payload", Sources: []Extractor{key("payload"), key("data"), key("chunk")}}
	chainCapturedAt  = Chain{Field: "captured_at", Sources: []Extractor{key("capture_timestamp"), key("captured_at"), key("timestamp")}}
	chainPending     = Chain{Field: "pending_images", Sources: []Extractor{key("pendingImg"), key("pending_images"), key("pendingImages"), key("pending")}}
	chainPendingList = Chain{Field: "pending_names", Sources: []Extractor{key("pending_list"), key("pendingList"), key("images")}}
	chainFirmware    = Chain{Field: "firmware", Sources: []Extractor{key("fw_version"), key("firmware"), key("fw")}}
	chainHardware    = Chain{Field: "hardware", Sources: []Extractor{key("hw_version"), key("hardware"), key("hw")}}
	chainLocation    = Chain{Field: "location", Sources: []Extractor{key("location"), key("site")}}
	chainErrorCode   = Chain{Field: "error_code", Sources: []Extractor{key("error"), key("error_code")}}

	chainTemperature = Chain{Field: "temperature", Sources: []Extractor{key("temperature"), key("temp"), nested("telemetry", "temperature"), nested("sensors", "temperature")}}
	chainHumidity    = Chain{Field: "humidity", Sources: []Extractor{key("humidity"), key("hum"), nested("telemetry", "humidity"), nested("sensors", "humidity")}}
	chainPressure    = Chain{Field: "pressure", Sources: []Extractor{key("pressure"), nested("telemetry", "pressure"), nested("sensors", "pressure")}}
	chainGas         = Chain{Field: "gas_resistance", Sources: []Extractor{key("gas_resistance"), key("gas"), nested("telemetry", "gas_resistance"), nested("sensors", "gas_resistance")}}
	chainBattery     = Chain{Field: "battery_volts", Sources: []Extractor{key("battery"), key("battery_volts"), key("vbat"), nested("telemetry", "battery")}}
	chainSignal      = Chain{Field: "signal_dbm", Sources: []Extractor{key("rssi"), key("signal"), nested("telemetry", "rssi")}}
)

// Mapper converts raw inbound payloads into canonical records.
type Mapper struct {
	log logger.Logger
	now func() time.Time
}

func NewMapper(log logger.Logger) *Mapper {
	return &Mapper{
		log: log.WithComponent("protocol.mapper"),
		now: time.Now,
	}
}

// Classify determines the message kind of a data-topic payload from its
// shape: a chunk id means chunk, an image name without a chunk id means
// metadata, sensor fields alone mean a standalone telemetry reading.
func (*Mapper) Classify(p map[string]interface{}) models.MessageKind {
	if _, ok := chainChunkID.Lookup(p); ok {
		return models.KindChunk
	}

	if _, ok := chainImageName.Lookup(p); ok {
		return models.KindMetadata
	}

	_, hasTemp := chainTemperature.Lookup(p)
	_, hasHum := chainHumidity.Lookup(p)

	if hasTemp || hasHum {
		return models.KindTelemetry
	}

	return models.KindUnknown
}

// MapHello converts a status payload into a canonical wake event.
func (m *Mapper) MapHello(deviceID string, p map[string]interface{}) *models.WakeEvent {
	ev := &models.WakeEvent{
		DeviceID:      deviceID,
		PendingImages: intValue(chainPending, p),
		PendingNames:  stringList(chainPendingList, p),
		Firmware:      stringValue(chainFirmware, p),
		Hardware:      stringValue(chainHardware, p),
		ReceivedAt:    m.now(),
	}

	if tel := m.mapTelemetry(p); tel != nil {
		ev.Telemetry = tel
	}

	return ev
}

// MapMetadata converts a metadata payload into canonical image metadata.
// A missing capture timestamp falls back to the ingestion time.
func (m *Mapper) MapMetadata(deviceID string, p map[string]interface{}) (*models.ImageMetadata, error) {
	name := stringValue(chainImageName, p)
	if name == "" {
		return nil, ErrMissingImageName
	}

	meta := &models.ImageMetadata{
		DeviceID:     deviceID,
		ImageName:    name,
		ImageSize:    intValue(chainImageSize, p),
		MaxChunkSize: intValue(chainChunkSize, p),
		TotalChunks:  intValue(chainTotalChunks, p),
		CapturedAt:   m.capturedAt(p),
		Location:     stringValue(chainLocation, p),
		ErrorCode:    intValue(chainErrorCode, p),
	}

	if tel := m.mapTelemetry(p); tel != nil {
		meta.Telemetry = tel
	}

	return meta, nil
}

// MapChunk converts a chunk payload, auto-detecting the base64 string form
// versus the numeric byte-array form. If this is chunk zero the JPEG header
// is verified and a mismatch logged.
func (m *Mapper) MapChunk(deviceID string, p map[string]interface{}) (*models.ImageChunk, error) {
	name := stringValue(chainImageName, p)
	if name == "" {
		return nil, ErrMissingImageName
	}

	rawIndex, ok := chainChunkID.Lookup(p)
	if !ok {
		return nil, ErrMissingChunkID
	}

	index, ok := asInt(rawIndex)
	if !ok || index < 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingChunkID, rawIndex)
	}

	raw, _ := chainChunkData.Lookup(p)

	data, err := decodeChunkPayload(raw)
	if err != nil {
		return nil, err
	}

	if index == 0 && !hasImageHeader(data) {
		m.log.Warn().
			Str("device_id", deviceID).
			Str("image_name", name).
			Msg("First chunk missing JPEG header, possible corruption")
	}

	return &models.ImageChunk{
		DeviceID:     deviceID,
		ImageName:    name,
		Index:        index,
		MaxChunkSize: intValue(chainChunkSize, p),
		Payload:      data,
	}, nil
}

// MapTelemetry converts a telemetry-only payload into a standalone reading.
func (m *Mapper) MapTelemetry(deviceID string, p map[string]interface{}) *models.TelemetryReading {
	tel := m.mapTelemetry(p)
	if tel == nil {
		tel = &models.Telemetry{}
	}

	return &models.TelemetryReading{
		DeviceID:   deviceID,
		Telemetry:  *tel,
		RecordedAt: m.now(),
	}
}

// mapTelemetry pulls sensor fields through their chains. The firmware
// reports temperature in Celsius; the Fahrenheit conversion happens here
// and nowhere else.
func (*Mapper) mapTelemetry(p map[string]interface{}) *models.Telemetry {
	tempRaw, hasTemp := chainTemperature.Lookup(p)
	humRaw, hasHum := chainHumidity.Lookup(p)

	if !hasTemp && !hasHum {
		return nil
	}

	tel := &models.Telemetry{
		Pressure:      floatValue(chainPressure, p),
		GasResistance: floatValue(chainGas, p),
		BatteryVolts:  floatValue(chainBattery, p),
		SignalDBM:     intValue(chainSignal, p),
	}

	if hasTemp {
		if c, ok := asFloat(tempRaw); ok {
			tel.TemperatureF = celsiusToFahrenheit(c)
		}
	}

	if hasHum {
		if h, ok := asFloat(humRaw); ok {
			tel.Humidity = h
		}
	}

	return tel
}

func (m *Mapper) capturedAt(p map[string]interface{}) time.Time {
	raw, ok := chainCapturedAt.Lookup(p)
	if !ok {
		return m.now()
	}

	if t, ok := parseTimestamp(raw); ok {
		return t
	}

	return m.now()
}

// parseTimestamp accepts RFC3339 strings, bare datetime strings, and the
// object form {seconds, nanos} some firmware revisions emit.
func parseTimestamp(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case map[string]interface{}:
		secRaw, ok := v["seconds"]
		if !ok {
			secRaw, ok = v["secs"]
		}

		if ok {
			if sec, found := asFloat(secRaw); found {
				nanos := 0.0
				if n, nok := asFloat(v["nanos"]); nok {
					nanos = n
				}

				return time.Unix(int64(sec), int64(nanos)).UTC(), true
			}
		}
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	}

	return time.Time{}, false
}

// decodeChunkPayload handles both wire encodings for chunk bytes: a base64
// string or a JSON array of byte values.
func decodeChunkPayload(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadChunkPayload, err)
		}

		if len(data) == 0 {
			return nil, ErrEmptyChunk
		}

		return data, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, ErrEmptyChunk
		}

		data := make([]byte, len(v))

		for i, e := range v {
			n, ok := asFloat(e)
			if !ok || n < 0 || n > 255 {
				return nil, fmt.Errorf("%w: element %d is %v", ErrBadChunkPayload, i, e)
			}

			data[i] = byte(n)
		}

		return data, nil
	default:
		return nil, ErrBadChunkPayload
	}
}

func hasImageHeader(data []byte) bool {
	return len(data) >= len(jpegMagic) && data[0] == jpegMagic[0] && data[1] == jpegMagic[1]
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

func stringValue(c Chain, p map[string]interface{}) string {
	raw, ok := c.Lookup(p)
	if !ok {
		return ""
	}

	s, _ := raw.(string)

	return s
}

func stringList(c Chain, p map[string]interface{}) []string {
	raw, ok := c.Lookup(p)
	if !ok {
		return nil
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func intValue(c Chain, p map[string]interface{}) int {
	raw, ok := c.Lookup(p)
	if !ok {
		return 0
	}

	n, _ := asInt(raw)

	return n
}

func floatValue(c Chain, p map[string]interface{}) float64 {
	raw, ok := c.Lookup(p)
	if !ok {
		return 0
	}

	f, _ := asFloat(raw)

	return f
}

func asInt(raw interface{}) (int, bool) {
	f, ok := asFloat(raw)
	if !ok {
		return 0, false
	}

	return int(f), true
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
