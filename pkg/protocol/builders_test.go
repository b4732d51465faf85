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

package protocol

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wakeTimePattern = regexp.MustCompile(`^([1-9]|1[0-2]):[0-5][0-9](am|pm)$`)

func TestFormatWakeTime(t *testing.T) {
	utc := time.Date(2026, 8, 31, 6, 5, 0, 0, time.UTC)
	assert.Equal(t, "6:05am", FormatWakeTime(utc, nil))

	evening := time.Date(2026, 8, 31, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, "6:30pm", FormatWakeTime(evening, nil))

	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	// 18:30 UTC is 12:30pm in Denver during DST.
	assert.Equal(t, "12:30pm", FormatWakeTime(evening, denver))
}

func TestBuildCompletionAck(t *testing.T) {
	ack := BuildCompletionAck("98A316F82928", "image_1.jpg",
		time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC), nil)

	raw, err := json.Marshal(ack)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "98A316F82928", decoded["device_id"])
	assert.Equal(t, "image_1.jpg", decoded["image_name"])

	inner, ok := decoded["ACK_OK"].(map[string]interface{})
	require.True(t, ok, "ACK_OK must be an object")
	assert.Regexp(t, wakeTimePattern, inner["next_wake_time"])
	assert.Equal(t, "2:00pm", inner["next_wake_time"])
}

func TestBuildMissingChunkRequest(t *testing.T) {
	req := BuildMissingChunkRequest("X", "a.jpg", []int{2, 5, 8})

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"device_id":"X","image_name":"a.jpg","missing_chunks":[2,5,8]}`, string(raw))
}

func TestBuildCommands(t *testing.T) {
	capture, err := json.Marshal(BuildCaptureCommand())
	require.NoError(t, err)
	assert.JSONEq(t, `{"capture_image":true}`, string(capture))

	send, err := json.Marshal(BuildSendImageCommand("a.jpg"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"send_image":"a.jpg"}`, string(send))

	wake, err := json.Marshal(BuildNextWakeCommand(time.Date(2026, 8, 31, 9, 15, 0, 0, time.UTC), nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_wake":"9:15am"}`, string(wake))
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		wantDevice string
		wantCh     Channel
		wantErr    bool
	}{
		{name: "status", topic: "device/98:A3:16:F8:29:28/status", wantDevice: "98:A3:16:F8:29:28", wantCh: ChannelStatus},
		{name: "data", topic: "ESP32CAM/B8F862F9CFB8/data", wantDevice: "B8F862F9CFB8", wantCh: ChannelData},
		{name: "outbound ack rejected", topic: "device/X/ack", wantErr: true},
		{name: "outbound cmd rejected", topic: "device/X/cmd", wantErr: true},
		{name: "too few segments", topic: "device/status", wantErr: true},
		{name: "unknown channel", topic: "device/X/other", wantErr: true},
		{name: "empty device", topic: "device//status", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, ch, err := ParseTopic(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTopic)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, device)
			assert.Equal(t, tt.wantCh, ch)
		})
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "device/98A316F82928/ack", Subject("device", "98A316F82928", ChannelAck))
	assert.Equal(t, "device/98A316F82928/cmd", Subject("device", "98A316F82928", ChannelCmd))
}
