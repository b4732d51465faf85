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

import "time"

// wakeTimeLayout is the 12-hour clock string the firmware parses, e.g.
// "6:05am". The device cannot parse ISO timestamps.
const wakeTimeLayout = "3:04pm"

// CompletionAck is the ACK_OK message telling a device its image landed
// and when to wake next. Dispatched on the ack channel.
type CompletionAck struct {
	DeviceID  string `json:"device_id"`
	ImageName string `json:"image_name"`
	AckOK     AckOK  `json:"ACK_OK"`
}

type AckOK struct {
	NextWakeTime string `json:"next_wake_time"`
}

// MissingChunkRequest asks a device to resend specific chunks. Firmware
// only listens for resend requests on the cmd channel, never on ack.
type MissingChunkRequest struct {
	DeviceID      string `json:"device_id"`
	ImageName     string `json:"image_name"`
	MissingChunks []int  `json:"missing_chunks"`
}

// CaptureCommand tells a device to capture a new image on this wake.
type CaptureCommand struct {
	CaptureImage bool `json:"capture_image"`
}

// SendImageCommand tells a device to transmit a named pending image.
type SendImageCommand struct {
	SendImage string `json:"send_image"`
}

// NextWakeCommand schedules the device's next wake without an image ack.
type NextWakeCommand struct {
	NextWake string `json:"next_wake"`
}

// FormatWakeTime renders a wake time as the human-readable clock string the
// firmware expects, in the given location (UTC when nil).
func FormatWakeTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return t.In(loc).Format(wakeTimeLayout)
}

// BuildCompletionAck builds the ACK_OK message for a finalized image.
func BuildCompletionAck(deviceID, imageName string, nextWake time.Time, loc *time.Location) CompletionAck {
	return CompletionAck{
		DeviceID:  deviceID,
		ImageName: imageName,
		AckOK:     AckOK{NextWakeTime: FormatWakeTime(nextWake, loc)},
	}
}

// BuildMissingChunkRequest builds a resend request for the given indices.
func BuildMissingChunkRequest(deviceID, imageName string, missing []int) MissingChunkRequest {
	return MissingChunkRequest{
		DeviceID:      deviceID,
		ImageName:     imageName,
		MissingChunks: missing,
	}
}

// BuildCaptureCommand builds the capture trigger.
func BuildCaptureCommand() CaptureCommand {
	return CaptureCommand{CaptureImage: true}
}

// BuildSendImageCommand builds the request for a named pending image.
func BuildSendImageCommand(imageName string) SendImageCommand {
	return SendImageCommand{SendImage: imageName}
}

// BuildNextWakeCommand builds a standalone wake-schedule command.
func BuildNextWakeCommand(nextWake time.Time, loc *time.Location) NextWakeCommand {
	return NextWakeCommand{NextWake: FormatWakeTime(nextWake, loc)}
}
