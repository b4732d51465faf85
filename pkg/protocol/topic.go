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
	"errors"
	"fmt"
	"strings"
)

// Channel identifies which leg of the device topic tree a message moved on.
type Channel string

const (
	// ChannelStatus carries HELLO (alive) messages.
	ChannelStatus Channel = "status"
	// ChannelData carries metadata, chunks, and standalone telemetry.
	ChannelData Channel = "data"
	// ChannelAck carries completion acknowledgments back to the device.
	ChannelAck Channel = "ack"
	// ChannelCmd carries capture/send/missing-chunk commands to the device.
	ChannelCmd Channel = "cmd"
)

var ErrBadTopic = errors.New("topic does not match PREFIX/{device}/{channel}")

// ParseTopic splits an inbound topic of the form PREFIX/{device}/{channel}
// into its raw device identifier and channel. Only status and data are
// valid inbound channels.
func ParseTopic(topic string) (rawDevice string, ch Channel, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}

	switch Channel(parts[2]) {
	case ChannelStatus:
		return parts[1], ChannelStatus, nil
	case ChannelData:
		return parts[1], ChannelData, nil
	case ChannelAck, ChannelCmd:
		return "", "", fmt.Errorf("%w: %q is an outbound channel", ErrBadTopic, topic)
	default:
		return "", "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
}

// Subject renders the outbound topic for a device and channel.
func Subject(prefix, deviceID string, ch Channel) string {
	return fmt.Sprintf("%s/%s/%s", prefix, deviceID, ch)
}
