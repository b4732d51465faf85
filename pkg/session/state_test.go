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

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brainlytree/camlink/pkg/models"
)

func TestTransitionTableIsTotal(t *testing.T) {
	// Every (state, kind) pair must have an explicit behavior. Silent
	// fall-through to ignore would hide a protocol hole.
	for _, state := range AllStates {
		for _, kind := range AllKinds {
			action := ActionFor(state, kind)
			assert.NotEqual(t, ActionIgnore, action,
				"no transition defined for state %s, kind %s", state, kind)
		}
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	for _, state := range AllStates {
		assert.Equal(t, ActionIgnore, ActionFor(state, models.KindUnknown))
	}
}

func TestHelloTransitions(t *testing.T) {
	tests := []struct {
		state State
		want  Action
	}{
		{StateNone, ActionOpenSession},
		{StateHelloReceived, ActionDeferHello},
		{StateMetadataReceived, ActionDeferHello},
		{StateReceivingChunks, ActionDeferHello},
		{StateComplete, ActionDeferHello},
		{StateFinalized, ActionOpenSession},
		{StateAbandoned, ActionOpenSession},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ActionFor(tt.state, models.KindHello))
		})
	}
}

func TestMetadataTransitions(t *testing.T) {
	tests := []struct {
		state State
		want  Action
	}{
		{StateNone, ActionStartSession},
		{StateHelloReceived, ActionStartSession},
		{StateMetadataReceived, ActionResumeSession},
		{StateReceivingChunks, ActionResumeSession},
		{StateComplete, ActionResumeSession},
		{StateFinalized, ActionStartSession},
		{StateAbandoned, ActionStartSession},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ActionFor(tt.state, models.KindMetadata))
		})
	}
}

func TestChunkAndTelemetryAlwaysHandled(t *testing.T) {
	// Chunk storage is idempotent and telemetry is session-independent, so
	// neither ever depends on lifecycle position.
	for _, state := range AllStates {
		assert.Equal(t, ActionStoreChunk, ActionFor(state, models.KindChunk), "state %s", state)
		assert.Equal(t, ActionRecordTelemetry, ActionFor(state, models.KindTelemetry), "state %s", state)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateFinalized.Terminal())
	assert.True(t, StateAbandoned.Terminal())

	for _, s := range []State{StateNone, StateHelloReceived, StateMetadataReceived, StateReceivingChunks, StateComplete} {
		assert.False(t, s.Terminal(), "state %s", s)
	}
}

func TestStateStrings(t *testing.T) {
	for _, s := range AllStates {
		assert.NotEqual(t, "invalid", s.String())
	}

	assert.Equal(t, "invalid", State(99).String())
}
