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

// Package session drives the per-wake protocol lifecycle:
// HELLO -> (optional resume) -> METADATA -> CHUNK* -> FINALIZE -> ACK.
//
// The state machine is an explicit transition table: every state defines a
// behavior for every message kind, including "ignore". Authoritative state
// lives in the shared persisted store; the in-process buffer is only a
// hint and correctness never depends on it surviving between requests.
package session

import (
	"github.com/brainlytree/camlink/pkg/models"
)

// State is the lifecycle position of one image transfer.
type State int

const (
	// StateNone means no session exists for the key.
	StateNone State = iota
	StateHelloReceived
	StateMetadataReceived
	StateReceivingChunks
	StateComplete
	StateFinalized
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateHelloReceived:
		return "hello_received"
	case StateMetadataReceived:
		return "metadata_received"
	case StateReceivingChunks:
		return "receiving_chunks"
	case StateComplete:
		return "complete"
	case StateFinalized:
		return "finalized"
	case StateAbandoned:
		return "abandoned"
	default:
		return "invalid"
	}
}

// Terminal reports whether a session in this state can no longer accept
// transfer traffic for the same wake.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateAbandoned
}

// Action is what the manager does with a message given the current state.
type Action int

const (
	// ActionIgnore drops the message without side effects.
	ActionIgnore Action = iota
	// ActionOpenSession opens a fresh wake scaffold for a HELLO.
	ActionOpenSession
	// ActionDeferHello records the HELLO but leaves the in-flight transfer
	// untouched. A spurious second HELLO must never reset chunk state.
	ActionDeferHello
	// ActionStartSession starts a transfer from METADATA.
	ActionStartSession
	// ActionResumeSession merges METADATA into an existing partial transfer
	// without resetting the chunk set.
	ActionResumeSession
	// ActionStoreChunk stores a chunk idempotently and checks completeness.
	ActionStoreChunk
	// ActionRecordTelemetry persists a standalone reading outside any
	// session.
	ActionRecordTelemetry
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionOpenSession:
		return "open_session"
	case ActionDeferHello:
		return "defer_hello"
	case ActionStartSession:
		return "start_session"
	case ActionResumeSession:
		return "resume_session"
	case ActionStoreChunk:
		return "store_chunk"
	case ActionRecordTelemetry:
		return "record_telemetry"
	default:
		return "invalid"
	}
}

// AllStates and AllKinds exist so tests can prove the table is total.
var (
	AllStates = []State{StateNone, StateHelloReceived, StateMetadataReceived, StateReceivingChunks, StateComplete, StateFinalized, StateAbandoned}
	AllKinds  = []models.MessageKind{models.KindHello, models.KindMetadata, models.KindChunk, models.KindTelemetry}
)

// transitions maps (current state, message kind) to the action taken.
// Telemetry always bypasses session state. Chunks are always stored: the
// store's idempotency absorbs duplicates, and chunks arriving before
// metadata or after finalization simply begin (or re-begin) a buffer that
// metadata will claim.
var transitions = map[State]map[models.MessageKind]Action{
	StateNone: {
		models.KindHello:     ActionOpenSession,
		models.KindMetadata:  ActionStartSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateHelloReceived: {
		models.KindHello:     ActionDeferHello,
		models.KindMetadata:  ActionStartSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateMetadataReceived: {
		models.KindHello:     ActionDeferHello,
		models.KindMetadata:  ActionResumeSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateReceivingChunks: {
		models.KindHello:     ActionDeferHello,
		models.KindMetadata:  ActionResumeSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateComplete: {
		models.KindHello:     ActionDeferHello,
		models.KindMetadata:  ActionResumeSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateFinalized: {
		models.KindHello:     ActionOpenSession,
		models.KindMetadata:  ActionStartSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
	StateAbandoned: {
		models.KindHello:     ActionOpenSession,
		models.KindMetadata:  ActionStartSession,
		models.KindChunk:     ActionStoreChunk,
		models.KindTelemetry: ActionRecordTelemetry,
	},
}

// ActionFor resolves the transition table. Unknown kinds are ignored.
func ActionFor(state State, kind models.MessageKind) Action {
	row, ok := transitions[state]
	if !ok {
		return ActionIgnore
	}

	action, ok := row[kind]
	if !ok {
		return ActionIgnore
	}

	return action
}
