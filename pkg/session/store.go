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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brainlytree/camlink/pkg/kv"
	"github.com/brainlytree/camlink/pkg/models"
)

const (
	sessionPrefix = "session."
	activePrefix  = "active."
)

// Record is the persisted state of one image transfer session. It is the
// authority on lifecycle state and downstream linkage; chunk presence is
// the chunk store's authority.
type Record struct {
	DeviceID     string            `json:"device_id"`
	ImageName    string            `json:"image_name"`
	State        State             `json:"state"`
	TotalChunks  int               `json:"total_chunks"`
	ImageSize    int               `json:"image_size"`
	MaxChunkSize int               `json:"max_chunk_size"`
	CapturedAt   time.Time         `json:"captured_at"`
	Telemetry    *models.Telemetry `json:"telemetry,omitempty"`
	PayloadID    string            `json:"payload_id,omitempty"`
	ImageID      string            `json:"image_id,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Store persists session records and the per-device active-session pointer
// in the shared KV store.
type Store struct {
	store kv.KVStore
}

func NewStore(store kv.KVStore) *Store {
	return &Store{store: store}
}

// Get loads the session record for (device, image).
func (s *Store) Get(ctx context.Context, device, image string) (*Record, bool, error) {
	raw, found, err := s.store.Get(ctx, sessionKey(device, image))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session %s/%s: %w", device, image, err)
	}

	if !found {
		return nil, false, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode session %s/%s: %w", device, image, err)
	}

	return &rec, true, nil
}

// Save persists the record and, while it is non-terminal with a known
// image, points the device's active-session marker at it.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s/%s: %w", rec.DeviceID, rec.ImageName, err)
	}

	if err := s.store.Put(ctx, sessionKey(rec.DeviceID, rec.ImageName), raw); err != nil {
		return fmt.Errorf("failed to write session %s/%s: %w", rec.DeviceID, rec.ImageName, err)
	}

	if rec.State.Terminal() {
		return s.ClearActive(ctx, rec.DeviceID)
	}

	return s.setActive(ctx, rec.DeviceID, rec.ImageName, rec.State)
}

// activeMarker is the per-device pointer to the in-flight transfer.
type activeMarker struct {
	ImageName string    `json:"image_name"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active returns the device's in-flight session record, if any. The
// marker may be stale (evicted chunks, cleared sessions); callers treat a
// missing record as no active session.
func (s *Store) Active(ctx context.Context, device string) (*Record, bool, error) {
	raw, found, err := s.store.Get(ctx, activeKey(device))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read active marker for %s: %w", device, err)
	}

	if !found {
		return nil, false, nil
	}

	var marker activeMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return nil, false, fmt.Errorf("failed to decode active marker for %s: %w", device, err)
	}

	if marker.ImageName == "" {
		// HELLO scaffold: a wake is open but no transfer has started.
		return &Record{DeviceID: device, State: marker.State, UpdatedAt: marker.UpdatedAt}, true, nil
	}

	rec, found, err := s.Get(ctx, device, marker.ImageName)
	if err != nil || !found {
		return nil, false, err
	}

	return rec, true, nil
}

// OpenScaffold records a wake with no transfer yet attached.
func (s *Store) OpenScaffold(ctx context.Context, device string) error {
	return s.setActive(ctx, device, "", StateHelloReceived)
}

// ClearActive removes the device's active-session pointer.
func (s *Store) ClearActive(ctx context.Context, device string) error {
	return s.store.Delete(ctx, activeKey(device))
}

// Delete removes a session record entirely.
func (s *Store) Delete(ctx context.Context, device, image string) error {
	return s.store.Delete(ctx, sessionKey(device, image))
}

// Linkage reports the downstream image linkage for a transfer, for the
// finalizer. A missing record yields found == false with no error.
func (s *Store) Linkage(ctx context.Context, device, image string) (imageID string, capturedAt time.Time, found bool, err error) {
	rec, found, err := s.Get(ctx, device, image)
	if err != nil || !found {
		return "", time.Time{}, false, err
	}

	return rec.ImageID, rec.CapturedAt, true, nil
}

// MarkFinalized moves the session to its terminal success state and drops
// the active pointer. Missing records are tolerated: finalization must be
// idempotent.
func (s *Store) MarkFinalized(ctx context.Context, device, image string) error {
	rec, found, err := s.Get(ctx, device, image)
	if err != nil {
		return err
	}

	if !found {
		return s.ClearActive(ctx, device)
	}

	rec.State = StateFinalized
	rec.UpdatedAt = time.Now()

	return s.Save(ctx, rec)
}

func (s *Store) setActive(ctx context.Context, device, image string, state State) error {
	raw, err := json.Marshal(activeMarker{ImageName: image, State: state, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode active marker for %s: %w", device, err)
	}

	if err := s.store.Put(ctx, activeKey(device), raw); err != nil {
		return fmt.Errorf("failed to write active marker for %s: %w", device, err)
	}

	return nil
}

func sessionKey(device, image string) string {
	return sessionPrefix + sanitizeKeyPart(device) + "." + sanitizeKeyPart(image)
}

func activeKey(device string) string {
	return activePrefix + sanitizeKeyPart(device)
}

// sanitizeKeyPart escapes runes outside the KV key token alphabet as
// "_<hex>_". The escape is injective, so two different image names always
// land on two different session keys.
func sanitizeKeyPart(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "_%X_", r)
		}
	}

	return b.String()
}
