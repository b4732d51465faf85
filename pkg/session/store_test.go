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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainlytree/camlink/pkg/kv"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	rec := &Record{
		DeviceID:    "98A316F82928",
		ImageName:   "img_001.jpg",
		State:       StateReceivingChunks,
		TotalChunks: 12,
		ImageID:     "img-42",
		CapturedAt:  time.Date(2026, 8, 31, 7, 55, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC),
	}

	require.NoError(t, s.Save(ctx, rec))

	got, found, err := s.Get(ctx, "98A316F82928", "img_001.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	_, found, err = s.Get(ctx, "98A316F82928", "other.jpg")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionKeysDistinctForSimilarNames(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	// Names differing only in escaped runes keep separate records.
	dotted := &Record{DeviceID: "98A316F82928", ImageName: "a.b.jpg", State: StateReceivingChunks, TotalChunks: 4}
	scored := &Record{DeviceID: "98A316F82928", ImageName: "a_b_jpg", State: StateMetadataReceived, TotalChunks: 9}

	require.NoError(t, s.Save(ctx, dotted))
	require.NoError(t, s.Save(ctx, scored))

	got, found, err := s.Get(ctx, "98A316F82928", "a.b.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, got.TotalChunks)

	got, found, err = s.Get(ctx, "98A316F82928", "a_b_jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 9, got.TotalChunks)
}

func TestSaveUpdatesActiveMarker(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	rec := &Record{DeviceID: "98A316F82928", ImageName: "img_001.jpg", State: StateReceivingChunks, TotalChunks: 3}
	require.NoError(t, s.Save(ctx, rec))

	active, found, err := s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "img_001.jpg", active.ImageName)
	assert.Equal(t, StateReceivingChunks, active.State)

	// Terminal save drops the pointer.
	rec.State = StateFinalized
	require.NoError(t, s.Save(ctx, rec))

	_, found, err = s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenScaffold(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, s.OpenScaffold(ctx, "98A316F82928"))

	active, found, err := s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, active.ImageName)
	assert.Equal(t, StateHelloReceived, active.State)
}

func TestActiveWithStaleMarker(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	rec := &Record{DeviceID: "98A316F82928", ImageName: "img_001.jpg", State: StateReceivingChunks}
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Delete(ctx, "98A316F82928", "img_001.jpg"))

	// Marker still points at the deleted record; callers must see no
	// active session rather than an error.
	_, found, err := s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkFinalized(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	rec := &Record{DeviceID: "98A316F82928", ImageName: "img_001.jpg", State: StateComplete, ImageID: "img-42"}
	require.NoError(t, s.Save(ctx, rec))

	require.NoError(t, s.MarkFinalized(ctx, "98A316F82928", "img_001.jpg"))

	got, found, err := s.Get(ctx, "98A316F82928", "img_001.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateFinalized, got.State)

	_, found, err = s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkFinalizedMissingRecord(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, s.OpenScaffold(ctx, "98A316F82928"))

	// Finalizing a record the store never saw must not fail; it only
	// clears the active pointer.
	require.NoError(t, s.MarkFinalized(ctx, "98A316F82928", "gone.jpg"))

	_, found, err := s.Active(ctx, "98A316F82928")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLinkage(t *testing.T) {
	s := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	captured := time.Date(2026, 8, 31, 7, 55, 0, 0, time.UTC)
	rec := &Record{DeviceID: "98A316F82928", ImageName: "img_001.jpg", State: StateComplete, ImageID: "img-42", CapturedAt: captured}
	require.NoError(t, s.Save(ctx, rec))

	imageID, capturedAt, found, err := s.Linkage(ctx, "98A316F82928", "img_001.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "img-42", imageID)
	assert.Equal(t, captured, capturedAt)

	_, _, found, err = s.Linkage(ctx, "98A316F82928", "other.jpg")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBufferHintSemantics(t *testing.T) {
	b := NewBuffer()

	rec := &Record{DeviceID: "98A316F82928", ImageName: "img_001.jpg", State: StateReceivingChunks, TotalChunks: 3}
	b.Put(rec)

	got, ok := b.Get("98A316F82928", "img_001.jpg")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	// The hint hands out copies; mutating one must not leak back.
	got.TotalChunks = 99

	again, ok := b.Get("98A316F82928", "img_001.jpg")
	require.True(t, ok)
	assert.Equal(t, 3, again.TotalChunks)

	b.Drop("98A316F82928", "img_001.jpg")

	_, ok = b.Get("98A316F82928", "img_001.jpg")
	assert.False(t, ok)
}
