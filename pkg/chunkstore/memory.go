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

package chunkstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryChunk struct {
	data     []byte
	storedAt time.Time
}

// MemoryStore is an in-process Store with the same semantics as the NATS
// implementation. Used for tests and single-node development; it does not
// survive process restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    map[string]memoryChunk
	retention time.Duration
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &MemoryStore{
		chunks:    make(map[string]memoryChunk),
		retention: retention,
		now:       time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, device, image string, index int, data []byte) (bool, error) {
	key := chunkKey(device, image, index)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chunks[key]; exists {
		return false, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	m.chunks[key] = memoryChunk{data: stored, storedAt: m.now()}

	return true, nil
}

func (m *MemoryStore) Count(_ context.Context, device, image string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.presentLocked(device, image)), nil
}

func (m *MemoryStore) IsComplete(_ context.Context, device, image string, totalChunks int) (bool, error) {
	if totalChunks <= 0 {
		return false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	present := m.presentLocked(device, image)

	for i := 0; i < totalChunks; i++ {
		if !present[i] {
			return false, nil
		}
	}

	return true, nil
}

func (m *MemoryStore) MissingIndices(_ context.Context, device, image string, totalChunks int) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return missingFrom(m.presentLocked(device, image), totalChunks), nil
}

func (m *MemoryStore) Assemble(_ context.Context, device, image string, totalChunks int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	present := m.presentLocked(device, image)
	if missing := missingFrom(present, totalChunks); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d chunks missing", ErrIncompleteImage, len(missing), totalChunks)
	}

	var out []byte

	for i := 0; i < totalChunks; i++ {
		chunk, ok := m.chunks[chunkKey(device, image, i)]
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrChunkMissing, i)
		}

		out = append(out, chunk.data...)
	}

	return out, nil
}

func (m *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0

	for key, chunk := range m.chunks {
		if chunk.storedAt.Before(cutoff) {
			delete(m.chunks, key)
			evicted++
		}
	}

	return evicted, nil
}

func (m *MemoryStore) Clear(_ context.Context, device, image string) error {
	prefix := imagePrefix(device, image)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.chunks {
		if strings.HasPrefix(key, prefix) {
			delete(m.chunks, key)
		}
	}

	return nil
}

func (*MemoryStore) Close() error { return nil }

// presentLocked enumerates stored indices for an image. Callers hold m.mu.
func (m *MemoryStore) presentLocked(device, image string) map[int]bool {
	prefix := imagePrefix(device, image)
	present := make(map[int]bool)

	for key := range m.chunks {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if idx, ok := indexFromKey(key); ok {
			present[idx] = true
		}
	}

	return present
}

var _ Store = (*MemoryStore)(nil)
