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
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore persists chunks in a JetStream key-value bucket shared by all
// stateless instances. Insert-if-absent maps onto the bucket's atomic
// Create, so two requests racing to store the same chunk resolve to one
// physical record with both callers succeeding.
type NatsStore struct {
	kv        jetstream.KeyValue
	retention time.Duration
}

// NewNatsStore binds the store to (or creates) the named bucket.
func NewNatsStore(ctx context.Context, js jetstream.JetStream, bucket string, retention time.Duration) (*NatsStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "camlink image chunk buffer",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk bucket %s: %w", bucket, err)
	}

	return &NatsStore{kv: kv, retention: retention}, nil
}

func (n *NatsStore) Put(ctx context.Context, device, image string, index int, data []byte) (bool, error) {
	_, err := n.kv.Create(ctx, chunkKey(device, image, index), data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to store chunk %d for %s/%s: %w", index, device, image, err)
	}

	return true, nil
}

func (n *NatsStore) Count(ctx context.Context, device, image string) (int, error) {
	present, err := n.present(ctx, device, image)
	if err != nil {
		return 0, err
	}

	return len(present), nil
}

func (n *NatsStore) IsComplete(ctx context.Context, device, image string, totalChunks int) (bool, error) {
	if totalChunks <= 0 {
		return false, nil
	}

	present, err := n.present(ctx, device, image)
	if err != nil {
		return false, err
	}

	for i := 0; i < totalChunks; i++ {
		if !present[i] {
			return false, nil
		}
	}

	return true, nil
}

func (n *NatsStore) MissingIndices(ctx context.Context, device, image string, totalChunks int) ([]int, error) {
	present, err := n.present(ctx, device, image)
	if err != nil {
		return nil, err
	}

	return missingFrom(present, totalChunks), nil
}

func (n *NatsStore) Assemble(ctx context.Context, device, image string, totalChunks int) ([]byte, error) {
	present, err := n.present(ctx, device, image)
	if err != nil {
		return nil, err
	}

	if missing := missingFrom(present, totalChunks); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d chunks missing", ErrIncompleteImage, len(missing), totalChunks)
	}

	var out []byte

	for i := 0; i < totalChunks; i++ {
		entry, err := n.kv.Get(ctx, chunkKey(device, image, i))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: index %d", ErrChunkMissing, i)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d for %s/%s: %w", i, device, image, err)
		}

		out = append(out, entry.Value()...)
	}

	return out, nil
}

// EvictExpired removes chunks created before the retention cutoff. A chunk
// inserted after the cutoff is never evicted, even when older chunks of
// the same image are, so eviction is safe to race against inserts.
func (n *NatsStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-n.retention)

	lister, err := n.kv.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunk keys: %w", err)
	}

	evicted := 0

	for key := range lister.Keys() {
		entry, err := n.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue // removed concurrently
		}

		if err != nil {
			return evicted, fmt.Errorf("failed to read chunk %s during eviction: %w", key, err)
		}

		if !entry.Created().Before(cutoff) {
			continue
		}

		if err := n.kv.Purge(ctx, key); err != nil {
			return evicted, fmt.Errorf("failed to evict chunk %s: %w", key, err)
		}

		evicted++
	}

	return evicted, nil
}

func (n *NatsStore) Clear(ctx context.Context, device, image string) error {
	prefix := imagePrefix(device, image)

	lister, err := n.kv.ListKeysFiltered(ctx, prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to list chunks for %s/%s: %w", device, image, err)
	}

	for key := range lister.Keys() {
		if err := n.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to clear chunk %s: %w", key, err)
		}
	}

	return nil
}

func (*NatsStore) Close() error { return nil }

func (n *NatsStore) present(ctx context.Context, device, image string) (map[int]bool, error) {
	lister, err := n.kv.ListKeysFiltered(ctx, imagePrefix(device, image)+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for %s/%s: %w", device, image, err)
	}

	present := make(map[int]bool)

	for key := range lister.Keys() {
		if idx, ok := indexFromKey(key); ok {
			present[idx] = true
		}
	}

	return present, nil
}

var _ Store = (*NatsStore)(nil)
