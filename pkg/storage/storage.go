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

// Package storage provides durable object storage for finalized images.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore stores immutable image objects. Upload is an idempotent
// overwrite: retried finalization of the same path must be safe.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte) (publicURL string, err error)
	Close() error
}

// NatsObjectStore keeps finalized images in a JetStream object store
// bucket and derives public URLs from a configured base.
type NatsObjectStore struct {
	obs        jetstream.ObjectStore
	publicBase string
}

func NewNatsObjectStore(ctx context.Context, js jetstream.JetStream, bucket, publicBase string) (*NatsObjectStore, error) {
	obs, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "camlink finalized images",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object bucket %s: %w", bucket, err)
	}

	return &NatsObjectStore{obs: obs, publicBase: strings.TrimSuffix(publicBase, "/")}, nil
}

func (s *NatsObjectStore) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if _, err := s.obs.PutBytes(ctx, path, data); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	return s.publicBase + "/" + path, nil
}

func (*NatsObjectStore) Close() error { return nil }

// MemoryObjectStore is an in-process ObjectStore for tests. It records
// upload counts per path so idempotency can be asserted.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]int
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]int),
	}
}

func (s *MemoryObjectStore) Upload(_ context.Context, path string, data []byte) (string, error) {
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[path] = stored
	s.uploads[path]++

	return "memory://" + path, nil
}

func (*MemoryObjectStore) Close() error { return nil }

// Object returns the stored bytes for path.
func (s *MemoryObjectStore) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[path]

	return data, ok
}

// UploadCount returns how many times path was written.
func (s *MemoryObjectStore) UploadCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.uploads[path]
}

// TotalUploads returns the number of upload calls across all paths.
func (s *MemoryObjectStore) TotalUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.uploads {
		total += n
	}

	return total
}

var (
	_ ObjectStore = (*NatsObjectStore)(nil)
	_ ObjectStore = (*MemoryObjectStore)(nil)
)
