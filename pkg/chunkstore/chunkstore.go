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

// Package chunkstore persists image fragments across stateless webhook
// invocations.
//
// The store is the authority on chunk presence. Every operation is safe
// under concurrent duplicate delivery: the first write for a
// (device, image, index) key wins and redelivery is reported as a
// duplicate, never re-applied.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultRetention bounds how long a partial transfer survives before
	// the sweeper may evict it.
	DefaultRetention = 30 * time.Minute
)

var (
	ErrIncompleteImage = errors.New("chunk set incomplete for assembly")
	ErrChunkMissing    = errors.New("stored chunk disappeared during assembly")
)

// Store is the idempotent chunk store contract.
type Store interface {
	// Put inserts a chunk if absent. The returned bool reports whether this
	// call performed the insert; false means a record already existed and
	// the delivery was a duplicate.
	Put(ctx context.Context, device, image string, index int, data []byte) (inserted bool, err error)

	// Count returns the number of distinct chunk indices stored, including
	// any beyond a declared total.
	Count(ctx context.Context, device, image string) (int, error)

	// IsComplete reports whether every index in [0, totalChunks) is stored.
	// Excess indices are ignored.
	IsComplete(ctx context.Context, device, image string, totalChunks int) (bool, error)

	// MissingIndices returns the sorted ascending indices in
	// [0, totalChunks) not yet stored.
	MissingIndices(ctx context.Context, device, image string, totalChunks int) ([]int, error)

	// Assemble concatenates chunks strictly in index order. It fails unless
	// every index in [0, totalChunks) is present.
	Assemble(ctx context.Context, device, image string, totalChunks int) ([]byte, error)

	// EvictExpired removes chunks stored before now minus the retention
	// window and returns how many were removed.
	EvictExpired(ctx context.Context, now time.Time) (int, error)

	// Clear removes every chunk for a completed or abandoned transfer.
	Clear(ctx context.Context, device, image string) error

	Close() error
}

// sanitizePart maps an identifier or image name onto the character set
// valid in a KV key token. Runes outside that set, and the underscore
// that introduces escapes, become "_<hex>_" so distinct raw names can
// never sanitize onto the same key and interleave their chunks.
func sanitizePart(s string) string {
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

func chunkKey(device, image string, index int) string {
	return fmt.Sprintf("%s.%s.%d", sanitizePart(device), sanitizePart(image), index)
}

func imagePrefix(device, image string) string {
	return sanitizePart(device) + "." + sanitizePart(image) + "."
}

// indexFromKey parses the trailing chunk index out of a store key.
func indexFromKey(key string) (int, bool) {
	pos := strings.LastIndexByte(key, '.')
	if pos < 0 || pos == len(key)-1 {
		return 0, false
	}

	n, err := strconv.Atoi(key[pos+1:])
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// missingFrom computes the sorted missing indices given the set present.
func missingFrom(present map[int]bool, totalChunks int) []int {
	missing := make([]int, 0)

	for i := 0; i < totalChunks; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}

	return missing
}
