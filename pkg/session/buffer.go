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

import "sync"

// Buffer is the in-process transfer cache keyed by (device, image). It is
// strictly a non-authoritative hint: in a stateless deployment nothing
// guarantees it survives between invocations, so every correctness
// decision re-reads the persisted store. Its only job is skipping a KV
// read on the hot chunk path when the process happens to be warm.
type Buffer struct {
	mu      sync.RWMutex
	entries map[string]*Record
}

func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]*Record)}
}

func (b *Buffer) Get(device, image string) (*Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.entries[bufferKey(device, image)]
	if !ok {
		return nil, false
	}

	clone := *rec

	return &clone, true
}

func (b *Buffer) Put(rec *Record) {
	clone := *rec

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[bufferKey(rec.DeviceID, rec.ImageName)] = &clone
}

func (b *Buffer) Drop(device, image string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, bufferKey(device, image))
}

func bufferKey(device, image string) string {
	return device + "|" + image
}
