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

package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainlytree/camlink/pkg/chunkstore"
	"github.com/brainlytree/camlink/pkg/logger"
)

func TestSweepEvictsExpiredChunks(t *testing.T) {
	store := chunkstore.NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	_, err := store.Put(ctx, "98A316F82928", "img_001.jpg", 0, []byte("AA"))
	require.NoError(t, err)

	s := New(store, time.Minute, logger.NewTestLogger())

	// Fresh chunks survive a pass.
	s.Sweep(ctx)

	count, err := store.Count(ctx, "98A316F82928", "img_001.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The same pass an hour later removes them.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.Sweep(ctx)

	count, err = store.Count(ctx, "98A316F82928", "img_001.jpg")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartStop(t *testing.T) {
	store := chunkstore.NewMemoryStore(30 * time.Minute)
	s := New(store, time.Hour, logger.NewTestLogger())

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStartHonorsContext(t *testing.T) {
	store := chunkstore.NewMemoryStore(30 * time.Minute)
	s := New(store, time.Hour, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
