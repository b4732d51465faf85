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

// Package sweeper runs the background cleanup loop that evicts chunk
// buffers abandoned mid-transfer, typically by a device whose battery died
// before the last chunk.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/brainlytree/camlink/pkg/chunkstore"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/metrics"
)

const defaultInterval = time.Minute

// Sweeper periodically evicts expired chunks from the chunk store. The
// sweep runs against per-entry timestamps, so it races safely with
// concurrent inserts: a chunk stored after the cutoff is never touched.
type Sweeper struct {
	chunks   chunkstore.Store
	interval time.Duration
	log      logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	done chan struct{}
}

func New(chunks chunkstore.Store, interval time.Duration, log logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		chunks:   chunks,
		interval: interval,
		log:      log.WithComponent("sweeper"),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is canceled or Stop is
// called. It blocks; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("Starting chunk sweeper")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Context canceled, stopping sweeper")

			return ctx.Err()
		case <-s.done:
			s.log.Info().Msg("Sweeper stopped")

			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop signals the sweep loop to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Sweep performs a single eviction pass. Exposed so callers can force a
// pass outside the ticker cadence.
func (s *Sweeper) Sweep(ctx context.Context) {
	evicted, err := s.chunks.EvictExpired(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("Chunk eviction pass failed")

		return
	}

	if evicted > 0 {
		metrics.SweeperEvictions.Add(float64(evicted))

		s.log.Info().Int("evicted", evicted).Msg("Evicted expired chunks")

		return
	}

	s.log.Debug().Msg("Eviction pass found nothing expired")
}
