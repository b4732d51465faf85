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

// Package finalize assembles verified-complete chunk sets into images,
// commits them to durable object storage, and drives the downstream
// completion call and device acknowledgment.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brainlytree/camlink/pkg/chunkstore"
	"github.com/brainlytree/camlink/pkg/cloud"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/metrics"
	"github.com/brainlytree/camlink/pkg/protocol"
	"github.com/brainlytree/camlink/pkg/publish"
	"github.com/brainlytree/camlink/pkg/registry"
	"github.com/brainlytree/camlink/pkg/storage"
)

// SessionResolver is the slice of session persistence the finalizer needs.
type SessionResolver interface {
	Linkage(ctx context.Context, device, image string) (imageID string, capturedAt time.Time, found bool, err error)
	MarkFinalized(ctx context.Context, device, image string) error
}

// Finalizer commits complete transfers. Finalize is idempotent: a retry
// after success finds no buffered chunks and is a no-op, and a retry after
// a failed downstream call finds the buffer intact and runs again.
type Finalizer struct {
	chunks       chunkstore.Store
	objects      storage.ObjectStore
	backend      cloud.Client
	sessions     SessionResolver
	devices      *registry.Registry
	pub          publish.Publisher
	prefix       string
	fallbackWake time.Duration
	log          logger.Logger
	audit        logger.Logger
	now          func() time.Time

	// OnFinalized, when set, runs after a successful finalization so the
	// session layer can drop its buffer hint.
	OnFinalized func(device, image string)
}

func New(
	chunks chunkstore.Store,
	objects storage.ObjectStore,
	backend cloud.Client,
	sessions SessionResolver,
	devices *registry.Registry,
	pub publish.Publisher,
	topicPrefix string,
	fallbackWake time.Duration,
	log logger.Logger,
) *Finalizer {
	if fallbackWake <= 0 {
		fallbackWake = registry.DefaultWakeInterval
	}

	return &Finalizer{
		chunks:       chunks,
		objects:      objects,
		backend:      backend,
		sessions:     sessions,
		devices:      devices,
		pub:          pub,
		prefix:       topicPrefix,
		fallbackWake: fallbackWake,
		log:          log.WithComponent("finalize"),
		audit:        log.WithComponent("audit"),
		now:          time.Now,
	}
}

// Finalize assembles, uploads, and acknowledges a transfer. "Not yet
// ready" (missing chunks) and "nothing buffered" (already finalized and
// cleared) are deliberate non-error no-ops.
func (f *Finalizer) Finalize(ctx context.Context, device, image string, totalChunks int) error {
	count, err := f.chunks.Count(ctx, device, image)
	if err != nil {
		return err
	}

	if count == 0 {
		// Guard against re-entrant finalize after the buffer was cleared:
		// zero stored chunks must not be mistaken for a complete empty set.
		f.log.Debug().
			Str("device_id", device).
			Str("image_name", image).
			Msg("No buffered chunks, skipping finalize")

		return nil
	}

	missing, err := f.chunks.MissingIndices(ctx, device, image, totalChunks)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		f.log.Debug().
			Str("device_id", device).
			Str("image_name", image).
			Int("missing", len(missing)).
			Msg("Transfer not yet complete, skipping finalize")

		return nil
	}

	data, err := f.chunks.Assemble(ctx, device, image, totalChunks)
	if err != nil {
		return fmt.Errorf("assembly failed for %s/%s: %w", device, image, err)
	}

	path, loc := f.resolveUploadPath(ctx, device, image)

	url, err := f.objects.Upload(ctx, path, data)
	if err != nil {
		return fmt.Errorf("upload failed for %s: %w", path, err)
	}

	imageID, err := f.resolveImageID(ctx, device, image)
	if err != nil {
		return err
	}

	completion, err := f.backend.ImageCompletion(ctx, imageID, url)
	if err != nil {
		// Chunks stay buffered so a retried delivery can re-finalize.
		return err
	}

	f.auditScore(ctx, device, completion.ImageID, completion.MoldScore)

	if err := f.chunks.Clear(ctx, device, image); err != nil {
		return err
	}

	if err := f.sessions.MarkFinalized(ctx, device, image); err != nil {
		return err
	}

	if f.OnFinalized != nil {
		f.OnFinalized(device, image)
	}

	nextWake := f.now().Add(f.fallbackWake)
	if completion.NextWakeAt != nil {
		nextWake = *completion.NextWakeAt
	}

	ack := protocol.BuildCompletionAck(device, image, nextWake, loc)
	ackTopic := protocol.Subject(f.prefix, device, protocol.ChannelAck)

	if err := f.pub.Publish(ctx, ackTopic, ack); err != nil {
		return err
	}

	metrics.ImagesFinalized.Inc()

	f.log.Info().
		Str("device_id", device).
		Str("image_name", image).
		Int("bytes", len(data)).
		Str("url", url).
		Str("next_wake", ack.AckOK.NextWakeTime).
		Msg("Image finalized")

	return nil
}

// resolveUploadPath places the object under the device's company/site
// hierarchy when lineage resolves, else falls back to a flat path.
func (f *Finalizer) resolveUploadPath(ctx context.Context, device, image string) (string, *time.Location) {
	lineage, err := f.backend.ResolveDeviceLineage(ctx, device)
	if err != nil {
		if !errors.Is(err, cloud.ErrLineageNotFound) {
			f.log.Warn().Err(err).Str("device_id", device).Msg("Lineage resolution failed, using flat path")
		}

		return fmt.Sprintf("%s/%s", device, image), time.UTC
	}

	loc := time.UTC

	if lineage.Timezone != "" {
		if parsed, err := time.LoadLocation(lineage.Timezone); err == nil {
			loc = parsed
		}
	}

	return fmt.Sprintf("%s/%s/%s/%s", lineage.CompanyID, lineage.SiteID, device, image), loc
}

// resolveImageID returns the downstream image record, re-invoking wake
// ingestion when the linkage was lost across stateless invocations.
func (f *Finalizer) resolveImageID(ctx context.Context, device, image string) (string, error) {
	imageID, capturedAt, found, err := f.sessions.Linkage(ctx, device, image)
	if err != nil {
		return "", err
	}

	if found && imageID != "" {
		return imageID, nil
	}

	if capturedAt.IsZero() {
		capturedAt = f.now()
	}

	ingestion, err := f.backend.WakeIngestion(ctx, cloud.WakeIngestionRequest{
		DeviceID:   device,
		CapturedAt: capturedAt,
		ImageName:  image,
	})
	if err != nil {
		return "", err
	}

	return ingestion.ImageID, nil
}

// auditScore flags out-of-range classifier scores to the error-audit
// record. Operators see these; the device never does.
func (f *Finalizer) auditScore(ctx context.Context, device, imageID string, score *float64) {
	if score == nil || (*score >= 0 && *score <= 100) {
		return
	}

	msg := fmt.Sprintf("classifier returned out-of-range mold score %.2f", *score)

	if err := f.devices.RecordAuditError(ctx, device, imageID, msg); err != nil {
		f.audit.Error().Err(err).Str("device_id", device).Msg("Failed to write error-audit record")

		return
	}

	f.audit.Error().
		Str("device_id", device).
		Str("image_id", imageID).
		Float64("score", *score).
		Msg("Out-of-range classifier score, record marked failed")
}
