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
	"errors"
	"fmt"
	"time"

	"github.com/brainlytree/camlink/pkg/chunkstore"
	"github.com/brainlytree/camlink/pkg/cloud"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/metrics"
	"github.com/brainlytree/camlink/pkg/models"
	"github.com/brainlytree/camlink/pkg/protocol"
	"github.com/brainlytree/camlink/pkg/publish"
	"github.com/brainlytree/camlink/pkg/registry"
)

var ErrUnknownShape = errors.New("payload shape matches no known message kind")

// Finalizer assembles and commits a verified-complete transfer.
type Finalizer interface {
	Finalize(ctx context.Context, device, image string, totalChunks int) error
}

// Manager dispatches canonical messages through the protocol state machine.
type Manager struct {
	mapper     *protocol.Mapper
	chunks     chunkstore.Store
	sessions   *Store
	buffer     *Buffer
	devices    *registry.Registry
	backend    cloud.Client
	finalizer  Finalizer
	pub        publish.Publisher
	prefix     string
	staleAfter time.Duration
	log        logger.Logger
	now        func() time.Time
}

func NewManager(
	mapper *protocol.Mapper,
	chunks chunkstore.Store,
	sessions *Store,
	devices *registry.Registry,
	backend cloud.Client,
	finalizer Finalizer,
	pub publish.Publisher,
	topicPrefix string,
	log logger.Logger,
) *Manager {
	return &Manager{
		mapper:     mapper,
		chunks:     chunks,
		sessions:   sessions,
		buffer:     NewBuffer(),
		devices:    devices,
		backend:    backend,
		finalizer:  finalizer,
		pub:        pub,
		prefix:     topicPrefix,
		staleAfter: chunkstore.DefaultRetention,
		log:        log.WithComponent("session"),
		now:        time.Now,
	}
}

// SetStaleAfter overrides how long a non-terminal session may sit idle
// before it is treated as abandoned. Keep it aligned with the chunk
// store's retention window.
func (m *Manager) SetStaleAfter(d time.Duration) {
	if d > 0 {
		m.staleAfter = d
	}
}

// isStale reports whether a non-terminal session outlived the retention
// window. By then the sweeper has evicted its chunks; the record is a
// leftover whose linkage must not leak into a fresh transfer.
func (m *Manager) isStale(rec *Record) bool {
	if rec.State == StateNone || rec.State.Terminal() {
		return false
	}

	return m.now().Sub(rec.UpdatedAt) >= m.staleAfter
}

// HandleHello processes a status message. A HELLO while another transfer
// for the device is mid-flight defers to the existing session rather than
// resetting it.
func (m *Manager) HandleHello(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error) {
	ev := m.mapper.MapHello(deviceID, payload)

	dev, err := m.devices.RecordWake(ctx, ev)
	if err != nil {
		return "", err
	}

	active, found, err := m.sessions.Active(ctx, deviceID)
	if err != nil {
		return "", err
	}

	state := StateNone
	if found && !active.State.Terminal() && !m.isStale(active) {
		state = active.State
	}

	switch ActionFor(state, models.KindHello) {
	case ActionDeferHello:
		m.log.Info().
			Str("device_id", deviceID).
			Str("image_name", active.ImageName).
			Str("state", active.State.String()).
			Msg("HELLO during active session, deferring to in-flight transfer")

		return "hello deferred to active session", nil
	case ActionOpenSession:
		if err := m.sessions.OpenScaffold(ctx, deviceID); err != nil {
			return "", err
		}
	default:
	}

	if err := m.dispatchWakeCommand(ctx, dev, ev); err != nil {
		return "", err
	}

	return "hello processed", nil
}

// dispatchWakeCommand tells the device what to do with this wake: send a
// named pending image, capture a fresh one when nothing is queued, and in
// either case schedule the next wake.
func (m *Manager) dispatchWakeCommand(ctx context.Context, dev *models.Device, ev *models.WakeEvent) error {
	cmdTopic := protocol.Subject(m.prefix, ev.DeviceID, protocol.ChannelCmd)

	switch {
	case len(ev.PendingNames) > 0:
		if err := m.pub.Publish(ctx, cmdTopic, protocol.BuildSendImageCommand(ev.PendingNames[0])); err != nil {
			return err
		}
	case ev.PendingImages > 0:
		// The device knows its own queue; it will start transmitting.
	default:
		if err := m.pub.Publish(ctx, cmdTopic, protocol.BuildCaptureCommand()); err != nil {
			return err
		}
	}

	if dev.NextWakeAt != nil {
		cmd := protocol.BuildNextWakeCommand(*dev.NextWakeAt, m.devices.Location(dev))

		return m.pub.Publish(ctx, cmdTopic, cmd)
	}

	return nil
}

// HandleData processes a data-topic message, disambiguated by shape.
func (m *Manager) HandleData(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error) {
	switch m.mapper.Classify(payload) {
	case models.KindChunk:
		return m.handleChunk(ctx, deviceID, payload)
	case models.KindMetadata:
		return m.handleMetadata(ctx, deviceID, payload)
	case models.KindTelemetry:
		return m.handleTelemetry(ctx, deviceID, payload)
	default:
		return "", fmt.Errorf("%w: device %s", ErrUnknownShape, deviceID)
	}
}

func (m *Manager) handleTelemetry(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error) {
	reading := m.mapper.MapTelemetry(deviceID, payload)

	if err := m.devices.RecordReading(ctx, reading); err != nil {
		return "", err
	}

	metrics.TelemetryReadings.Inc()

	return "telemetry recorded", nil
}

func (m *Manager) handleMetadata(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error) {
	meta, err := m.mapper.MapMetadata(deviceID, payload)
	if err != nil {
		return "", err
	}

	rec, err := m.loadRecord(ctx, deviceID, meta.ImageName)
	if err != nil {
		return "", err
	}

	if rec.State.Terminal() {
		// The same image name on a later wake is a fresh transfer. Stale
		// linkage from the finalized record must not leak into it.
		rec.TotalChunks = 0
		rec.ImageID = ""
		rec.PayloadID = ""
		rec.SessionID = ""
		rec.State = StateNone
	}

	stored, err := m.chunks.Count(ctx, deviceID, meta.ImageName)
	if err != nil {
		return "", err
	}

	resume := stored > 0 || ActionFor(rec.State, models.KindMetadata) == ActionResumeSession

	ingestion, err := m.backend.WakeIngestion(ctx, cloud.WakeIngestionRequest{
		DeviceID:        deviceID,
		CapturedAt:      meta.CapturedAt,
		ImageName:       meta.ImageName,
		Telemetry:       meta.Telemetry,
		ExistingImageID: rec.ImageID,
	})
	if err != nil {
		return "", err
	}

	// The declared total is fixed by the first metadata for an image;
	// later redeclarations on resume do not change it.
	if rec.TotalChunks == 0 {
		rec.TotalChunks = meta.TotalChunks
	}

	rec.ImageSize = meta.ImageSize
	rec.MaxChunkSize = meta.MaxChunkSize
	rec.CapturedAt = meta.CapturedAt
	rec.Telemetry = meta.Telemetry
	rec.PayloadID = ingestion.PayloadID
	rec.ImageID = ingestion.ImageID
	rec.SessionID = ingestion.SessionID
	rec.UpdatedAt = m.now()

	if resume {
		rec.State = StateReceivingChunks
	} else {
		rec.State = StateMetadataReceived
	}

	if err := m.saveRecord(ctx, rec); err != nil {
		return "", err
	}

	m.log.Info().
		Str("device_id", deviceID).
		Str("image_name", meta.ImageName).
		Int("total_chunks", rec.TotalChunks).
		Bool("resume", resume).
		Msg("Metadata received")

	// Chunks may have arrived before metadata, or a resumed session may
	// already be fully populated.
	if _, err := m.checkCompleteness(ctx, rec); err != nil {
		return "", err
	}

	if resume {
		return "metadata merged into existing session", nil
	}

	return "session started", nil
}

func (m *Manager) handleChunk(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error) {
	chunk, err := m.mapper.MapChunk(deviceID, payload)
	if err != nil {
		return "", err
	}

	inserted, err := m.chunks.Put(ctx, deviceID, chunk.ImageName, chunk.Index, chunk.Payload)
	if err != nil {
		return "", err
	}

	if inserted {
		metrics.ChunksAccepted.Inc()
	} else {
		metrics.ChunksDuplicate.Inc()
		m.log.Debug().
			Str("device_id", deviceID).
			Str("image_name", chunk.ImageName).
			Int("chunk_id", chunk.Index).
			Msg("Duplicate chunk absorbed")
	}

	rec, err := m.loadRecord(ctx, deviceID, chunk.ImageName)
	if err != nil {
		return "", err
	}

	if rec.State == StateNone || rec.State.Terminal() {
		// Chunk before metadata, or a fresh transfer after the previous
		// one finalized: begin a new buffer that metadata will claim.
		rec.TotalChunks = 0
		rec.ImageID = ""
		rec.PayloadID = ""
		rec.SessionID = ""
	}

	rec.State = StateReceivingChunks
	rec.UpdatedAt = m.now()

	if err := m.saveRecord(ctx, rec); err != nil {
		return "", err
	}

	if rec.TotalChunks > 0 {
		complete, err := m.checkCompleteness(ctx, rec)
		if err != nil {
			return "", err
		}

		// Finalizing clears the buffer, so the gap check below would see
		// every index missing and tell the device to resend an image it
		// just delivered. Only look for gaps when the set was incomplete.
		if !complete {
			if err := m.maybeRequestMissing(ctx, rec, chunk.Index); err != nil {
				return "", err
			}
		}
	}

	if inserted {
		return "chunk stored", nil
	}

	return "duplicate chunk ignored", nil
}

// checkCompleteness re-derives completeness from the chunk store and hands
// complete transfers to the finalizer. It reports whether the set was
// complete so the caller can skip the gap check for finalized transfers.
func (m *Manager) checkCompleteness(ctx context.Context, rec *Record) (bool, error) {
	if rec.TotalChunks <= 0 {
		return false, nil
	}

	complete, err := m.chunks.IsComplete(ctx, rec.DeviceID, rec.ImageName, rec.TotalChunks)
	if err != nil {
		return false, err
	}

	if !complete {
		return false, nil
	}

	rec.State = StateComplete
	rec.UpdatedAt = m.now()

	if err := m.saveRecord(ctx, rec); err != nil {
		return false, err
	}

	return true, m.finalizer.Finalize(ctx, rec.DeviceID, rec.ImageName, rec.TotalChunks)
}

// maybeRequestMissing asks for resends once the device has sent its final
// declared index but gaps remain. Firmware watches the cmd channel for
// these, so the request never rides on ack.
func (m *Manager) maybeRequestMissing(ctx context.Context, rec *Record, arrivedIndex int) error {
	if arrivedIndex != rec.TotalChunks-1 {
		return nil
	}

	missing, err := m.chunks.MissingIndices(ctx, rec.DeviceID, rec.ImageName, rec.TotalChunks)
	if err != nil {
		return err
	}

	if len(missing) == 0 {
		return nil
	}

	m.log.Info().
		Str("device_id", rec.DeviceID).
		Str("image_name", rec.ImageName).
		Ints("missing", missing).
		Msg("Transfer pass ended with gaps, requesting resend")

	metrics.MissingChunkRequests.Inc()

	cmdTopic := protocol.Subject(m.prefix, rec.DeviceID, protocol.ChannelCmd)

	return m.pub.Publish(ctx, cmdTopic, protocol.BuildMissingChunkRequest(rec.DeviceID, rec.ImageName, missing))
}

// loadRecord consults the buffer hint first, then the persisted store, and
// falls back to an empty StateNone record.
func (m *Manager) loadRecord(ctx context.Context, device, image string) (*Record, error) {
	if rec, ok := m.buffer.Get(device, image); ok {
		return m.expireIfStale(rec), nil
	}

	rec, found, err := m.sessions.Get(ctx, device, image)
	if err != nil {
		return nil, err
	}

	if found {
		m.buffer.Put(rec)

		return m.expireIfStale(rec), nil
	}

	return &Record{DeviceID: device, ImageName: image, State: StateNone}, nil
}

// expireIfStale moves a session abandoned past the retention window into
// its terminal state, so callers start fresh instead of resuming it.
func (m *Manager) expireIfStale(rec *Record) *Record {
	if !m.isStale(rec) {
		return rec
	}

	m.log.Info().
		Str("device_id", rec.DeviceID).
		Str("image_name", rec.ImageName).
		Time("updated_at", rec.UpdatedAt).
		Msg("Session outlived retention window, marking abandoned")

	rec.State = StateAbandoned

	return rec
}

func (m *Manager) saveRecord(ctx context.Context, rec *Record) error {
	if err := m.sessions.Save(ctx, rec); err != nil {
		return err
	}

	m.buffer.Put(rec)

	return nil
}

// InvalidateHint drops a (device, image) entry from the buffer. The
// finalizer calls this after clearing a transfer so a later resend of the
// same image name starts fresh instead of hitting stale hint state.
func (m *Manager) InvalidateHint(device, image string) {
	m.buffer.Drop(device, image)
}
