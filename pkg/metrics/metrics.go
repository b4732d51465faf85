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

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camlink_webhook_requests_total",
		Help: "Webhook requests by outcome.",
	}, []string{"outcome"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camlink_webhook_request_duration_seconds",
		Help:    "Webhook request handling latency.",
		Buckets: prometheus.DefBuckets,
	})

	ChunksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_chunks_accepted_total",
		Help: "Chunks stored for the first time.",
	})

	ChunksDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_chunks_duplicate_total",
		Help: "Chunk redeliveries absorbed by the idempotent store.",
	})

	ImagesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_images_finalized_total",
		Help: "Images assembled, uploaded, and acknowledged.",
	})

	MissingChunkRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_missing_chunk_requests_total",
		Help: "Resend requests dispatched on the command channel.",
	})

	TelemetryReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_telemetry_readings_total",
		Help: "Standalone telemetry readings persisted.",
	})

	SweeperEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camlink_sweeper_evictions_total",
		Help: "Expired chunks evicted by the cleanup sweeper.",
	})
)
