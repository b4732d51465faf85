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

// camlinkd is the CamLink ingestion daemon: it accepts webhook-wrapped
// MQTT messages from field cameras, buffers image chunks in JetStream,
// finalizes complete images to object storage, and acknowledges devices.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brainlytree/camlink/pkg/chunkstore"
	"github.com/brainlytree/camlink/pkg/cloud"
	"github.com/brainlytree/camlink/pkg/config"
	"github.com/brainlytree/camlink/pkg/finalize"
	"github.com/brainlytree/camlink/pkg/kv"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/protocol"
	"github.com/brainlytree/camlink/pkg/publish"
	"github.com/brainlytree/camlink/pkg/registry"
	"github.com/brainlytree/camlink/pkg/session"
	"github.com/brainlytree/camlink/pkg/storage"
	"github.com/brainlytree/camlink/pkg/sweeper"
	"github.com/brainlytree/camlink/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "/etc/camlink/camlink.json", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal().Err(err).Msg("camlinkd exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logg logger.Logger) error {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("camlinkd"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return err
	}

	chunks, err := chunkstore.NewNatsStore(ctx, js, cfg.NATS.ChunkBucket, cfg.ChunkRetention.Std())
	if err != nil {
		return err
	}
	defer func() { _ = chunks.Close() }()

	deviceKV, err := kv.NewNatsStore(ctx, js, cfg.NATS.DeviceBucket)
	if err != nil {
		return err
	}
	defer func() { _ = deviceKV.Close() }()

	sessionKV, err := kv.NewNatsStore(ctx, js, cfg.NATS.SessionBucket)
	if err != nil {
		return err
	}
	defer func() { _ = sessionKV.Close() }()

	objects, err := storage.NewNatsObjectStore(ctx, js, cfg.NATS.ObjectBucket, cfg.NATS.PublicBaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = objects.Close() }()

	devices := registry.New(deviceKV, cfg.FallbackWake.Std(), logg)
	sessions := session.NewStore(sessionKV)
	backend := cloud.NewHTTPClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey, cfg.Cloud.Timeout.Std(), logg)
	pub := publish.NewNatsPublisher(nc)

	fin := finalize.New(chunks, objects, backend, sessions, devices, pub, cfg.TopicPrefix, cfg.FallbackWake.Std(), logg)
	mgr := session.NewManager(protocol.NewMapper(logg), chunks, sessions, devices, backend, fin, pub, cfg.TopicPrefix, logg)
	fin.OnFinalized = mgr.InvalidateHint
	mgr.SetStaleAfter(cfg.ChunkRetention.Std())

	sw := sweeper.New(chunks, cfg.SweepInterval.Std(), logg)

	go func() {
		if err := sw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error().Err(err).Msg("Sweeper exited with error")
		}
	}()
	defer sw.Stop()

	var opts []func(*webhook.Server)
	if cfg.WebhookAPIKey != "" {
		opts = append(opts, webhook.WithAPIKey(cfg.WebhookAPIKey))
	}

	srv := webhook.NewServer(mgr, logg, opts...)

	logg.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("topic_prefix", cfg.TopicPrefix).
		Str("nats_url", cfg.NATS.URL).
		Msg("Starting camlinkd")

	if err := srv.Start(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
