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

// Package config loads the camlinkd configuration from a JSON file with
// environment-variable overrides for deploy-time secrets.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brainlytree/camlink/pkg/logger"
)

var (
	errInvalidDuration = errors.New("invalid duration")

	ErrMissingCloudURL = errors.New("cloud.base_url is required")
)

// Duration accepts both "30m" strings and raw nanosecond numbers in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))

		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %q", errInvalidDuration, value)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NATSConfig names the NATS server and the JetStream buckets backing the
// chunk buffer, the device/session records, and durable image storage.
type NATSConfig struct {
	URL           string `json:"url"`
	ChunkBucket   string `json:"chunk_bucket"`
	DeviceBucket  string `json:"device_bucket"`
	SessionBucket string `json:"session_bucket"`
	ObjectBucket  string `json:"object_bucket"`
	PublicBaseURL string `json:"public_base_url"`
}

// CloudConfig points at the downstream backend RPC surface.
type CloudConfig struct {
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

// Config is the full camlinkd configuration.
type Config struct {
	ListenAddr     string        `json:"listen_addr"`
	TopicPrefix    string        `json:"topic_prefix"`
	WebhookAPIKey  string        `json:"webhook_api_key,omitempty"`
	NATS           NATSConfig    `json:"nats"`
	Cloud          CloudConfig   `json:"cloud"`
	ChunkRetention Duration      `json:"chunk_retention,omitempty"`
	SweepInterval  Duration      `json:"sweep_interval,omitempty"`
	FallbackWake   Duration      `json:"fallback_wake,omitempty"`
	Logging        logger.Config `json:"logging"`
}

// Load reads the JSON config file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployments inject addresses and secrets without
// editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CAMLINK_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}

	if v := os.Getenv("CAMLINK_NATS_URL"); v != "" {
		c.NATS.URL = v
	}

	if v := os.Getenv("CAMLINK_WEBHOOK_API_KEY"); v != "" {
		c.WebhookAPIKey = v
	}

	if v := os.Getenv("CAMLINK_CLOUD_URL"); v != "" {
		c.Cloud.BaseURL = v
	}

	if v := os.Getenv("CAMLINK_CLOUD_API_KEY"); v != "" {
		c.Cloud.APIKey = v
	}
}

// Validate applies defaults and rejects configurations the daemon cannot
// run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.TopicPrefix == "" {
		c.TopicPrefix = "device"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}

	if c.NATS.ChunkBucket == "" {
		c.NATS.ChunkBucket = "camlink-chunks"
	}

	if c.NATS.DeviceBucket == "" {
		c.NATS.DeviceBucket = "camlink-devices"
	}

	if c.NATS.SessionBucket == "" {
		c.NATS.SessionBucket = "camlink-sessions"
	}

	if c.NATS.ObjectBucket == "" {
		c.NATS.ObjectBucket = "camlink-images"
	}

	if c.Cloud.BaseURL == "" {
		return ErrMissingCloudURL
	}

	if c.Cloud.Timeout <= 0 {
		c.Cloud.Timeout = Duration(15 * time.Second)
	}

	if c.ChunkRetention <= 0 {
		c.ChunkRetention = Duration(30 * time.Minute)
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = Duration(time.Minute)
	}

	if c.FallbackWake <= 0 {
		c.FallbackWake = Duration(6 * time.Hour)
	}

	return nil
}
