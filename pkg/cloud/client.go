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

// Package cloud calls the external backend services this subsystem treats
// as opaque collaborators: device lineage resolution, wake-session
// ingestion, and image completion.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/models"
)

const (
	defaultTimeout = 15 * time.Second

	lineagePath    = "/rpc/resolve-device-lineage"
	ingestionPath  = "/rpc/wake-ingestion"
	completionPath = "/rpc/image-completion"
)

var (
	// ErrLineageNotFound marks a valid identifier the backend has no
	// hierarchy for. This is a downstream condition, not a protocol error.
	ErrLineageNotFound = errors.New("device lineage not found")

	ErrBackendRejected = errors.New("backend rejected request")
)

// WakeIngestionRequest links inbound image metadata to downstream wake
// bookkeeping. ExistingImageID is set when resuming a partial transfer so
// the backend reuses the prior record instead of opening a new one.
type WakeIngestionRequest struct {
	DeviceID        string            `json:"device_id"`
	CapturedAt      time.Time         `json:"captured_at"`
	ImageName       string            `json:"image_name"`
	Telemetry       *models.Telemetry `json:"telemetry,omitempty"`
	ExistingImageID string            `json:"existing_image_id,omitempty"`
}

// Client is the downstream service contract. Implementations must be safe
// for concurrent use.
type Client interface {
	ResolveDeviceLineage(ctx context.Context, deviceID string) (*models.Lineage, error)
	WakeIngestion(ctx context.Context, req WakeIngestionRequest) (*models.WakeIngestionResult, error)
	ImageCompletion(ctx context.Context, imageID, imageURL string) (*models.ImageCompletionResult, error)
}

// HTTPClient talks JSON over HTTP to the backend RPC surface.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logger.Logger
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.WithComponent("cloud"),
	}
}

func (c *HTTPClient) ResolveDeviceLineage(ctx context.Context, deviceID string) (*models.Lineage, error) {
	var out models.Lineage

	status, err := c.post(ctx, lineagePath, map[string]string{"device_id": deviceID}, &out)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrLineageNotFound, deviceID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve lineage for %s: %w", deviceID, err)
	}

	return &out, nil
}

func (c *HTTPClient) WakeIngestion(ctx context.Context, req WakeIngestionRequest) (*models.WakeIngestionResult, error) {
	var out models.WakeIngestionResult

	if _, err := c.post(ctx, ingestionPath, req, &out); err != nil {
		return nil, fmt.Errorf("wake ingestion failed for %s/%s: %w", req.DeviceID, req.ImageName, err)
	}

	if !out.Success {
		return nil, fmt.Errorf("%w: wake ingestion for %s/%s", ErrBackendRejected, req.DeviceID, req.ImageName)
	}

	return &out, nil
}

func (c *HTTPClient) ImageCompletion(ctx context.Context, imageID, imageURL string) (*models.ImageCompletionResult, error) {
	var out models.ImageCompletionResult

	body := map[string]string{"image_id": imageID, "image_url": imageURL}

	if _, err := c.post(ctx, completionPath, body, &out); err != nil {
		return nil, fmt.Errorf("image completion failed for %s: %w", imageID, err)
	}

	if !out.Success {
		return nil, fmt.Errorf("%w: image completion for %s", ErrBackendRejected, imageID)
	}

	return &out, nil
}

// post sends a JSON request and decodes a JSON response. It returns the
// HTTP status alongside any error so callers can map specific statuses to
// domain conditions.
func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrBackendRejected, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.StatusCode, nil
}

var _ Client = (*HTTPClient)(nil)
