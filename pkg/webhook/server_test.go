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

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/session"
)

type fakeDispatcher struct {
	helloDevices []string
	dataDevices  []string
	helloErr     error
	dataErr      error
}

func (f *fakeDispatcher) HandleHello(_ context.Context, deviceID string, _ map[string]interface{}) (string, error) {
	f.helloDevices = append(f.helloDevices, deviceID)

	return "hello processed", f.helloErr
}

func (f *fakeDispatcher) HandleData(_ context.Context, deviceID string, _ map[string]interface{}) (string, error) {
	f.dataDevices = append(f.dataDevices, deviceID)

	return "chunk stored", f.dataErr
}

func postWebhook(t *testing.T, srv *Server, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer

	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", &buf)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()

	var resp Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	return resp
}

func TestInboundStatusMessage(t *testing.T) {
	d := &fakeDispatcher{}
	srv := NewServer(d, logger.NewTestLogger())

	rr := postWebhook(t, srv, InboundMessage{
		Topic:   "device/24:6F:28:AB:CD:EF/status",
		Payload: map[string]interface{}{"status": "alive", "pendingImg": 1},
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)

	resp := decodeResponse(t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello processed", resp.Message)

	// Identifier normalized before dispatch.
	assert.Equal(t, []string{"246F28ABCDEF"}, d.helloDevices)
	assert.Empty(t, d.dataDevices)
}

func TestInboundDataMessage(t *testing.T) {
	d := &fakeDispatcher{}
	srv := NewServer(d, logger.NewTestLogger())

	rr := postWebhook(t, srv, InboundMessage{
		Topic:   "ESP32CAM/246f28abcdef/data",
		Payload: map[string]interface{}{"chunk_id": 0, "image_name": "img_001.jpg"},
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"246F28ABCDEF"}, d.dataDevices)
}

func TestInboundRejections(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{not json"},
		{"missing topic segments", InboundMessage{Topic: "device/status"}},
		{"outbound channel", InboundMessage{Topic: "device/246F28ABCDEF/ack"}},
		{"unknown channel", InboundMessage{Topic: "device/246F28ABCDEF/other"}},
		{"invalid device id", InboundMessage{Topic: "device/nothex/status"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			srv := NewServer(d, logger.NewTestLogger())

			rr := postWebhook(t, srv, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rr.Code)

			resp := decodeResponse(t, rr)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, d.helloDevices)
			assert.Empty(t, d.dataDevices)
		})
	}
}

func TestDispatchErrorMapping(t *testing.T) {
	t.Run("protocol error is 400", func(t *testing.T) {
		d := &fakeDispatcher{dataErr: fmt.Errorf("device X: %w", session.ErrUnknownShape)}
		srv := NewServer(d, logger.NewTestLogger())

		rr := postWebhook(t, srv, InboundMessage{Topic: "device/246F28ABCDEF/data"}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("internal error is 500", func(t *testing.T) {
		d := &fakeDispatcher{helloErr: errors.New("kv unavailable")}
		srv := NewServer(d, logger.NewTestLogger())

		rr := postWebhook(t, srv, InboundMessage{Topic: "device/246F28ABCDEF/status"}, nil)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)

		resp := decodeResponse(t, rr)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "kv unavailable")
	})
}

func TestCapabilityDescriptor(t *testing.T) {
	srv := NewServer(&fakeDispatcher{}, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "camlink-webhook")
	assert.Contains(t, rr.Body.String(), "PREFIX/{device}/status")
}

func TestHealthz(t *testing.T) {
	srv := NewServer(&fakeDispatcher{}, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(&fakeDispatcher{}, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "go_") || strings.Contains(rr.Body.String(), "camlink_"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	d := &fakeDispatcher{}
	srv := NewServer(d, logger.NewTestLogger(), WithAPIKey("secret"))

	msg := InboundMessage{Topic: "device/246F28ABCDEF/status"}

	rr := postWebhook(t, srv, msg, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postWebhook(t, srv, msg, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postWebhook(t, srv, msg, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rr.Code)

	// Liveness stays open regardless of the key.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	health := httptest.NewRecorder()
	srv.Router().ServeHTTP(health, req)
	assert.Equal(t, http.StatusOK, health.Code)
}
