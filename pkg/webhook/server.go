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

// Package webhook exposes the HTTP surface the MQTT bridge delivers
// device messages to. One POST endpoint accepts a wrapped message, the
// rest is liveness, metrics, and a capability descriptor.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brainlytree/camlink/pkg/identity"
	"github.com/brainlytree/camlink/pkg/logger"
	"github.com/brainlytree/camlink/pkg/metrics"
	"github.com/brainlytree/camlink/pkg/protocol"
	"github.com/brainlytree/camlink/pkg/session"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Dispatcher routes a normalized inbound message into the protocol engine.
// *session.Manager is the production implementation.
type Dispatcher interface {
	HandleHello(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error)
	HandleData(ctx context.Context, deviceID string, payload map[string]interface{}) (string, error)
}

// InboundMessage is the bridge's wrapper around one MQTT message.
type InboundMessage struct {
	Topic   string                 `json:"topic"`
	Payload map[string]interface{} `json:"payload"`
}

// Response is the uniform webhook reply body.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server is the webhook HTTP server.
type Server struct {
	router     *mux.Router
	dispatcher Dispatcher
	httpServer *http.Server
	apiKey     string
	log        logger.Logger
}

// WithAPIKey requires X-API-Key on the webhook endpoint.
func WithAPIKey(key string) func(*Server) {
	return func(s *Server) {
		s.apiKey = key
	}
}

func NewServer(dispatcher Dispatcher, log logger.Logger, options ...func(*Server)) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		dispatcher: dispatcher,
		log:        log.WithComponent("webhook"),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware, corsMiddleware)

	ingest := s.router.PathPrefix("/webhook").Subrouter()
	if s.apiKey != "" {
		ingest.Use(apiKeyMiddleware(s.apiKey))
	}

	ingest.HandleFunc("", s.handleInbound).Methods(http.MethodPost)
	ingest.HandleFunc("", s.handleDescriptor).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is canceled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", addr).Msg("Webhook server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "ok"

	defer func() {
		metrics.WebhookRequests.WithLabelValues(outcome).Inc()
		metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	var msg InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		outcome = "bad_request"
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))

		return
	}

	rawDevice, channel, err := protocol.ParseTopic(msg.Topic)
	if err != nil {
		outcome = "bad_request"
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	deviceID, err := identity.Normalize(rawDevice)
	if err != nil {
		outcome = "bad_request"
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	var result string

	switch channel {
	case protocol.ChannelStatus:
		result, err = s.dispatcher.HandleHello(r.Context(), deviceID, msg.Payload)
	case protocol.ChannelData:
		result, err = s.dispatcher.HandleData(r.Context(), deviceID, msg.Payload)
	default:
		err = fmt.Errorf("%w: %q", protocol.ErrBadTopic, msg.Topic)
	}

	if err != nil {
		status := http.StatusInternalServerError
		outcome = "error"

		if isRequestError(err) {
			status = http.StatusBadRequest
			outcome = "bad_request"
		}

		s.log.Error().
			Err(err).
			Str("device_id", deviceID).
			Str("topic", msg.Topic).
			Msg("Webhook dispatch failed")

		s.writeError(w, status, err)

		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Message: result})
}

// isRequestError distinguishes malformed device input from internal
// failures, for the 400-versus-500 split.
func isRequestError(err error) bool {
	for _, target := range []error{
		protocol.ErrBadTopic,
		protocol.ErrMissingImageName,
		protocol.ErrMissingChunkID,
		protocol.ErrEmptyChunk,
		protocol.ErrBadChunkPayload,
		identity.ErrInvalidDeviceID,
		session.ErrUnknownShape,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// handleDescriptor reports what this endpoint accepts, for bridge
// configuration checks.
func (s *Server) handleDescriptor(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "camlink-webhook",
		"accepts":     []string{"PREFIX/{device}/status", "PREFIX/{device}/data"},
		"description": "Webhook-wrapped MQTT ingestion for field camera transfers",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, Response{Success: false, Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
