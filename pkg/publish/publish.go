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

// Package publish records outbound protocol intent. Actual delivery to the
// device is the MQTT bridge's job: this subsystem only publishes the
// message onto the bridge's subject tree.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// Publisher emits one outbound message on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// NatsPublisher hands outbound messages to the bridge over core NATS.
type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

func (p *NatsPublisher) Publish(_ context.Context, topic string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}

	// NATS subjects are dot-separated; the bridge maps them back to the
	// slash-separated MQTT topic tree.
	if err := p.nc.Publish(topicToSubject(topic), payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func topicToSubject(topic string) string {
	subject := make([]byte, len(topic))

	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			subject[i] = '.'
		} else {
			subject[i] = topic[i]
		}
	}

	return string(subject)
}

// Recorded is one captured outbound message.
type Recorded struct {
	Topic   string
	Message interface{}
}

// Recorder is a Publisher for tests that captures messages in order.
type Recorder struct {
	mu       sync.Mutex
	messages []Recorded
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, topic string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, Recorded{Topic: topic, Message: message})

	return nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Recorded, len(r.messages))
	copy(out, r.messages)

	return out
}

// OnTopic returns the messages published to one topic.
func (r *Recorder) OnTopic(topic string) []Recorded {
	var out []Recorded

	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}

	return out
}

var (
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
