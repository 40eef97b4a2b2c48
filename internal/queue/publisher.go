// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue publishes processed-email outcome events to a Redis list.
// Downstream consumers (dashboards, notification workers) pop events with
// BRPOP to learn an email's category or duplicate status without polling
// the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client is the subset of the Redis client the publisher needs.
type Client interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Publisher sends outcome events to a Redis list.
type Publisher struct {
	rdb       Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// OutcomeEvent describes how one email left the pipeline.
type OutcomeEvent struct {
	EventID      string    `json:"event_id"`
	EmailID      int64     `json:"email_id"`
	MessageID    string    `json:"message_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Category     string    `json:"category,omitempty"`
	CategoryID   int64     `json:"category_id,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	CanonicalID  int64     `json:"canonical_id,omitempty"`
	SuggestionID int64     `json:"suggestion_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// PublishOutcome serialises an outcome event and pushes it to the queue.
// A missing event id is filled in.
func (p *Publisher) PublishOutcome(ctx context.Context, event *OutcomeEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(data)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome event",
		"event_id", event.EventID,
		"email_id", event.EmailID,
		"outcome", event.Outcome,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
