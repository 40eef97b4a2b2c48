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

// Package app wires configuration, connections and pipeline components
// shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailrouter/internal/config"
	"github.com/bcem/mailrouter/internal/lease"
	"github.com/bcem/mailrouter/internal/pipeline"
	"github.com/bcem/mailrouter/internal/queue"
	"github.com/bcem/mailrouter/internal/router"
	"github.com/bcem/mailrouter/internal/sink/httpcall"
	"github.com/bcem/mailrouter/internal/sink/storage"
	"github.com/bcem/mailrouter/internal/store"
)

// App holds the live connections and the assembled pipeline.
type App struct {
	Config    *config.Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Store     *store.Store
	Publisher *queue.Publisher
	Pipeline  *pipeline.Pipeline
}

// SetupLogging installs the JSON logger writing to w as the default.
func SetupLogging(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// New migrates the schema, connects to PostgreSQL and Redis, and assembles
// the pipeline. Redis is optional at runtime: when it cannot be reached the
// pipeline runs without leases or outcome events.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// --- Schema ---
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	slog.Info("database migrations applied")

	// --- Connect to PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	a := &App{Config: cfg, Pool: pool, Store: store.NewStore(pool)}

	// --- Connect to Redis ---
	opts := []pipeline.Option{}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opt)
	a.Publisher = queue.NewPublisher(a.Redis, cfg.OutcomesQueue)
	if err := a.Publisher.Ping(ctx); err != nil {
		slog.Warn("redis unavailable, running without leases or outcome events", "error", err)
	} else {
		slog.Info("connected to Redis")
		opts = append(opts,
			pipeline.WithLeases(lease.NewLocker(a.Redis, cfg.LeaseTTL)),
			pipeline.WithNotifier(a.Publisher),
		)
	}

	// --- Sinks and router ---
	rt := router.New(
		storage.NewSink(pool),
		httpcall.NewSink(&http.Client{}, cfg.HTTPSink),
		a.Store,
	)

	p, err := pipeline.New(a.Store, rt, pipeline.Config{
		Strategy:             cfg.Strategy,
		Normalizer:           cfg.Normalizer,
		SuggestionConfidence: cfg.SuggestionConfidence,
		ClaimTimeout:         cfg.ClaimTimeout,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p
	return a, nil
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.Pool.Close()
}
