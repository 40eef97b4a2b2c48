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

// Mailrouter server
//
// Entry point for the long-running routing service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Applies database migrations and connects to PostgreSQL and Redis
//  3. Runs the backlog worker (duplicate gate, classify, extract, route)
//  4. Serves the pipeline API, /health and /metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/mailrouter/internal/api"
	"github.com/bcem/mailrouter/internal/app"
	"github.com/bcem/mailrouter/internal/config"
	"github.com/bcem/mailrouter/internal/pipeline"
)

func main() {
	app.SetupLogging(os.Stdout, slog.LevelInfo)

	slog.Info("starting mailrouter server")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(os.Stdout, cfg.LogLevel)

	slog.Info("configuration loaded",
		"strategy", cfg.Strategy.Name,
		"batch_size", cfg.BatchSize,
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise service", "error", err)
		os.Exit(1)
	}

	// --- Backlog Worker ---
	worker := pipeline.NewWorker(a.Pipeline, pipeline.WorkerConfig{
		BatchSize:    cfg.BatchSize,
		BusyPause:    cfg.BusyPause,
		IdleInterval: cfg.PollInterval,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// --- HTTP Server ---
	mux := http.NewServeMux()
	api.NewHandler(a.Pipeline, cfg.BatchSize, cfg.MaxBatchSize).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", api.Health(a.Store, a.Publisher))

	// Batch runs answer synchronously, so writes get a longer deadline.
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the worker between emails

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("mailrouter server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		cancel()
		wg.Wait()
		a.Close()
		os.Exit(1)
	}

	wg.Wait()
	a.Close()
	slog.Info("mailrouter server stopped")
}
