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

package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// WorkerConfig configures the polling loop.
type WorkerConfig struct {
	BatchSize int

	// BusyPause separates consecutive non-empty batches.
	BusyPause time.Duration

	// IdleInterval is the wait after an empty batch or a failed run.
	IdleInterval time.Duration
}

// Worker repeatedly runs batches until stopped.
type Worker struct {
	p   *Pipeline
	cfg WorkerConfig
}

// NewWorker creates a worker with sensible defaults.
func NewWorker(p *Pipeline, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BusyPause < 0 {
		cfg.BusyPause = 0
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 30 * time.Second
	}
	return &Worker{p: p, cfg: cfg}
}

// Run polls the backlog until ctx is cancelled. A cancelled context stops
// the loop between batches; the batch in flight returns its unprocessed
// emails to the backlog.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started",
		"batch_size", w.cfg.BatchSize,
		"idle_interval", w.cfg.IdleInterval,
	)

	for {
		wait := w.cfg.IdleInterval

		br, err := w.p.RunBatch(ctx, w.cfg.BatchSize)
		switch {
		case err != nil:
			slog.Error("batch run failed", "error", err)
		case br.Claimed > 0:
			wait = w.cfg.BusyPause
		}

		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-time.After(wait):
		}
	}
}
