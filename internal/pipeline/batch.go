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
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/mailrouter/internal/metrics"
	"github.com/bcem/mailrouter/internal/models"
)

// BatchResult summarises one batch run.
type BatchResult struct {
	RunID       string        `json:"run_id"`
	Claimed     int           `json:"claimed"`
	Categorized int           `json:"categorized"`
	Duplicates  int           `json:"duplicates"`
	Suggested   int           `json:"suggested"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Released    int           `json:"released"`
	Results     []*Result     `json:"results,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func (b *BatchResult) add(r *Result) {
	b.Results = append(b.Results, r)
	switch r.Outcome {
	case OutcomeCategorized:
		b.Categorized++
	case OutcomeDuplicate:
		b.Duplicates++
	case OutcomeSuggested:
		b.Suggested++
	default:
		b.Failed++
	}
}

func (b *BatchResult) merge(o *BatchResult) {
	b.Claimed += o.Claimed
	b.Categorized += o.Categorized
	b.Duplicates += o.Duplicates
	b.Suggested += o.Suggested
	b.Failed += o.Failed
	b.Skipped += o.Skipped
	b.Released += o.Released
	b.Results = append(b.Results, o.Results...)
}

// RunBatch claims up to limit emails from the backlog and processes them
// in received order. It returns an error only when the run could not
// start (configuration load or backlog claim); claimed emails are never
// left behind in that case. If ctx is cancelled mid-batch, the
// unprocessed remainder is returned to the backlog.
func (p *Pipeline) RunBatch(ctx context.Context, limit int) (*BatchResult, error) {
	start := time.Now()
	br := &BatchResult{RunID: uuid.New().String()}

	r, err := p.load(ctx)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	emails, err := p.store.ClaimBacklog(ctx, limit, p.cfg.ClaimTimeout)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	br.Claimed = len(emails)

	slog.Info("batch started", "run_id", br.RunID, "claimed", len(emails), "limit", limit)

	for i := range emails {
		if ctx.Err() != nil {
			br.Released = p.release(ctx, emails[i:])
			break
		}

		e := &emails[i]
		res, err := p.processLeased(ctx, r, e.ID, false)
		if errors.Is(err, errSkipped) {
			br.Skipped++
			slog.Info("email leased elsewhere, skipping", "email_id", e.ID)
			continue
		}
		if err != nil {
			br.add(&Result{EmailID: e.ID, Outcome: OutcomeFailed, Error: err.Error()})
			continue
		}
		br.add(res)
	}

	br.Duration = time.Since(start)
	metrics.BatchesTotal.WithLabelValues("success").Inc()

	slog.Info("batch finished",
		"run_id", br.RunID,
		"claimed", br.Claimed,
		"categorized", br.Categorized,
		"duplicates", br.Duplicates,
		"suggested", br.Suggested,
		"failed", br.Failed,
		"skipped", br.Skipped,
		"released", br.Released,
		"duration_ms", br.Duration.Milliseconds(),
	)
	return br, nil
}

// release puts claimed but unprocessed emails back into the backlog.
func (p *Pipeline) release(ctx context.Context, emails []models.Email) int {
	ctx = context.WithoutCancel(ctx)
	n := 0
	for _, e := range emails {
		if err := p.store.UpdateStatus(ctx, e.ID, models.StatusPending, ""); err != nil {
			slog.Warn("failed to release claimed email", "email_id", e.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// Drain runs batches until the backlog is empty or ctx is cancelled.
func (p *Pipeline) Drain(ctx context.Context, batchSize int) (*BatchResult, error) {
	total := &BatchResult{RunID: uuid.New().String()}
	start := time.Now()

	for ctx.Err() == nil {
		br, err := p.RunBatch(ctx, batchSize)
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		total.merge(br)
		if br.Claimed == 0 || br.Claimed == br.Skipped {
			break
		}
	}

	total.Duration = time.Since(start)
	return total, nil
}
