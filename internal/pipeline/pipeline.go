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

// Package pipeline drives emails through the routing pipeline:
//
//  1. Fingerprint the normalized content
//  2. Gate on duplicates (duplicates stop here)
//  3. Classify by rule, weighted vote, or fall back to a suggestion
//  4. Extract fields from the matched rule and every parsing template
//  5. Route the matched rule's fields to its tables and HTTP endpoints
//  6. Record the category assignment and mark the email completed
//
// Each stage commits its own writes, so a run stopped between emails
// leaves no partial state behind. Configuration is loaded once per run
// (one batch or one single-email run) and reloaded by the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/mailrouter/internal/classify"
	"github.com/bcem/mailrouter/internal/duplicate"
	"github.com/bcem/mailrouter/internal/lease"
	"github.com/bcem/mailrouter/internal/models"
	"github.com/bcem/mailrouter/internal/normalize"
	"github.com/bcem/mailrouter/internal/queue"
	"github.com/bcem/mailrouter/internal/router"
	"github.com/bcem/mailrouter/internal/store"
)

// Store is the persistence the pipeline needs.
type Store interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	GetEmail(ctx context.Context, id int64) (*models.Email, error)
	ClaimBacklog(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Email, error)
	Candidates(ctx context.Context, q store.CandidateQuery) ([]models.Email, error)
	SaveDuplicate(ctx context.Context, link models.DuplicateLink) error
	SetContentHash(ctx context.Context, id int64, hash string) error
	UpdateStatus(ctx context.Context, id int64, status models.EmailStatus, lastErr string) error
	UpsertAssignment(ctx context.Context, a models.CategoryAssignment) error
	InsertSuggestion(ctx context.Context, s models.Suggestion) (int64, error)
	SaveExtractedFields(ctx context.Context, emailID, ruleID int64, fields map[string]any, types map[string]models.DataType) error
	SaveParsedData(ctx context.Context, pd models.ParsedData) error
	LogRuleExecution(ctx context.Context, exec models.RuleExecution) error
}

// Router delivers a matched rule's fields to its destinations.
type Router interface {
	Route(ctx context.Context, e *models.Email, rule models.Rule, fields map[string]any) *router.Report
}

// Lease is a held per-email lease.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-email leases. Acquire returns lease.ErrHeld when
// another worker holds the email.
type Locker interface {
	Acquire(ctx context.Context, emailID int64) (Lease, error)
}

// Notifier publishes outcome events.
type Notifier interface {
	PublishOutcome(ctx context.Context, event *queue.OutcomeEvent) error
}

// Config holds pipeline settings.
type Config struct {
	Strategy             duplicate.Strategy
	Normalizer           normalize.Options
	SuggestionConfidence float64

	// ClaimTimeout is how long a claimed email may stay in processing
	// before another worker may claim it again.
	ClaimTimeout time.Duration
}

// Pipeline processes emails.
type Pipeline struct {
	store    Store
	router   Router
	locker   Locker
	notifier Notifier

	cfg     Config
	norm    *normalize.Normalizer
	matcher *duplicate.Matcher
	now     func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLocker enables per-email leases.
func WithLocker(l Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithLeases enables per-email leases backed by a Redis lease locker.
func WithLeases(l *lease.Locker) Option {
	return WithLocker(redisLocker{l})
}

// WithNotifier enables outcome events.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(st Store, r Router, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("duplicate strategy: %w", err)
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 10 * time.Minute
	}

	norm := normalize.New(cfg.Normalizer)
	p := &Pipeline{
		store:   st,
		router:  r,
		cfg:     cfg,
		norm:    norm,
		matcher: duplicate.NewMatcher(cfg.Strategy, norm),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// run is the configuration a single run evaluates against.
type run struct {
	snap       *models.Snapshot
	classifier *classify.Classifier
}

// load reads the configuration snapshot. Failure here is fatal for the run.
func (p *Pipeline) load(ctx context.Context) (*run, error) {
	snap, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load configuration snapshot: %w", err)
	}
	cl := classify.New(snap,
		classify.WithSuggestionConfidence(p.cfg.SuggestionConfidence),
		classify.WithClock(p.now),
	)
	return &run{snap: snap, classifier: cl}, nil
}

// errSkipped marks an email another worker is processing.
var errSkipped = errors.New("email leased by another worker")

// ProcessEmail runs the pipeline for a single email by id, regardless of
// its current status. An email already marked duplicate is reported as
// such and goes no further. Errors are returned only when the email could not
// be processed at all; a per-email failure is reported in the Result.
func (p *Pipeline) ProcessEmail(ctx context.Context, id int64) (*Result, error) {
	r, err := p.load(ctx)
	if err != nil {
		return nil, err
	}

	res, err := p.processLeased(ctx, r, id, true)
	if errors.Is(err, errSkipped) {
		return nil, fmt.Errorf("email %d: %w", id, lease.ErrHeld)
	}
	return res, err
}

// processLeased wraps process with the optional per-email lease. The email
// is read once the lease is held, so a copy linked by an earlier email of
// the same batch never reaches classification.
func (p *Pipeline) processLeased(ctx context.Context, r *run, id int64, markProcessing bool) (*Result, error) {
	if p.locker != nil {
		l, err := p.locker.Acquire(ctx, id)
		if errors.Is(err, lease.ErrHeld) {
			return nil, errSkipped
		}
		if err != nil {
			// Redis trouble never blocks processing; the backlog claim
			// still guards batch runs.
			slog.Warn("lease unavailable, processing without it", "email_id", id, "error", err)
		} else {
			defer func() {
				if err := l.Release(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("failed to release lease", "email_id", id, "error", err)
				}
			}()
		}
	}

	e, err := p.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsDuplicate {
		return p.skipDuplicate(ctx, e), nil
	}

	if markProcessing {
		if err := p.store.UpdateStatus(ctx, e.ID, models.StatusProcessing, ""); err != nil {
			return nil, fmt.Errorf("mark email %d processing: %w", e.ID, err)
		}
	}
	return p.process(ctx, r, e), nil
}

type redisLocker struct{ l *lease.Locker }

func (r redisLocker) Acquire(ctx context.Context, emailID int64) (Lease, error) {
	le, err := r.l.Acquire(ctx, emailID)
	if err != nil {
		return nil, err
	}
	return le, nil
}
