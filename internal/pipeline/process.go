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
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/mailrouter/internal/classify"
	"github.com/bcem/mailrouter/internal/duplicate"
	"github.com/bcem/mailrouter/internal/extract"
	"github.com/bcem/mailrouter/internal/metrics"
	"github.com/bcem/mailrouter/internal/models"
	"github.com/bcem/mailrouter/internal/queue"
	"github.com/bcem/mailrouter/internal/router"
	"github.com/bcem/mailrouter/internal/store"
)

// Outcome is how an email left the pipeline.
type Outcome string

const (
	OutcomeCategorized Outcome = "categorized"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeSuggested   Outcome = "suggested"
	OutcomeFailed      Outcome = "failed"
)

// ExitCode maps an outcome to the process exit status of a single-email
// run.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeCategorized:
		return 0
	case OutcomeDuplicate:
		return 3
	case OutcomeSuggested:
		return 4
	default:
		return 1
	}
}

// Result is the outcome of one email's run.
type Result struct {
	EmailID      int64                     `json:"email_id"`
	Outcome      Outcome                   `json:"outcome"`
	DecidedBy    classify.DecisionKind     `json:"decided_by,omitempty"`
	CategoryID   int64                     `json:"category_id,omitempty"`
	Category     string                    `json:"category,omitempty"`
	Confidence   float64                   `json:"confidence,omitempty"`
	RuleID       int64                     `json:"rule_id,omitempty"`
	Duplicate    *models.DuplicateLink     `json:"duplicate,omitempty"`
	SuggestionID int64                     `json:"suggestion_id,omitempty"`
	Parsed       *models.ParsedData        `json:"parsed,omitempty"`
	Executions   []models.RuleExecution    `json:"executions,omitempty"`
	HTTPCalls    []*models.HTTPCallLog     `json:"-"`
	Insertions   []router.InsertionOutcome `json:"insertions,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Duration     time.Duration             `json:"duration"`
}

// process runs every stage for one email. Storage failures fail the email
// and are recorded on it; they never abort the caller's batch.
func (p *Pipeline) process(ctx context.Context, r *run, e *models.Email) *Result {
	start := time.Now()
	res := &Result{EmailID: e.ID}

	if err := p.stages(ctx, r, e, res); err != nil {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		slog.Error("email processing failed", "email_id", e.ID, "error", err)

		// Record the failure even when the run was cancelled mid-email.
		if uerr := p.store.UpdateStatus(context.WithoutCancel(ctx), e.ID, models.StatusFailed, err.Error()); uerr != nil {
			slog.Error("failed to record email failure", "email_id", e.ID, "error", uerr)
		}
	}

	res.Duration = time.Since(start)
	metrics.EmailsProcessed.WithLabelValues(string(res.Outcome)).Inc()
	metrics.ProcessingDuration.Observe(res.Duration.Seconds())

	slog.Info("email processed",
		"email_id", e.ID,
		"outcome", res.Outcome,
		"category", res.Category,
		"duration_ms", res.Duration.Milliseconds(),
	)
	p.notify(ctx, e, res)
	return res
}

// stages fills res and returns the first storage error.
func (p *Pipeline) stages(ctx context.Context, r *run, e *models.Email, res *Result) error {
	hash := p.norm.Fingerprint(e.Sender, e.Body())
	if err := p.store.SetContentHash(ctx, e.ID, hash); err != nil {
		slog.Warn("failed to store content hash", "email_id", e.ID, "error", err)
	}
	e.ContentHash = hash

	// --- Duplicate gate ---
	dup, err := p.checkDuplicate(ctx, e)
	if err != nil {
		return err
	}
	if dup != nil {
		res.Outcome = OutcomeDuplicate
		res.Duplicate = dup
		return nil
	}

	// --- Classification ---
	decision := r.classifier.Classify(e)
	res.DecidedBy = decision.Kind

	var matched *models.Rule
	if decision.Kind == classify.DecidedByRule {
		matched = decision.Rule.Rule
		res.RuleID = matched.ID
	}

	// --- Extraction ---
	fields, err := p.extract(ctx, r, e, decision, matched, res)
	if err != nil {
		return err
	}

	// --- Routing ---
	if matched != nil && p.router != nil {
		rep := p.router.Route(ctx, e, *matched, fields)
		res.Executions = append(res.Executions, rep.Executions...)
		res.HTTPCalls = rep.HTTPCalls
		res.Insertions = rep.Insertions
	}

	// --- Assignment or suggestion ---
	if decision.Categorized() {
		cat, conf := decision.Category()
		if err := p.store.UpsertAssignment(ctx, models.CategoryAssignment{
			EmailID:    e.ID,
			CategoryID: cat.ID,
			Confidence: conf,
			Method:     models.AssignAuto,
			AssignedAt: p.now(),
		}); err != nil {
			return fmt.Errorf("assign category: %w", err)
		}
		res.Outcome = OutcomeCategorized
		res.CategoryID = cat.ID
		res.Category = cat.Name
		res.Confidence = conf
	} else {
		id, err := p.store.InsertSuggestion(ctx, *decision.Suggestion)
		if err != nil {
			return fmt.Errorf("store suggestion: %w", err)
		}
		res.Outcome = OutcomeSuggested
		res.SuggestionID = id
		slog.Info("category suggestion created",
			"email_id", e.ID,
			"suggestion_id", id,
			"suggested_name", decision.Suggestion.SuggestedName,
		)
	}

	if err := p.store.UpdateStatus(ctx, e.ID, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark email completed: %w", err)
	}
	return nil
}

// checkDuplicate evaluates the candidate pool. When e is a copy of an
// earlier email, the best such link is persisted and returned. Otherwise
// every later copy of e is linked to it and nil is returned, so e goes on
// to classification.
func (p *Pipeline) checkDuplicate(ctx context.Context, e *models.Email) (*models.DuplicateLink, error) {
	s := p.matcher.Strategy()
	from, to := s.Range(e.ReceivedAt)

	candidates, err := p.store.Candidates(ctx, store.CandidateQuery{
		Sender:    e.Sender,
		ExcludeID: e.ID,
		From:      from,
		To:        to,
		Anchor:    e.ReceivedAt,
		Proximity: s.OrderByProximity,
		Limit:     s.MaxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("load duplicate candidates: %w", err)
	}

	candidates = p.matcher.SortCandidates(e, candidates)

	var earlier, later []models.DuplicateLink
	for _, l := range p.matcher.Evaluate(e, candidates) {
		if l.DuplicateID == e.ID {
			earlier = append(earlier, l)
		} else {
			later = append(later, l)
		}
	}

	if best := duplicate.Best(earlier, s.AssignThreshold); best != nil {
		if err := p.saveDuplicate(ctx, *best, s.Name); err != nil {
			return nil, err
		}
		return best, nil
	}

	for _, l := range later {
		if l.Score < s.AssignThreshold {
			continue
		}
		if err := p.saveDuplicate(ctx, l, s.Name); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (p *Pipeline) saveDuplicate(ctx context.Context, link models.DuplicateLink, strategy string) error {
	if err := p.store.SaveDuplicate(ctx, link); err != nil {
		return fmt.Errorf("save duplicate link: %w", err)
	}
	metrics.DuplicatesDetected.WithLabelValues(link.Method).Inc()

	slog.Info("duplicate detected",
		"canonical_id", link.CanonicalID,
		"duplicate_id", link.DuplicateID,
		"score", link.Score,
		"method", link.Method,
		"strategy", strategy,
	)
	return nil
}

// skipDuplicate reports an email that was already linked to its canonical
// copy. Nothing past the duplicate gate runs for it.
func (p *Pipeline) skipDuplicate(ctx context.Context, e *models.Email) *Result {
	res := &Result{EmailID: e.ID, Outcome: OutcomeDuplicate}
	if e.DuplicateOf != nil {
		res.Duplicate = &models.DuplicateLink{CanonicalID: *e.DuplicateOf, DuplicateID: e.ID}
	}
	if e.Status != models.StatusCompleted {
		if err := p.store.UpdateStatus(ctx, e.ID, models.StatusCompleted, ""); err != nil {
			slog.Warn("failed to complete duplicate email", "email_id", e.ID, "error", err)
		}
	}
	metrics.EmailsProcessed.WithLabelValues(string(res.Outcome)).Inc()
	slog.Info("email already marked duplicate, skipping", "email_id", e.ID, "duplicate_of", e.DuplicateOf)
	return res
}

// extract applies the matched rule's extraction patterns and every
// parsing template, stores the single best result, and returns the fields
// to route.
func (p *Pipeline) extract(ctx context.Context, r *run, e *models.Email, d classify.Decision, rule *models.Rule, res *Result) (map[string]any, error) {
	var (
		candidates []extract.Candidate
		ruleFields map[string]any
	)

	if rule != nil && len(rule.Extraction) > 0 {
		start := time.Now()
		out := extract.Extract(rule.Extraction, e)
		ruleFields = out.Fields

		types := make(map[string]models.DataType, len(rule.Extraction))
		for _, ep := range rule.Extraction {
			types[ep.FieldName] = ep.DataType
		}
		if err := p.store.SaveExtractedFields(ctx, e.ID, rule.ID, out.Fields, types); err != nil {
			return nil, fmt.Errorf("save extracted fields: %w", err)
		}

		exec := models.RuleExecution{
			EmailID: e.ID,
			RuleID:  rule.ID,
			Type:    models.ExecExtraction,
			Status:  models.ExecSuccess,
			Latency: time.Since(start),
			Result:  out.Fields,
		}
		if out.Matches == 0 {
			exec.Status = models.ExecFailed
			exec.Error = "no fields matched"
		}
		p.logExecution(ctx, exec)
		res.Executions = append(res.Executions, exec)

		cat, _ := d.Category()
		id := rule.ID
		candidates = append(candidates, extract.Candidate{CategoryName: cat.Name, RuleID: &id, Result: out})
	}

	candidates = append(candidates, extract.EvaluateTemplates(r.snap.Templates, e)...)
	best := extract.SelectBest(candidates)

	pd := extract.ParsedData(e.ID, best)
	if best == nil && d.Categorized() {
		cat, _ := d.Category()
		pd.CategoryName = cat.Name
	}
	if err := p.store.SaveParsedData(ctx, pd); err != nil {
		return nil, fmt.Errorf("save parsed data: %w", err)
	}
	res.Parsed = &pd

	if ruleFields != nil {
		return ruleFields, nil
	}
	if best != nil {
		return best.Result.Fields, nil
	}
	return map[string]any{}, nil
}

func (p *Pipeline) logExecution(ctx context.Context, exec models.RuleExecution) {
	metrics.SinkExecutions.WithLabelValues(string(exec.Type), string(exec.Status)).Inc()
	if err := p.store.LogRuleExecution(ctx, exec); err != nil {
		slog.Error("failed to log rule execution",
			"email_id", exec.EmailID,
			"rule_id", exec.RuleID,
			"type", exec.Type,
			"error", err,
		)
	}
}

// notify publishes the outcome event. Publishing is best effort.
func (p *Pipeline) notify(ctx context.Context, e *models.Email, res *Result) {
	if p.notifier == nil {
		return
	}
	ev := &queue.OutcomeEvent{
		EmailID:      e.ID,
		MessageID:    e.MessageID,
		Outcome:      string(res.Outcome),
		Category:     res.Category,
		CategoryID:   res.CategoryID,
		Confidence:   res.Confidence,
		SuggestionID: res.SuggestionID,
		Error:        res.Error,
		ProcessedAt:  p.now(),
	}
	if res.Duplicate != nil {
		ev.CanonicalID = res.Duplicate.CanonicalID
	}
	if err := p.notifier.PublishOutcome(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("failed to publish outcome event", "email_id", e.ID, "error", err)
	}
}
