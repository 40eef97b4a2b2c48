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

// Package router fans a categorized email's extracted fields out to the
// selected rule's destinations and records the rule-execution audit trail.
//
// Destinations are independent: a failed table insert or HTTP call never
// stops the remaining destinations of the same rule. Each sink type used by
// a rule produces exactly one rule execution record, marked success when at
// least one of its destinations succeeded.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/metrics"
	"github.com/bcem/mailrouter/internal/models"
	"github.com/bcem/mailrouter/internal/sink/storage"
)

// StorageSink inserts one row into a rule's destination table.
type StorageSink interface {
	Insert(ctx context.Context, target models.InsertionTarget, env mapping.Env) (*storage.Insertion, error)
}

// HTTPSink dispatches one configured HTTP call and returns its final outcome.
type HTTPSink interface {
	Execute(ctx context.Context, call models.HTTPCall, env mapping.Env) *models.HTTPCallLog
}

// Audit persists the router's audit records.
type Audit interface {
	LogRuleExecution(ctx context.Context, exec models.RuleExecution) error
	LogHTTPCall(ctx context.Context, entry *models.HTTPCallLog) error
}

// Router routes extracted data to storage tables and HTTP endpoints.
type Router struct {
	storage StorageSink
	http    HTTPSink
	audit   Audit
	now     func() time.Time
}

// New creates a router. Either sink may be nil, in which case rules that
// configure destinations of that type record a failed execution.
func New(storage StorageSink, http HTTPSink, audit Audit) *Router {
	return &Router{
		storage: storage,
		http:    http,
		audit:   audit,
		now:     time.Now,
	}
}

// InsertionOutcome is the result of one storage destination.
type InsertionOutcome struct {
	TargetID int64  `json:"target_id"`
	Table    string `json:"table"`
	RowID    int64  `json:"row_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// SinkSummary is stored as the result payload of a rule execution.
type SinkSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Details    any `json:"details"`
}

// Report is everything one Route call produced.
type Report struct {
	Insertions []InsertionOutcome
	HTTPCalls  []*models.HTTPCallLog
	Executions []models.RuleExecution
}

// Route delivers fields extracted from e under rule to every destination
// the rule configures. It never returns an error: destination failures
// are reported in the returned Report and the audit trail.
func (r *Router) Route(ctx context.Context, e *models.Email, rule models.Rule, fields map[string]any) *Report {
	env := mapping.Env{Email: e, Fields: fields, ProcessedAt: r.now()}
	rep := &Report{}

	if len(rule.Targets) > 0 {
		start := time.Now()
		rep.Insertions = r.insertAll(ctx, rule, env)

		ok := 0
		for _, o := range rep.Insertions {
			if o.Success {
				ok++
			}
		}
		exec := execution(e.ID, rule.ID, models.ExecDatabaseInsertion, start, SinkSummary{
			Total:      len(rep.Insertions),
			Successful: ok,
			Failed:     len(rep.Insertions) - ok,
			Details:    rep.Insertions,
		}, "No successful insertions")
		rep.Executions = append(rep.Executions, r.record(ctx, exec))
	}

	if len(rule.HTTPCalls) > 0 {
		start := time.Now()
		rep.HTTPCalls = r.callAll(ctx, rule, env)

		ok := 0
		for _, c := range rep.HTTPCalls {
			if c.Success {
				ok++
			}
		}
		exec := execution(e.ID, rule.ID, models.ExecHTTPCall, start, SinkSummary{
			Total:      len(rep.HTTPCalls),
			Successful: ok,
			Failed:     len(rep.HTTPCalls) - ok,
			Details:    httpDetails(rep.HTTPCalls),
		}, "No successful HTTP calls")
		rep.Executions = append(rep.Executions, r.record(ctx, exec))
	}

	return rep
}

func (r *Router) insertAll(ctx context.Context, rule models.Rule, env mapping.Env) []InsertionOutcome {
	out := make([]InsertionOutcome, 0, len(rule.Targets))
	for _, t := range rule.Targets {
		o := InsertionOutcome{TargetID: t.ID, Table: t.Table}
		if r.storage == nil {
			o.Error = "storage sink not configured"
			out = append(out, o)
			continue
		}

		ins, err := r.storage.Insert(ctx, t, env)
		if err != nil {
			o.Error = err.Error()
			slog.Error("database insertion failed",
				"email_id", env.Email.ID,
				"rule_id", rule.ID,
				"table", t.Table,
				"error", err,
			)
		} else {
			o.Success = true
			o.Table = ins.Table
			o.RowID = ins.RowID
			slog.Info("database insertion completed",
				"email_id", env.Email.ID,
				"rule_id", rule.ID,
				"table", ins.Table,
				"row_id", ins.RowID,
			)
		}
		out = append(out, o)
	}
	return out
}

func (r *Router) callAll(ctx context.Context, rule models.Rule, env mapping.Env) []*models.HTTPCallLog {
	out := make([]*models.HTTPCallLog, 0, len(rule.HTTPCalls))
	for _, c := range rule.HTTPCalls {
		var entry *models.HTTPCallLog
		if r.http == nil {
			entry = &models.HTTPCallLog{
				EmailID:    env.Email.ID,
				HTTPCallID: c.ID,
				URL:        c.BaseURL,
				Method:     c.Method,
				Error:      "http sink not configured",
			}
		} else {
			entry = r.http.Execute(ctx, c, env)
		}

		if r.audit != nil {
			if err := r.audit.LogHTTPCall(ctx, entry); err != nil {
				slog.Error("failed to log http call",
					"email_id", env.Email.ID,
					"http_call_id", c.ID,
					"error", err,
				)
			}
		}
		out = append(out, entry)
	}
	return out
}

// record persists a rule execution and counts it.
func (r *Router) record(ctx context.Context, exec models.RuleExecution) models.RuleExecution {
	metrics.SinkExecutions.WithLabelValues(string(exec.Type), string(exec.Status)).Inc()
	if r.audit == nil {
		return exec
	}
	if err := r.audit.LogRuleExecution(ctx, exec); err != nil {
		slog.Error("failed to log rule execution",
			"email_id", exec.EmailID,
			"rule_id", exec.RuleID,
			"type", exec.Type,
			"error", err,
		)
	}
	return exec
}

func execution(emailID, ruleID int64, t models.ExecutionType, start time.Time, sum SinkSummary, failMsg string) models.RuleExecution {
	exec := models.RuleExecution{
		EmailID: emailID,
		RuleID:  ruleID,
		Type:    t,
		Status:  models.ExecSuccess,
		Latency: time.Since(start),
		Result:  sum,
	}
	if sum.Successful == 0 {
		exec.Status = models.ExecFailed
		exec.Error = failMsg
	}
	return exec
}

type httpDetail struct {
	HTTPCallID int64  `json:"http_call_id"`
	URL        string `json:"url"`
	Status     int    `json:"status,omitempty"`
	Attempts   int    `json:"attempts"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

func httpDetails(logs []*models.HTTPCallLog) []httpDetail {
	out := make([]httpDetail, 0, len(logs))
	for _, l := range logs {
		out = append(out, httpDetail{
			HTTPCallID: l.HTTPCallID,
			URL:        l.URL,
			Status:     l.StatusCode,
			Attempts:   l.Attempts,
			Success:    l.Success,
			Error:      l.Error,
		})
	}
	return out
}
