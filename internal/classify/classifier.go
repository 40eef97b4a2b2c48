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

// Package classify assigns a category to a non-duplicate email.
//
// Two mechanisms are supported. Pattern rules are evaluated in ascending
// priority order and the first priority level with a qualifying rule wins.
// A matching rule qualifies when its aggregate weight, the pattern weight
// times the conditions that matched, reaches the category's threshold.
// Category patterns vote with weights, and a category qualifies when its
// normalized score reaches the category's confidence threshold. When neither
// produces a category the email yields a suggestion for human review.
package classify

import (
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/bcem/mailrouter/internal/models"
)

// DefaultSuggestionConfidence is the confidence attached to suggestions.
const DefaultSuggestionConfidence = 0.70

// condition is one compiled rule condition.
type condition struct {
	field models.PatternType
	re    *regexp.Regexp
}

type compiledRule struct {
	rule       *models.Rule
	category   models.Category
	conditions []condition

	// weight is the rule's pattern weight; unset weights count as 1.
	weight float64
}

type compiledPattern struct {
	pattern models.CategoryPattern
	re      *regexp.Regexp
}

// Classifier evaluates one configuration snapshot. Regexes are compiled
// once at construction and the classifier is safe for concurrent use.
type Classifier struct {
	rules      []compiledRule
	patterns   map[int64][]compiledPattern
	categories map[int64]models.Category

	suggestionConfidence float64
	now                  func() time.Time
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithSuggestionConfidence overrides the suggestion confidence.
func WithSuggestionConfidence(c float64) Option {
	return func(cl *Classifier) {
		if c > 0 && c <= 1 {
			cl.suggestionConfidence = c
		}
	}
}

// WithClock injects the time source used for generated suggestion names.
func WithClock(now func() time.Time) Option {
	return func(cl *Classifier) { cl.now = now }
}

// New compiles every active rule and category pattern in snap. Invalid
// regexes are logged and the single offending condition is skipped.
func New(snap *models.Snapshot, opts ...Option) *Classifier {
	c := &Classifier{
		patterns:             make(map[int64][]compiledPattern),
		categories:           snap.Categories,
		suggestionConfidence: DefaultSuggestionConfidence,
		now:                  time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	for i := range snap.Rules {
		r := &snap.Rules[i]
		if !r.Active {
			continue
		}
		cat, ok := snap.Categories[r.CategoryID]
		if !ok {
			slog.Warn("rule references unknown category", "rule", r.Name, "category_id", r.CategoryID)
			continue
		}
		cr := compiledRule{rule: r, category: cat, weight: r.PatternWeight}
		if cr.weight <= 0 {
			cr.weight = 1
		}
		for _, cond := range []struct {
			field   models.PatternType
			pattern string
			flags   string
		}{
			{models.PatternSender, r.SenderPattern, "(?i)"},
			{models.PatternSubject, r.SubjectPattern, "(?i)"},
			{models.PatternBody, r.BodyPattern, "(?is)"},
		} {
			if cond.pattern == "" {
				continue
			}
			re, err := regexp.Compile(cond.flags + cond.pattern)
			if err != nil {
				slog.Warn("skipping invalid rule pattern",
					"rule", r.Name,
					"field", cond.field,
					"pattern", cond.pattern,
					"error", err,
				)
				continue
			}
			cr.conditions = append(cr.conditions, condition{field: cond.field, re: re})
		}
		c.rules = append(c.rules, cr)
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		a, b := c.rules[i].rule, c.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	for _, p := range snap.CategoryPatterns {
		if !p.Active {
			continue
		}
		re, err := regexp.Compile("(?is)" + p.Regex)
		if err != nil {
			slog.Warn("skipping invalid category pattern",
				"pattern_id", p.ID,
				"category_id", p.CategoryID,
				"error", err,
			)
			continue
		}
		c.patterns[p.CategoryID] = append(c.patterns[p.CategoryID], compiledPattern{pattern: p, re: re})
	}

	return c
}

// DecisionKind names how a category (or suggestion) was produced.
type DecisionKind string

const (
	DecidedByRule       DecisionKind = "rule"
	DecidedByVote       DecisionKind = "vote"
	DecidedBySuggestion DecisionKind = "suggestion"
)

// Decision is the classifier's verdict for one email.
type Decision struct {
	Kind       DecisionKind
	Rule       *RuleMatch
	Vote       *CategoryScore
	Suggestion *models.Suggestion
}

// Categorized reports whether the decision carries a category.
func (d Decision) Categorized() bool {
	return d.Kind == DecidedByRule || d.Kind == DecidedByVote
}

// Category returns the assigned category and confidence.
func (d Decision) Category() (models.Category, float64) {
	switch d.Kind {
	case DecidedByRule:
		return d.Rule.Category, d.Rule.Confidence
	case DecidedByVote:
		return d.Vote.Category, d.Vote.Score
	}
	return models.Category{}, 0
}

// Classify runs rule matching, then weighted voting, then falls back to a
// suggestion.
func (c *Classifier) Classify(e *models.Email) Decision {
	if m := c.MatchRule(e); m != nil {
		return Decision{Kind: DecidedByRule, Rule: m}
	}
	for _, s := range c.Vote(e) {
		if s.Qualifies {
			return Decision{Kind: DecidedByVote, Vote: &s}
		}
	}
	s := c.Suggest(e)
	return Decision{Kind: DecidedBySuggestion, Suggestion: &s}
}
