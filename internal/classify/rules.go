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

package classify

import (
	"log/slog"
	"math"

	"github.com/bcem/mailrouter/internal/models"
)

// RuleMatch is a rule whose conditions matched an email.
type RuleMatch struct {
	Rule       *models.Rule
	Category   models.Category
	Matched    int
	Configured int

	// Weight is the rule's pattern weight times the matched conditions.
	Weight float64

	// Confidence is Weight capped at 1, recorded on the assignment.
	Confidence float64
}

// qualifies reports whether the match is allowed to assign its category.
func (m *RuleMatch) qualifies() bool {
	return m.Category.Active && m.Category.AutoAssign && m.Weight >= m.Category.ConfidenceThreshold
}

// evaluate applies one rule's conditions. Unset conditions were dropped at
// compile time; a rule left with none never matches.
func (cr *compiledRule) evaluate(e *models.Email) *RuleMatch {
	if len(cr.conditions) == 0 {
		return nil
	}

	matched := 0
	for _, cond := range cr.conditions {
		if cond.re.MatchString(cond.field.Text(e)) {
			matched++
		}
	}

	var ok bool
	switch cr.rule.MatchLogic {
	case models.MatchAny:
		ok = matched > 0
	default:
		ok = matched == len(cr.conditions)
	}
	if !ok {
		return nil
	}

	weight := cr.weight * float64(matched)
	return &RuleMatch{
		Rule:       cr.rule,
		Category:   cr.category,
		Matched:    matched,
		Configured: len(cr.conditions),
		Weight:     weight,
		Confidence: math.Min(weight, 1),
	}
}

// MatchRule returns the winning rule match, or nil. Rules are visited in
// ascending priority; within the first priority level that has a qualifying
// match, ties go to higher cumulative weight, then higher success rate, then
// lower rule id.
func (c *Classifier) MatchRule(e *models.Email) *RuleMatch {
	var best *RuleMatch
	level := 0

	for i := range c.rules {
		cr := &c.rules[i]
		if best != nil && cr.rule.Priority != level {
			break
		}

		m := cr.evaluate(e)
		if m == nil {
			continue
		}
		if !m.qualifies() {
			slog.Debug("rule matched below category threshold",
				"email_id", e.ID,
				"rule", cr.rule.Name,
				"weight", m.Weight,
				"threshold", m.Category.ConfidenceThreshold,
			)
			continue
		}

		if best == nil || better(m, best) {
			best = m
			level = cr.rule.Priority
		}
	}

	if best != nil {
		slog.Debug("rule selected",
			"email_id", e.ID,
			"rule", best.Rule.Name,
			"category", best.Category.Name,
			"confidence", best.Confidence,
		)
	}
	return best
}

func better(a, b *RuleMatch) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if a.Rule.SuccessRate != b.Rule.SuccessRate {
		return a.Rule.SuccessRate > b.Rule.SuccessRate
	}
	return a.Rule.ID < b.Rule.ID
}
