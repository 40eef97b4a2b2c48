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

package extract

import (
	"log/slog"

	"github.com/bcem/mailrouter/internal/models"
)

// Uncategorized is the category name stored when nothing extracted.
const Uncategorized = "uncategorized"

// Candidate is one competing extraction result for an email.
type Candidate struct {
	CategoryName string
	TemplateID   *int64
	RuleID       *int64
	Result       Result
}

// Score is confidence times matches.
func (c Candidate) Score() float64 {
	return c.Result.Confidence * float64(c.Result.Matches)
}

// SelectBest returns the candidate with the highest score. Candidates with
// no matches never win, and the first candidate wins ties. It returns nil
// when every candidate is empty.
func SelectBest(candidates []Candidate) *Candidate {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Result.Matches == 0 {
			continue
		}
		if best == nil || c.Score() > best.Score() {
			best = c
		}
	}
	return best
}

// EvaluateTemplates applies every template to e. Templates whose
// configuration cannot be decoded are logged and skipped.
func EvaluateTemplates(templates []models.Template, e *models.Email) []Candidate {
	var out []Candidate
	for _, t := range templates {
		fields, err := ParseTemplate(t)
		if err != nil {
			slog.Warn("skipping malformed template", "template_id", t.ID, "error", err)
			continue
		}
		id := t.ID
		out = append(out, Candidate{
			CategoryName: t.CategoryName,
			TemplateID:   &id,
			Result:       ApplyTemplate(t, fields, e),
		})
	}
	return out
}

// ParsedData converts the selected candidate into the stored record. A nil
// candidate yields the failed placeholder that marks the email as parsed.
func ParsedData(emailID int64, best *Candidate) models.ParsedData {
	if best == nil {
		return models.ParsedData{
			EmailID:      emailID,
			CategoryName: Uncategorized,
			Fields:       map[string]any{},
			Status:       models.ParseFailed,
		}
	}
	return models.ParsedData{
		EmailID:      emailID,
		CategoryName: best.CategoryName,
		Fields:       best.Result.Fields,
		Confidence:   best.Result.Confidence,
		Status:       best.Result.Status,
		TemplateID:   best.TemplateID,
		RuleID:       best.RuleID,
	}
}
