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

// Package extract pulls typed fields out of an email using the extraction
// patterns of the selected rule, or the field definitions of parsing
// templates, and picks the single best result to persist per email.
package extract

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/bcem/mailrouter/internal/models"
)

// Result is the outcome of applying one rule's or template's fields.
type Result struct {
	Fields     map[string]any
	Raw        map[string]string
	Matches    int
	Total      int
	Confidence float64
	Status     models.ParseStatus
	Missing    []string
}

// finish derives confidence and status from the match counts.
func (r *Result) finish() {
	if r.Total > 0 {
		r.Confidence = float64(r.Matches) / float64(r.Total)
	}
	switch {
	case r.Total > 0 && r.Matches == r.Total:
		r.Status = models.ParseSuccess
	case r.Matches > 0:
		r.Status = models.ParsePartial
	default:
		r.Status = models.ParseFailed
	}
}

func newResult(total int) Result {
	return Result{
		Fields: make(map[string]any),
		Raw:    make(map[string]string),
		Total:  total,
	}
}

// Extract applies a rule's extraction patterns to e. Patterns with an
// invalid regex are logged and count as unmatched. Absent required fields
// are logged at warn; absent optional fields are silently omitted.
func Extract(patterns []models.ExtractionPattern, e *models.Email) Result {
	res := newResult(len(patterns))

	for _, p := range patterns {
		re, err := regexp.Compile("(?im)" + p.Regex)
		if err != nil {
			slog.Warn("skipping invalid extraction pattern",
				"rule_id", p.RuleID,
				"field", p.FieldName,
				"error", err,
			)
			res.Missing = append(res.Missing, p.FieldName)
			continue
		}

		raw, ok := capture(re, p.Source.Text(e), p.Group)
		if !ok {
			res.Missing = append(res.Missing, p.FieldName)
			if p.Required {
				slog.Warn("required field not found",
					"email_id", e.ID,
					"rule_id", p.RuleID,
					"field", p.FieldName,
					"source", p.Source,
				)
			}
			continue
		}

		value, err := Convert(raw, p.DataType)
		if err != nil {
			slog.Warn("field conversion failed, keeping raw value",
				"email_id", e.ID,
				"field", p.FieldName,
				"data_type", p.DataType,
				"error", err,
			)
		}
		res.Fields[p.FieldName] = value
		res.Raw[p.FieldName] = strings.TrimSpace(raw)
		res.Matches++
	}

	res.finish()
	return res
}

// capture returns the configured group of the first match, or the whole
// match when the group index is out of range.
func capture(re *regexp.Regexp, text string, group int) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if group <= 0 || group >= len(m) {
		return m[0], true
	}
	return m[group], true
}
