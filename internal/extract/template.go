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
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/bcem/mailrouter/internal/models"
)

// TemplateField is one decoded field definition of a parsing template.
type TemplateField struct {
	Name    string
	Pattern string
	Source  string
	Group   int
}

type fieldConfig struct {
	Pattern string `json:"pattern"`
	Source  string `json:"source"`
	Group   *int   `json:"group"`
}

// ParseTemplate decodes a template's field configuration. The value of each
// field is either an object {pattern, source, group} or, in the legacy
// format, a list whose first element is the pattern. Any other value yields
// a field with no pattern. Fields are returned in name order.
func ParseTemplate(t models.Template) ([]TemplateField, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(t.Fields), &raw); err != nil {
		return nil, fmt.Errorf("template %d: decode field extractions: %w", t.ID, err)
	}

	fields := make([]TemplateField, 0, len(raw))
	for name, msg := range raw {
		f := TemplateField{Name: name, Source: "body", Group: 1}

		trimmed := strings.TrimSpace(string(msg))
		switch {
		case strings.HasPrefix(trimmed, "{"):
			var fc fieldConfig
			if err := json.Unmarshal(msg, &fc); err != nil {
				return nil, fmt.Errorf("template %d: field %s: %w", t.ID, name, err)
			}
			f.Pattern = fc.Pattern
			if fc.Source != "" {
				f.Source = fc.Source
			}
			if fc.Group != nil {
				f.Group = *fc.Group
			}
		case strings.HasPrefix(trimmed, "["):
			var list []string
			if err := json.Unmarshal(msg, &list); err != nil {
				return nil, fmt.Errorf("template %d: field %s: %w", t.ID, name, err)
			}
			if len(list) > 0 {
				f.Pattern = list[0]
			}
		default:
			// Unsupported definitions still count toward the field total.
		}
		fields = append(fields, f)
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

// templateText selects the text a template field reads.
func templateText(source string, e *models.Email) string {
	switch source {
	case "subject":
		return e.Subject
	case "html":
		return e.BodyHTML
	case "sender":
		return e.Sender
	default:
		return e.BodyText
	}
}

// ApplyTemplate evaluates every field of a template. Values are trimmed
// strings. A field with an empty or invalid pattern counts as unmatched.
func ApplyTemplate(t models.Template, fields []TemplateField, e *models.Email) Result {
	res := newResult(len(fields))

	for _, f := range fields {
		if f.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?ims)" + f.Pattern)
		if err != nil {
			slog.Warn("skipping invalid template pattern",
				"template_id", t.ID,
				"field", f.Name,
				"error", err,
			)
			continue
		}
		raw, ok := capture(re, templateText(f.Source, e), f.Group)
		if !ok {
			continue
		}
		v := strings.TrimSpace(raw)
		res.Fields[f.Name] = v
		res.Raw[f.Name] = v
		res.Matches++
	}

	res.finish()
	return res
}
