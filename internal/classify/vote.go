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
	"sort"

	"github.com/bcem/mailrouter/internal/models"
)

// CategoryScore is the weighted-vote result for one category.
type CategoryScore struct {
	Category  models.Category
	Score     float64
	Matched   int
	Total     int
	Qualifies bool
}

// Vote scores every category that has active patterns. A category's score
// is the sum of the weights of its matching patterns over the sum of all its
// pattern weights. Results are sorted by score, highest first; categories
// that matched nothing are omitted.
func (c *Classifier) Vote(e *models.Email) []CategoryScore {
	var out []CategoryScore
	for catID, patterns := range c.patterns {
		cat, ok := c.categories[catID]
		if !ok || !cat.Active {
			continue
		}

		var total, hit float64
		matched := 0
		for _, p := range patterns {
			total += p.pattern.Weight
			if p.re.MatchString(p.pattern.Type.Text(e)) {
				hit += p.pattern.Weight
				matched++
			}
		}
		if matched == 0 || total <= 0 {
			continue
		}

		score := hit / total
		out = append(out, CategoryScore{
			Category:  cat,
			Score:     score,
			Matched:   matched,
			Total:     len(patterns),
			Qualifies: cat.AutoAssign && score >= cat.ConfidenceThreshold,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category.ID < out[j].Category.ID
	})
	return out
}
