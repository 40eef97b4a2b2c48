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
	"fmt"
	"regexp"
	"strings"

	"github.com/bcem/mailrouter/internal/models"
)

var (
	wordRe = regexp.MustCompile(`[a-z]+`)

	stopwords = map[string]bool{
		"has": true, "sent": true, "you": true, "message": true, "about": true,
		"your": true, "the": true, "and": true, "for": true,
	}
)

// Suggest builds a category suggestion seeded from the email's raw subject
// and sender.
func (c *Classifier) Suggest(e *models.Email) models.Suggestion {
	s := models.Suggestion{
		SuggestedName:  c.suggestName(e.Subject),
		Description:    fmt.Sprintf("Uncategorized email from %s", e.Sender),
		SampleEmailIDs: []int64{e.ID},
		Confidence:     c.suggestionConfidence,
		CreatedAt:      c.now(),
	}
	if subj := strings.TrimSpace(e.Subject); subj != "" {
		s.SubjectPatterns = []string{subj}
	}
	if sender := strings.TrimSpace(e.Sender); sender != "" {
		s.SenderPatterns = []string{sender}
	}
	return s
}

// suggestName picks the most frequent non-stopword subject term, first
// occurrence winning ties.
func (c *Classifier) suggestName(subject string) string {
	counts := make(map[string]int)
	var order []string
	for _, w := range wordRe.FindAllString(strings.ToLower(subject), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	best := ""
	for _, w := range order {
		if best == "" || counts[w] > counts[best] {
			best = w
		}
	}
	if best == "" {
		return fmt.Sprintf("unknown_category_%d", c.now().Unix())
	}
	return best + "_notification"
}
