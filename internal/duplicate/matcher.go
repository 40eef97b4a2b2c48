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

package duplicate

import (
	"sort"

	"github.com/bcem/mailrouter/internal/models"
	"github.com/bcem/mailrouter/internal/normalize"
)

// Method and type tags recorded on duplicate links.
const (
	MethodExact      = "exact_body_content"
	MethodSignature  = "message_signature"
	MethodSubject    = "normalized_subject_similar_body"
	MethodSimilarity = "content_similarity"

	TypeExact     = "exact_content"
	TypeSignature = "same_message"
	TypeSubject   = "same_subject"
	TypeNearExact = "near_exact_content"
	TypeSimilar   = "similar_content"
)

// minSignatureLength is the shortest signature considered non-trivial.
const minSignatureLength = 20

// Verdict is the outcome of a positive check.
type Verdict struct {
	Score  float64
	Type   string
	Method string
}

// features caches the normalized views of one email.
type features struct {
	fingerprint string
	body        string
	comparable  string
	subject     string
	signature   string
	delimited   bool
}

// Matcher runs a Strategy's check chain over candidate pairs.
type Matcher struct {
	strategy Strategy
	norm     *normalize.Normalizer
}

// NewMatcher creates a matcher for the given strategy.
func NewMatcher(s Strategy, n *normalize.Normalizer) *Matcher {
	return &Matcher{strategy: s, norm: n}
}

// Strategy returns the matcher's configuration.
func (m *Matcher) Strategy() Strategy {
	return m.strategy
}

func (m *Matcher) features(e *models.Email) features {
	body := e.Body()
	sig, delimited := m.norm.Signature(e.Subject, body)
	return features{
		fingerprint: m.norm.Fingerprint(e.Sender, body),
		body:        m.norm.Normalize(body, normalize.RoleBody),
		comparable:  m.norm.ComparableBody(body),
		subject:     m.norm.Normalize(e.Subject, normalize.RoleSubject),
		signature:   sig,
		delimited:   delimited,
	}
}

// Compare runs the check chain for one pair. The first check that fires
// decides the verdict.
func (m *Matcher) Compare(a, b *models.Email) (Verdict, bool) {
	return m.compare(m.features(a), m.features(b))
}

func (m *Matcher) compare(a, b features) (Verdict, bool) {
	for _, check := range m.strategy.Checks {
		var (
			v  Verdict
			ok bool
		)
		switch check {
		case CheckExact:
			v, ok = m.exact(a, b)
		case CheckSignature:
			v, ok = m.signature(a, b)
		case CheckSubject:
			v, ok = m.subject(a, b)
		case CheckFuzzy:
			v, ok = m.fuzzy(a, b)
		}
		if ok {
			return v, true
		}
	}
	return Verdict{}, false
}

func (m *Matcher) exact(a, b features) (Verdict, bool) {
	if a.body == "" || a.fingerprint != b.fingerprint {
		return Verdict{}, false
	}
	return Verdict{Score: 1.0, Type: TypeExact, Method: MethodExact}, true
}

func (m *Matcher) signature(a, b features) (Verdict, bool) {
	if len([]rune(a.signature)) <= minSignatureLength || a.signature != b.signature {
		return Verdict{}, false
	}
	score := 0.98
	if a.delimited && b.delimited {
		score = 0.99
	}
	return Verdict{Score: score, Type: TypeSignature, Method: MethodSignature}, true
}

func (m *Matcher) subject(a, b features) (Verdict, bool) {
	if a.subject == "" || a.subject != b.subject {
		return Verdict{}, false
	}
	la, lb := len([]rune(a.comparable)), len([]rune(b.comparable))
	longest := max(la, lb)
	if longest == 0 {
		return Verdict{}, false
	}
	ratio := float64(min(la, lb)) / float64(longest)
	if ratio <= m.strategy.LengthRatio {
		return Verdict{}, false
	}
	return Verdict{Score: ratio, Type: TypeSubject, Method: MethodSubject}, true
}

func (m *Matcher) fuzzy(a, b features) (Verdict, bool) {
	x, y := a.body, b.body
	if n := m.strategy.FuzzyMinLength; n > 0 && (len([]rune(x)) < n || len([]rune(y)) < n) {
		return Verdict{}, false
	}
	if n := m.strategy.FuzzyMaxLength; n > 0 {
		x, y = prefix(x, n), prefix(y, n)
	}
	ratio, ok := ratioAtLeast(x, y, m.strategy.Similar)
	if !ok {
		return Verdict{}, false
	}
	t := TypeSimilar
	if ratio >= m.strategy.NearExact {
		t = TypeNearExact
	}
	return Verdict{Score: ratio, Type: t, Method: MethodSimilarity}, true
}

// Evaluate compares target against each candidate and returns one link per
// positive verdict, highest score first. Candidates already marked
// duplicate are skipped. In every link the earlier-received
// email is canonical; equal timestamps fall back to the lower id.
func (m *Matcher) Evaluate(target *models.Email, candidates []models.Email) []models.DuplicateLink {
	tf := m.features(target)

	var links []models.DuplicateLink
	for i := range candidates {
		c := &candidates[i]
		if c.ID == target.ID || c.IsDuplicate {
			continue
		}
		v, ok := m.compare(tf, m.features(c))
		if !ok {
			continue
		}
		canonical, dup := Canonical(target, c)
		links = append(links, models.DuplicateLink{
			CanonicalID: canonical.ID,
			DuplicateID: dup.ID,
			Score:       v.Score,
			Type:        v.Type,
			Method:      v.Method,
		})
	}

	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Score > links[j].Score
	})
	return links
}

// Canonical orders a mutually duplicate pair into (canonical, duplicate).
func Canonical(a, b *models.Email) (canonical, duplicate *models.Email) {
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return a, b
	}
	if b.ReceivedAt.Before(a.ReceivedAt) {
		return b, a
	}
	if a.ID <= b.ID {
		return a, b
	}
	return b, a
}

// Best returns the highest-scoring link whose score clears threshold, or nil.
func Best(links []models.DuplicateLink, threshold float64) *models.DuplicateLink {
	var best *models.DuplicateLink
	for i := range links {
		l := &links[i]
		if l.Score < threshold {
			continue
		}
		if best == nil || l.Score > best.Score {
			best = l
		}
	}
	return best
}

// SortCandidates orders a candidate pool per the strategy and applies the
// candidate cap.
func (m *Matcher) SortCandidates(target *models.Email, candidates []models.Email) []models.Email {
	out := make([]models.Email, 0, len(candidates))
	for _, c := range candidates {
		if c.ID != target.ID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if m.strategy.OrderByProximity {
			return distance(target, &out[i]) < distance(target, &out[j])
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if len(out) > m.strategy.MaxCandidates {
		out = out[:m.strategy.MaxCandidates]
	}
	return out
}

func distance(a, b *models.Email) int64 {
	d := a.ReceivedAt.Sub(b.ReceivedAt)
	if d < 0 {
		d = -d
	}
	return int64(d)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
