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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/models"
)

func category(id int64, name string, threshold float64) models.Category {
	return models.Category{ID: id, Name: name, ConfidenceThreshold: threshold, AutoAssign: true, Active: true}
}

func snapshot(rules []models.Rule, patterns []models.CategoryPattern, cats ...models.Category) *models.Snapshot {
	s := &models.Snapshot{
		Categories:       make(map[int64]models.Category),
		CategoryPatterns: patterns,
		Rules:            rules,
	}
	for _, c := range cats {
		s.Categories[c.ID] = c
	}
	return s
}

func TestMatchRule_SingleSubjectCondition(t *testing.T) {
	snap := snapshot([]models.Rule{{
		ID: 1, Name: "trip booked", CategoryID: 10, Priority: 10,
		SubjectPattern: ".*trip.*is booked.*", MatchLogic: models.MatchAll,
		PatternWeight: 1, Active: true,
	}}, nil, category(10, "booking", 0.8))

	c := New(snap)
	m := c.MatchRule(&models.Email{ID: 5, Subject: "Your trip is booked!"})
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Rule.ID)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, 1, m.Configured)
}

func TestMatchRule_PriorityWins(t *testing.T) {
	snap := snapshot([]models.Rule{
		{ID: 2, Name: "low", CategoryID: 20, Priority: 20, SenderPattern: "example", PatternWeight: 10, Active: true},
		{ID: 1, Name: "high", CategoryID: 10, Priority: 10, SenderPattern: "example", PatternWeight: 1, Active: true},
	}, nil, category(10, "a", 0.5), category(20, "b", 0.5))

	m := New(snap).MatchRule(&models.Email{Sender: "noreply@example.com"})
	require.NotNil(t, m)
	assert.Equal(t, "a", m.Category.Name)
}

func TestMatchRule_TieBreaks(t *testing.T) {
	tests := []struct {
		name  string
		rules []models.Rule
		want  int64
	}{
		{
			name: "higher weight",
			rules: []models.Rule{
				{ID: 1, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 1, SuccessRate: 0.9, Active: true},
				{ID: 2, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 2, SuccessRate: 0.1, Active: true},
			},
			want: 2,
		},
		{
			name: "higher success rate",
			rules: []models.Rule{
				{ID: 1, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 1, SuccessRate: 0.2, Active: true},
				{ID: 2, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 1, SuccessRate: 0.8, Active: true},
			},
			want: 2,
		},
		{
			name: "lower id",
			rules: []models.Rule{
				{ID: 4, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 1, Active: true},
				{ID: 3, CategoryID: 10, Priority: 5, SenderPattern: "x", PatternWeight: 1, Active: true},
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(snapshot(tt.rules, nil, category(10, "c", 0.5)))
			m := c.MatchRule(&models.Email{Sender: "x@example.com"})
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Rule.ID)
		})
	}
}

func TestMatchRule_Logic(t *testing.T) {
	rule := models.Rule{
		ID: 1, CategoryID: 10, Priority: 1, Active: true, PatternWeight: 1,
		SenderPattern: "turo", SubjectPattern: "payout", BodyPattern: "bank",
	}
	e := &models.Email{Sender: "noreply@turo.com", Subject: "Payout sent", BodyText: "nothing here"}

	rule.MatchLogic = models.MatchAll
	assert.Nil(t, New(snapshot([]models.Rule{rule}, nil, category(10, "p", 0.5))).MatchRule(e))

	rule.MatchLogic = models.MatchAny
	m := New(snapshot([]models.Rule{rule}, nil, category(10, "p", 0.5))).MatchRule(e)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Matched)
	assert.Equal(t, 2.0, m.Weight)
	assert.Equal(t, 1.0, m.Confidence)

	// Two matched conditions at weight 0.4 stay below a 0.9 threshold.
	rule.PatternWeight = 0.4
	assert.Nil(t, New(snapshot([]models.Rule{rule}, nil, category(10, "p", 0.9))).MatchRule(e))
	rule.PatternWeight = 0.5
	assert.NotNil(t, New(snapshot([]models.Rule{rule}, nil, category(10, "p", 0.9))).MatchRule(e))
}

func TestMatchRule_AnyRuleSingleConditionQualifies(t *testing.T) {
	rule := models.Rule{
		ID: 1, CategoryID: 10, Priority: 1, Active: true, PatternWeight: 1,
		SenderPattern: "payouts@", SubjectPattern: "payout", MatchLogic: models.MatchAny,
	}
	c := New(snapshot([]models.Rule{rule}, nil, category(10, "payouts", 0.7)))

	m := c.MatchRule(&models.Email{Sender: "noreply@turo.com", Subject: "Your payout is on the way"})
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Matched)
	assert.Equal(t, 2, m.Configured)
	assert.Equal(t, 1.0, m.Confidence)

	d := c.Classify(&models.Email{Sender: "noreply@turo.com", Subject: "Your payout is on the way"})
	assert.Equal(t, DecidedByRule, d.Kind)
}

func TestMatchRule_InvalidPatternSkipped(t *testing.T) {
	snap := snapshot([]models.Rule{
		{ID: 1, CategoryID: 10, Priority: 1, SubjectPattern: "([unclosed", SenderPattern: "example", Active: true},
		{ID: 2, CategoryID: 20, Priority: 2, SubjectPattern: "invoice", Active: true},
	}, nil, category(10, "broken", 0.5), category(20, "billing", 0.5))

	c := New(snap)
	m := c.MatchRule(&models.Email{Sender: "a@example.com", Subject: "Invoice #4"})
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Rule.ID, "remaining valid condition still evaluated")

	m = c.MatchRule(&models.Email{Sender: "a@other.org", Subject: "Invoice #4"})
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.Rule.ID)
}

func TestMatchRule_NoConditionsNeverMatches(t *testing.T) {
	snap := snapshot([]models.Rule{{ID: 1, CategoryID: 10, Priority: 1, Active: true}}, nil, category(10, "c", 0.1))
	assert.Nil(t, New(snap).MatchRule(&models.Email{Subject: "anything"}))
}

func TestMatchRule_InactiveAndManualCategories(t *testing.T) {
	manual := category(10, "manual", 0.1)
	manual.AutoAssign = false
	snap := snapshot([]models.Rule{
		{ID: 1, CategoryID: 10, Priority: 1, SubjectPattern: "hello", Active: true},
		{ID: 2, CategoryID: 20, Priority: 1, SubjectPattern: "hello", Active: false},
	}, nil, manual, category(20, "off", 0.1))

	assert.Nil(t, New(snap).MatchRule(&models.Email{Subject: "hello"}))
}

func TestVote(t *testing.T) {
	patterns := []models.CategoryPattern{
		{ID: 1, CategoryID: 10, Type: models.PatternSender, Regex: "turo\\.com", Weight: 2, Active: true},
		{ID: 2, CategoryID: 10, Type: models.PatternSubject, Regex: "payout", Weight: 1, Active: true},
		{ID: 3, CategoryID: 10, Type: models.PatternBody, Regex: "bank account", Weight: 1, Active: true},
		{ID: 4, CategoryID: 10, Type: models.PatternBody, Regex: "(broken", Weight: 100, Active: true},
		{ID: 5, CategoryID: 20, Type: models.PatternSubject, Regex: "payout", Weight: 1, Active: true},
		{ID: 6, CategoryID: 20, Type: models.PatternSubject, Regex: "refund", Weight: 3, Active: true},
	}
	c := New(snapshot(nil, patterns, category(10, "payouts", 0.7), category(20, "refunds", 0.5)))

	scores := c.Vote(&models.Email{Sender: "noreply@turo.com", Subject: "Payout sent", BodyText: "no match"})
	require.Len(t, scores, 2)

	assert.Equal(t, "payouts", scores[0].Category.Name)
	assert.InDelta(t, 0.75, scores[0].Score, 1e-9)
	assert.True(t, scores[0].Qualifies)

	assert.Equal(t, "refunds", scores[1].Category.Name)
	assert.InDelta(t, 0.25, scores[1].Score, 1e-9)
	assert.False(t, scores[1].Qualifies)
}

func TestClassify_FallbackOrder(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	patterns := []models.CategoryPattern{
		{ID: 1, CategoryID: 20, Type: models.PatternSubject, Regex: "receipt", Weight: 1, Active: true},
	}
	rules := []models.Rule{{ID: 1, CategoryID: 10, Priority: 1, SubjectPattern: "booked", Active: true}}
	c := New(snapshot(rules, patterns, category(10, "booking", 0.5), category(20, "receipts", 0.5)),
		WithClock(clock), WithSuggestionConfidence(0.6))

	d := c.Classify(&models.Email{Subject: "Trip booked"})
	assert.Equal(t, DecidedByRule, d.Kind)
	cat, conf := d.Category()
	assert.Equal(t, "booking", cat.Name)
	assert.Equal(t, 1.0, conf)

	d = c.Classify(&models.Email{Subject: "Your receipt"})
	assert.Equal(t, DecidedByVote, d.Kind)
	assert.True(t, d.Categorized())

	d = c.Classify(&models.Email{ID: 77, Sender: "guest@example.com", Subject: "Guest has sent you a message about your Tesla"})
	require.Equal(t, DecidedBySuggestion, d.Kind)
	assert.False(t, d.Categorized())
	assert.Equal(t, "guest_notification", d.Suggestion.SuggestedName)
	assert.Equal(t, []int64{77}, d.Suggestion.SampleEmailIDs)
	assert.Equal(t, []string{"guest@example.com"}, d.Suggestion.SenderPatterns)
	assert.Equal(t, 0.6, d.Suggestion.Confidence)
}

func TestSuggest_UnknownName(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	c := New(snapshot(nil, nil), WithClock(clock))

	s := c.Suggest(&models.Email{ID: 1, Subject: "RE: 12"})
	assert.Equal(t, "unknown_category_1700000000", s.SuggestedName)
	assert.Equal(t, DefaultSuggestionConfidence, s.Confidence)
}
