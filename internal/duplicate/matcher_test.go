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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/models"
	"github.com/bcem/mailrouter/internal/normalize"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func email(id int64, subject, body string, offset time.Duration) models.Email {
	return models.Email{
		ID:         id,
		Sender:     "noreply@example.com",
		Recipient:  "host@example.com",
		Subject:    subject,
		BodyText:   body,
		ReceivedAt: base.Add(offset),
	}
}

func newTestMatcher(s Strategy) *Matcher {
	return NewMatcher(s, normalize.New(normalize.Options{}))
}

// TestEvaluate_EncodedSubjectSameBody covers two deliveries of one alert
// whose subjects differ only in MIME encoding.
func TestEvaluate_EncodedSubjectSameBody(t *testing.T) {
	m := newTestMatcher(General())
	body := "Your vehicle was unlocked at 10:42 AM. Visit https://example.com/trip/991 for details."

	first := email(1, "Alert", body, 0)
	second := email(2, "=?UTF-8?Q?Alert?=", body, 4*time.Second)

	links := m.Evaluate(&second, []models.Email{first})
	require.Len(t, links, 1)

	best := Best(links, General().AssignThreshold)
	require.NotNil(t, best)
	assert.GreaterOrEqual(t, best.Score, 0.98)
	assert.Contains(t, []string{MethodExact, MethodSignature}, best.Method)
	assert.Equal(t, int64(1), best.CanonicalID)
	assert.Equal(t, int64(2), best.DuplicateID)
}

func TestEvaluate_CanonicalIsEarlier(t *testing.T) {
	m := newTestMatcher(Aggressive())
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 4)

	early := email(10, "Hi", body, 0)
	late := email(5, "Hi", body, 30*time.Second)

	// Target received first; candidate arrived later but has a lower id.
	links := m.Evaluate(&early, []models.Email{late})
	require.Len(t, links, 1)
	assert.Equal(t, int64(10), links[0].CanonicalID)
	assert.Equal(t, int64(5), links[0].DuplicateID)
}

func TestEvaluate_SkipsMarkedDuplicates(t *testing.T) {
	m := newTestMatcher(General())
	body := "Your payout of forty dollars has been sent to your bank account."

	root := email(1, "Payout sent", body, 0)
	copied := email(2, "Payout sent", body, time.Minute)
	copied.IsDuplicate = true
	root1 := int64(1)
	copied.DuplicateOf = &root1
	target := email(3, "Payout sent", body, 2*time.Minute)

	links := m.Evaluate(&target, []models.Email{copied, root})
	require.Len(t, links, 1)
	assert.Equal(t, int64(1), links[0].CanonicalID)
	assert.Equal(t, int64(3), links[0].DuplicateID)
}

func TestCanonical_TieUsesLowerID(t *testing.T) {
	a := email(7, "", "", 0)
	b := email(3, "", "", 0)

	c, d := Canonical(&a, &b)
	assert.Equal(t, int64(3), c.ID)
	assert.Equal(t, int64(7), d.ID)
}

func TestCompare_Signature(t *testing.T) {
	m := newTestMatcher(General())
	a := email(1, "Guest has sent you a message about your Tesla Model 3.",
		"Trip 123.\n\nIs the car available this weekend at all?\n\nReply to this email", 0)
	b := email(2, "Guest has sent you a message about your Tesla Model 3.",
		"Your trip 456 starts soon.\n\nIs the car available this weekend at all?\n\nReply to this email or visit", time.Minute)

	v, ok := m.Compare(&a, &b)
	require.True(t, ok)
	assert.Equal(t, MethodSignature, v.Method)
	assert.Equal(t, TypeSignature, v.Type)
	assert.Equal(t, 0.99, v.Score)
}

func TestCompare_SubjectAndLengthRatio(t *testing.T) {
	s := General()
	s.Checks = []Check{CheckExact, CheckSubject}
	m := newTestMatcher(s)

	a := email(1, "(Turo Inc.) - Payout sent", "Your payout of forty dollars has been sent to your bank account.", 0)
	b := email(2, "Payout sent", "Your payout of fifty dollars has been sent to your bank account.", time.Minute)

	v, ok := m.Compare(&a, &b)
	require.True(t, ok)
	assert.Equal(t, MethodSubject, v.Method)
	assert.Greater(t, v.Score, 0.85)
	assert.LessOrEqual(t, v.Score, 1.0)
}

func TestCompare_FuzzyTags(t *testing.T) {
	s := General()
	s.Checks = []Check{CheckFuzzy}
	m := newTestMatcher(s)

	a := email(1, "x", "your booking for the red sedan has been confirmed by the host", 0)
	b := email(2, "y", "your booking for the red sedan has been confirmed by the hosts", 0)

	v, ok := m.Compare(&a, &b)
	require.True(t, ok)
	assert.Equal(t, MethodSimilarity, v.Method)
	assert.Equal(t, TypeNearExact, v.Type)

	c := email(3, "z", "completely unrelated newsletter content about gardening", 0)
	_, ok = m.Compare(&a, &c)
	assert.False(t, ok)
}

func TestCompare_AggressiveMinLength(t *testing.T) {
	s := Aggressive()
	s.Checks = []Check{CheckFuzzy}
	m := newTestMatcher(s)

	a := email(1, "x", "short body one", 0)
	b := email(2, "y", "short body one!", 0)
	_, ok := m.Compare(&a, &b)
	assert.False(t, ok)
}

func TestThresholdMonotonicity(t *testing.T) {
	bodies := [][2]string{
		{"the car is ready for pickup at the north garage", "the car is ready for pickup at the south garage"},
		{"payment received thank you", "payment received, thank you!"},
		{"abc", "xyz"},
	}

	prev := -1
	for _, th := range []float64{0.5, 0.7, 0.85, 0.9, 0.95, 0.99} {
		s := General()
		s.Checks = []Check{CheckFuzzy}
		s.Similar, s.NearExact = th, th
		m := newTestMatcher(s)

		count := 0
		for i, pair := range bodies {
			a := email(int64(2*i+1), "a", pair[0], 0)
			b := email(int64(2*i+2), "b", pair[1], 0)
			if _, ok := m.Compare(&a, &b); ok {
				count++
			}
		}
		if prev >= 0 {
			assert.LessOrEqual(t, count, prev, "threshold %v", th)
		}
		prev = count
	}
}

func TestBest(t *testing.T) {
	links := []models.DuplicateLink{
		{CanonicalID: 1, DuplicateID: 9, Score: 0.80},
		{CanonicalID: 2, DuplicateID: 9, Score: 0.97},
		{CanonicalID: 3, DuplicateID: 9, Score: 0.90},
	}

	best := Best(links, 0.85)
	require.NotNil(t, best)
	assert.Equal(t, int64(2), best.CanonicalID)

	assert.Nil(t, Best(links[:1], 0.85))
	assert.Nil(t, Best(nil, 0.85))
}

func TestSortCandidates(t *testing.T) {
	target := email(100, "", "", 0)
	pool := []models.Email{
		email(1, "", "", -200*time.Second),
		email(2, "", "", 10*time.Second),
		email(3, "", "", -50*time.Second),
		email(100, "", "", 0),
	}

	s := Aggressive()
	s.MaxCandidates = 2
	got := newTestMatcher(s).SortCandidates(&target, pool)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)

	got = newTestMatcher(General()).SortCandidates(&target, pool)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("abcd", "abcd"))
	assert.Equal(t, 0.0, Ratio("abcd", "wxyz"))
	assert.InDelta(t, 0.75, Ratio("abcd", "bcde"), 1e-9)
}

func TestStrategyValidate(t *testing.T) {
	require.NoError(t, General().Validate())
	require.NoError(t, Aggressive().Validate())

	s := General()
	s.Similar = 0.99
	assert.Error(t, s.Validate())

	_, err := ByName("lenient")
	assert.Error(t, err)
}
