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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/models"
)

func TestConvert(t *testing.T) {
	v, err := Convert("1,234.50", models.TypeDecimal)
	require.NoError(t, err)
	d, ok := v.(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.50")), "got %s", d)

	v, err = Convert(" $2,500 ", models.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), v)

	v, err = Convert("March 14, 2026", models.TypeDate)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), v)

	v, err = Convert("2026-03-14 10:30:00", models.TypeDateTime)
	require.NoError(t, err)
	ts, ok := v.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 10, ts.Hour())

	v, err = Convert("  hello  ", models.TypeString)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestConvert_FailureKeepsRaw(t *testing.T) {
	v, err := Convert(" twelve ", models.TypeInteger)
	assert.Error(t, err)
	assert.Equal(t, "twelve", v)

	v, err = Convert("not a date", models.TypeDate)
	assert.Error(t, err)
	assert.Equal(t, "not a date", v)
}

func TestExtract(t *testing.T) {
	e := &models.Email{
		ID:       1,
		Sender:   "noreply@turo.com",
		Subject:  "Payout of $1,234.50 sent",
		BodyText: "Reservation ID: 88123\nVehicle: Tesla Model 3\nTrip start: March 14, 2026",
	}
	patterns := []models.ExtractionPattern{
		{FieldName: "amount", Source: models.PatternSubject, Regex: `\$([\d,]+\.\d{2})`, Group: 1, DataType: models.TypeDecimal},
		{FieldName: "reservation", Source: models.PatternBody, Regex: `^reservation id:\s*(\d+)$`, Group: 1, DataType: models.TypeInteger},
		{FieldName: "vehicle", Source: models.PatternBody, Regex: `Vehicle: (.+)$`, Group: 5, DataType: models.TypeString},
		{FieldName: "guest", Source: models.PatternBody, Regex: `Guest: (\w+)`, Group: 1, Required: true},
	}

	res := Extract(patterns, e)
	assert.Equal(t, 3, res.Matches)
	assert.Equal(t, 4, res.Total)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.Equal(t, models.ParsePartial, res.Status)
	assert.Equal(t, []string{"guest"}, res.Missing)

	assert.True(t, res.Fields["amount"].(decimal.Decimal).Equal(decimal.RequireFromString("1234.50")))
	assert.Equal(t, int64(88123), res.Fields["reservation"])
	// Out-of-range group falls back to the whole match.
	assert.Equal(t, "Vehicle: Tesla Model 3", res.Fields["vehicle"])
}

func TestExtract_CompletenessBound(t *testing.T) {
	e := &models.Email{Subject: "Order 42 shipped"}
	patterns := []models.ExtractionPattern{
		{FieldName: "order", Source: models.PatternSubject, Regex: `order (\d+)`, Group: 1, DataType: models.TypeInteger},
		{FieldName: "status", Source: models.PatternSubject, Regex: `(shipped|delivered)`, Group: 1},
	}

	res := Extract(patterns, e)
	assert.Equal(t, models.ParseSuccess, res.Status)
	assert.Equal(t, 1.0, res.Confidence)

	res = Extract([]models.ExtractionPattern{{FieldName: "x", Regex: "(bad"}, {FieldName: "y", Regex: "zzz"}}, e)
	assert.Equal(t, models.ParseFailed, res.Status)
	assert.Equal(t, 0.0, res.Confidence)

	res = Extract(nil, e)
	assert.Equal(t, models.ParseFailed, res.Status)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestParseTemplate(t *testing.T) {
	tmpl := models.Template{
		ID: 3,
		Fields: `{
			"amount": {"pattern": "total: \\$([\\d.]+)", "source": "subject"},
			"guest": ["Guest:\\s*(\\w+)", "ignored"],
			"whole": {"pattern": "thanks", "group": 0},
			"odd": 12
		}`,
	}

	fields, err := ParseTemplate(tmpl)
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, TemplateField{Name: "amount", Pattern: `total: \$([\d.]+)`, Source: "subject", Group: 1}, fields[0])
	assert.Equal(t, TemplateField{Name: "guest", Pattern: `Guest:\s*(\w+)`, Source: "body", Group: 1}, fields[1])
	assert.Equal(t, "", fields[2].Pattern)
	assert.Equal(t, 0, fields[3].Group)

	_, err = ParseTemplate(models.Template{Fields: `["not", "an", "object"]`})
	assert.Error(t, err)
	_, err = ParseTemplate(models.Template{Fields: `{broken`})
	assert.Error(t, err)
}

func TestEvaluateTemplatesAndSelectBest(t *testing.T) {
	e := &models.Email{
		ID:       9,
		Subject:  "Receipt",
		BodyText: "Guest: Alice\nTotal: $45.00\nThanks for riding",
	}
	templates := []models.Template{
		{ID: 1, CategoryName: "receipt", Fields: `{"guest": {"pattern": "guest: (\\w+)"}, "total": {"pattern": "total: \\$([\\d.]+)"}}`},
		{ID: 2, CategoryName: "wide", Fields: `{"a": ["guest"], "b": ["nothing"], "c": ["nope"], "d": ["none"]}`},
		{ID: 3, CategoryName: "broken", Fields: `not json`},
		{ID: 4, CategoryName: "empty", Fields: `{"x": ["absent"]}`},
	}

	cands := EvaluateTemplates(templates, e)
	require.Len(t, cands, 3)

	best := SelectBest(cands)
	require.NotNil(t, best)
	assert.Equal(t, "receipt", best.CategoryName)
	assert.Equal(t, int64(1), *best.TemplateID)
	assert.Equal(t, "Alice", best.Result.Fields["guest"])
	assert.Equal(t, "45.00", best.Result.Fields["total"])

	pd := ParsedData(e.ID, best)
	assert.Equal(t, models.ParseSuccess, pd.Status)
	assert.Equal(t, 1.0, pd.Confidence)
}

func TestSelectBest_TiesAndEmpty(t *testing.T) {
	a := Candidate{CategoryName: "a", Result: Result{Matches: 1, Total: 2, Confidence: 0.5}}
	b := Candidate{CategoryName: "b", Result: Result{Matches: 1, Total: 2, Confidence: 0.5}}
	none := Candidate{CategoryName: "none", Result: Result{Total: 3}}

	best := SelectBest([]Candidate{none, a, b})
	require.NotNil(t, best)
	assert.Equal(t, "a", best.CategoryName)

	assert.Nil(t, SelectBest([]Candidate{none}))

	pd := ParsedData(5, nil)
	assert.Equal(t, Uncategorized, pd.CategoryName)
	assert.Equal(t, models.ParseFailed, pd.Status)
	assert.Empty(t, pd.Fields)
}
