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

package store

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/models"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@db:5432/mail?sslmode=disable", "pgx5://u:p@db:5432/mail?sslmode=disable"},
		{"postgresql://db/mail", "pgx5://db/mail"},
		{"pgx5://db/mail", "pgx5://db/mail"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrationURL(tt.in))
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)

	var up, down []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = append(up, strings.TrimSuffix(name, ".up.sql"))
		case strings.HasSuffix(name, ".down.sql"):
			down = append(down, strings.TrimSuffix(name, ".down.sql"))
		}
	}
	sort.Strings(up)
	sort.Strings(down)
	require.NotEmpty(t, up)
	assert.Equal(t, up, down)

	initSQL, err := fs.ReadFile(migrationFS, "migrations/0001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{
		"emails", "email_duplicates", "email_category_assignments", "category_suggestions",
		"email_rules", "extraction_patterns", "parsed_email_data", "rule_executions", "http_call_logs",
	} {
		assert.Contains(t, string(initSQL), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestInterval(t *testing.T) {
	assert.Equal(t, "600 seconds", interval(10*time.Minute))
	assert.Equal(t, "0 seconds", interval(0))
}

func TestAssemble(t *testing.T) {
	cs := configSet{
		categories: []models.Category{{ID: 1, Name: "trips", Active: true}, {ID: 2, Name: "old"}},
		rules: []models.Rule{
			{ID: 20, Priority: 10, CategoryID: 1},
			{ID: 10, Priority: 10, CategoryID: 1},
			{ID: 30, Priority: 5, CategoryID: 2},
		},
		extraction: []models.ExtractionPattern{
			{ID: 1, RuleID: 10, FieldName: "amount"},
			{ID: 2, RuleID: 10, FieldName: "guest"},
			{ID: 3, RuleID: 99, FieldName: "orphan"},
		},
		targets: []models.InsertionTarget{{ID: 4, RuleID: 20, Table: "trips"}},
		mappings: []mappingRow{
			{targetID: 4, mapping: models.FieldMapping{TargetField: "email_ref"}},
			{targetID: 4, mapping: models.FieldMapping{TargetField: "amount"}},
		},
		calls: []models.HTTPCall{{ID: 6, RuleID: 30, BaseURL: "https://x"}},
		params: []paramRow{
			{callID: 6, param: models.HTTPParameter{Name: "q"}},
		},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snap := cs.assemble(now)
	assert.Equal(t, now, snap.LoadedAt)
	assert.Len(t, snap.Categories, 2)

	require.Len(t, snap.Rules, 3)
	assert.Equal(t, []int64{30, 10, 20}, []int64{snap.Rules[0].ID, snap.Rules[1].ID, snap.Rules[2].ID})

	assert.Len(t, snap.Rules[1].Extraction, 2)
	require.Len(t, snap.Rules[2].Targets, 1)
	assert.Len(t, snap.Rules[2].Targets[0].Mappings, 2)
	require.Len(t, snap.Rules[0].HTTPCalls, 1)
	assert.Equal(t, "q", snap.Rules[0].HTTPCalls[0].Parameters[0].Name)
}

func TestDecodeAuth(t *testing.T) {
	a, err := decodeAuth("oauth2", []byte(`{"client_id":"c","client_secret":"s","token_url":"https://t","scopes":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, models.AuthOAuth2, a.Type)
	assert.Equal(t, "c", a.ClientID)
	assert.Equal(t, []string{"a", "b"}, a.Scopes)

	a, err = decodeAuth("none", nil)
	require.NoError(t, err)
	assert.Equal(t, models.AuthNone, a.Type)

	_, err = decodeAuth("bearer", []byte(`{"token":`))
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, seconds(1.5))
	assert.Equal(t, 2.5, millis(2500*time.Microsecond))
}

func TestCandidateSQL(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	sql, args := candidateSQL(CandidateQuery{Sender: "a@b.example", ExcludeID: 7, From: from, To: to, Limit: 50})
	assert.Contains(t, sql, "is_duplicate = FALSE")
	assert.Contains(t, sql, "ORDER BY received_at DESC, id DESC")
	assert.Contains(t, sql, "LIMIT $5")
	assert.Equal(t, []any{"a@b.example", int64(7), from, to, 50}, args)

	sql, args = candidateSQL(CandidateQuery{Sender: "a@b.example", ExcludeID: 7, From: from, To: to, Anchor: from, Proximity: true, Limit: 10})
	assert.Contains(t, sql, "is_duplicate = FALSE")
	assert.Contains(t, sql, "$5::timestamptz")
	assert.Contains(t, sql, "LIMIT $6")
	assert.Len(t, args, 6)
}
