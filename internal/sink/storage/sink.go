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

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/models"
)

// DB is the subset of *pgxpool.Pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Insertion describes a committed row.
type Insertion struct {
	Table   string         `json:"table"`
	RowID   int64          `json:"row_id"`
	Columns []string       `json:"columns"`
	Values  map[string]any `json:"values"`
}

// Sink provisions destination tables and inserts routed rows.
type Sink struct {
	db DB

	mu    sync.Mutex
	known map[string]bool
}

// NewSink creates a storage sink on db.
func NewSink(db DB) *Sink {
	return &Sink{db: db, known: make(map[string]bool)}
}

// EnsureDestination makes sure the table for schema exists with all its
// columns. Results are cached per process. A foreign key that cannot be
// added is logged and does not fail provisioning.
func (s *Sink) EnsureDestination(ctx context.Context, schema Schema) error {
	key := schema.key()
	s.mu.Lock()
	done := s.known[key]
	s.mu.Unlock()
	if done {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, schema.QualifiedName()).Scan(&exists); err != nil {
		return fmt.Errorf("check table %s: %w", schema.QualifiedName(), err)
	}

	if exists {
		for _, stmt := range schema.AddColumnStatements() {
			if _, err := s.db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("add column to %s: %w", schema.QualifiedName(), err)
			}
		}
	} else {
		slog.Info("creating destination table", "table", schema.QualifiedName(), "columns", len(schema.Columns))
		if _, err := s.db.Exec(ctx, schema.CreateStatement()); err != nil {
			return fmt.Errorf("create table %s: %w", schema.QualifiedName(), err)
		}
		for _, stmt := range schema.ForeignKeyStatements() {
			if _, err := s.db.Exec(ctx, stmt); err != nil {
				slog.Warn("failed to add foreign key", "table", schema.QualifiedName(), "error", err)
			}
		}
	}

	s.mu.Lock()
	s.known[key] = true
	s.mu.Unlock()
	return nil
}

// Insert provisions the target's table if needed and writes one row of
// resolved values in a transaction. Each value is coerced to its column's
// kind first. Values that resolve to nothing are omitted; a row with no
// values gets only its defaults.
func (s *Sink) Insert(ctx context.Context, target models.InsertionTarget, env mapping.Env) (*Insertion, error) {
	schema, err := BuildSchema(target)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureDestination(ctx, schema); err != nil {
		return nil, err
	}

	ins := &Insertion{Table: schema.QualifiedName(), Values: make(map[string]any)}
	var (
		cols []string
		args []any
	)
	for _, m := range target.Mappings {
		if strings.EqualFold(m.TargetField, "id") {
			continue
		}
		v, ok := mapping.Resolve(m.Source, m.Transformation, env)
		if !ok {
			continue
		}
		v, err = Coerce(v, schema.kind(m))
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", ins.Table, err)
		}
		cols = append(cols, pgx.Identifier{m.TargetField}.Sanitize())
		args = append(args, bind(v))
		ins.Columns = append(ins.Columns, m.TargetField)
		ins.Values[m.TargetField] = v
	}

	stmt := insertStatement(schema.QualifiedName(), cols)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin insert into %s: %w", ins.Table, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, stmt, args...).Scan(&ins.RowID); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", ins.Table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit insert into %s: %w", ins.Table, err)
	}

	slog.Debug("row inserted", "table", ins.Table, "row_id", ins.RowID, "email_id", emailID(env))
	return ins, nil
}

func insertStatement(table string, cols []string) string {
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", table)
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

func emailID(env mapping.Env) int64 {
	if env.Email == nil {
		return 0
	}
	return env.Email.ID
}
