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

// Package storage is the relational routing sink. It provisions destination
// tables on first use from a rule's field mappings and inserts one row per
// routed email inside its own transaction.
//
// DDL generation is kept apart from inserts: column types come from
// InferColumnKind, identifiers are validated and then quoted with
// pgx.Identifier, and values always travel as bind parameters.
package storage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/models"
)

// ErrInvalidIdentifier is returned for schema, table or column names that
// are not plain SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// EmailTable is the table email_id columns reference.
const EmailTable = "emails"

// ColumnKind is the closed set of column types the sink creates.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindEmailRef
	KindTimestamp
	KindDecimal
	KindAddress
	KindReference
)

// SQLType returns the column definition for the kind.
func (k ColumnKind) SQLType() string {
	switch k {
	case KindEmailRef:
		return "BIGINT"
	case KindTimestamp:
		return "TIMESTAMPTZ DEFAULT NOW()"
	case KindDecimal:
		return "NUMERIC(10,2)"
	case KindAddress:
		return "VARCHAR(255)"
	case KindReference:
		return "VARCHAR(100)"
	default:
		return "TEXT"
	}
}

func (k ColumnKind) String() string {
	switch k {
	case KindEmailRef:
		return "email_ref"
	case KindTimestamp:
		return "timestamp"
	case KindDecimal:
		return "decimal"
	case KindAddress:
		return "address"
	case KindReference:
		return "reference"
	default:
		return "text"
	}
}

// InferColumnKind picks a column kind from the target column name and its
// source. The first matching rule wins:
//
//	email_id metadata source      -> email reference
//	name contains date or time    -> timestamp
//	amount, price or total        -> decimal
//	email                         -> bounded address string
//	number or id                  -> bounded reference string
//	anything else                 -> text
func InferColumnKind(name string, src models.Source) ColumnKind {
	if src.Kind == models.SourceMetadata && src.Value == mapping.KeyEmailID {
		return KindEmailRef
	}
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "date", "time"):
		return KindTimestamp
	case containsAny(n, "amount", "price", "total"):
		return KindDecimal
	case strings.Contains(n, "email"):
		return KindAddress
	case containsAny(n, "number", "id"):
		return KindReference
	default:
		return KindText
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Column is one provisioned column.
type Column struct {
	Name string
	Kind ColumnKind
}

// Schema describes a destination table.
type Schema struct {
	Namespace string
	Table     string
	Columns   []Column
}

// ValidIdentifier reports whether s may be used as a table or column name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// BuildSchema derives the destination schema from an insertion target. A
// mapping onto the generated id column is ignored, and so is one onto
// created_at, which always exists.
func BuildSchema(t models.InsertionTarget) (Schema, error) {
	if !ValidIdentifier(t.Table) {
		return Schema{}, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, t.Table)
	}
	if t.Schema != "" && !ValidIdentifier(t.Schema) {
		return Schema{}, fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, t.Schema)
	}

	s := Schema{Namespace: t.Schema, Table: t.Table}
	seen := make(map[string]bool)
	for _, m := range t.Mappings {
		if !ValidIdentifier(m.TargetField) {
			return Schema{}, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, m.TargetField)
		}
		key := strings.ToLower(m.TargetField)
		if key == "id" || key == "created_at" {
			continue
		}
		if seen[key] {
			return Schema{}, fmt.Errorf("duplicate column %q in target %s", m.TargetField, t.Table)
		}
		seen[key] = true
		s.Columns = append(s.Columns, Column{Name: m.TargetField, Kind: InferColumnKind(m.TargetField, m.Source)})
	}
	return s, nil
}

// kind returns the column kind a mapping writes to. created_at is not part
// of Columns but always holds a timestamp.
func (s Schema) kind(m models.FieldMapping) ColumnKind {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, m.TargetField) {
			return c.Kind
		}
	}
	if strings.EqualFold(m.TargetField, "created_at") {
		return KindTimestamp
	}
	return InferColumnKind(m.TargetField, m.Source)
}

// Identifier returns the qualified table identifier.
func (s Schema) Identifier() pgx.Identifier {
	if s.Namespace != "" {
		return pgx.Identifier{s.Namespace, s.Table}
	}
	return pgx.Identifier{s.Table}
}

// QualifiedName is the sanitized, quoted table name.
func (s Schema) QualifiedName() string {
	return s.Identifier().Sanitize()
}

// CreateStatement returns the CREATE TABLE statement for the schema.
func (s Schema) CreateStatement() string {
	defs := []string{"id BIGSERIAL PRIMARY KEY"}
	for _, c := range s.Columns {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+c.Kind.SQLType())
	}
	defs = append(defs, "created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.QualifiedName(), strings.Join(defs, ",\n\t"))
}

// AddColumnStatements returns one idempotent ALTER per column, used when
// the table already exists.
func (s Schema) AddColumnStatements() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			s.QualifiedName(), pgx.Identifier{c.Name}.Sanitize(), c.Kind.SQLType()))
	}
	return out
}

// ForeignKeyStatements returns an ALTER per email reference column.
func (s Schema) ForeignKeyStatements() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Kind != KindEmailRef {
			continue
		}
		name := truncateIdent("fk_" + s.Table + "_" + c.Name)
		out = append(out, fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(id) ON DELETE CASCADE",
			s.QualifiedName(),
			pgx.Identifier{name}.Sanitize(),
			pgx.Identifier{c.Name}.Sanitize(),
			pgx.Identifier{EmailTable}.Sanitize(),
		))
	}
	return out
}

// key identifies a schema in the provisioning cache.
func (s Schema) key() string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return s.QualifiedName() + "|" + strings.Join(names, ",")
}

func truncateIdent(s string) string {
	if len(s) > 63 {
		return s[:63]
	}
	return s
}
