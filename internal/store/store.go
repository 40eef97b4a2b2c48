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

// Package store provides the Postgres persistence layer of the routing
// pipeline: email lookups and status, the atomic backlog claim, duplicate
// links, category assignments and suggestions, extraction results, the
// configuration snapshot and the rule-execution audit trail.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailrouter/internal/models"
)

// ErrNotFound is returned when a requested email does not exist.
var ErrNotFound = errors.New("not found")

// Store provides pipeline persistence over a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given Postgres pool. The schema
// is owned by the embedded migrations (see Migrate).
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const emailColumns = `
	id, message_id, sender, sender_name, recipient, subject, body_text,
	body_html, received_at, is_duplicate, duplicate_of, processing_status,
	processing_error, content_hash`

// GetEmail loads a single email by id.
func (s *Store) GetEmail(ctx context.Context, id int64) (*models.Email, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	e, err := scanEmail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get email %d: %w", id, err)
	}
	return e, nil
}

// ClaimBacklog atomically marks up to limit unprocessed emails as
// processing and returns them in received order. Emails left in
// processing for longer than staleAfter (a crashed worker) are claimable
// again. Concurrent callers never receive the same email.
func (s *Store) ClaimBacklog(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Email, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE emails
		SET processing_status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT e.id FROM emails e
			WHERE (e.processing_status = 'pending'
			       OR (e.processing_status = 'processing' AND e.claimed_at < NOW() - $2::interval))
			  AND e.is_duplicate = FALSE
			  AND NOT EXISTS (SELECT 1 FROM parsed_email_data p WHERE p.email_id = e.id)
			ORDER BY e.received_at, e.id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+emailColumns,
		limit, interval(staleAfter))
	if err != nil {
		return nil, fmt.Errorf("claim backlog: %w", err)
	}
	defer rows.Close()

	emails, err := collectEmails(rows)
	if err != nil {
		return nil, fmt.Errorf("claim backlog: %w", err)
	}
	sort.Slice(emails, func(i, j int) bool {
		if !emails[i].ReceivedAt.Equal(emails[j].ReceivedAt) {
			return emails[i].ReceivedAt.Before(emails[j].ReceivedAt)
		}
		return emails[i].ID < emails[j].ID
	})
	return emails, nil
}

// CandidateQuery selects the duplicate candidate pool for one email.
type CandidateQuery struct {
	Sender    string
	ExcludeID int64
	From, To  time.Time

	// Anchor orders the pool by distance from this instant when
	// Proximity is set, and by recency otherwise.
	Anchor    time.Time
	Proximity bool
	Limit     int
}

// Candidates returns emails from the same sender received within the
// query window. Emails already marked duplicate are left out, so every
// link points at a cluster root.
func (s *Store) Candidates(ctx context.Context, q CandidateQuery) ([]models.Email, error) {
	sql, args := candidateSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query duplicate candidates: %w", err)
	}
	defer rows.Close()
	return collectEmails(rows)
}

func candidateSQL(q CandidateQuery) (string, []any) {
	args := []any{q.Sender, q.ExcludeID, q.From, q.To}
	order := `received_at DESC, id DESC`
	if q.Proximity {
		args = append(args, q.Anchor)
		order = `ABS(EXTRACT(EPOCH FROM (received_at - $5::timestamptz))), id`
	}
	args = append(args, q.Limit)

	return `
		SELECT ` + emailColumns + `
		FROM emails
		WHERE LOWER(sender) = LOWER($1)
		  AND id <> $2
		  AND received_at BETWEEN $3 AND $4
		  AND is_duplicate = FALSE
		ORDER BY ` + order + `
		LIMIT $` + fmt.Sprint(len(args)), args
}

// SaveDuplicate persists a duplicate link and marks the duplicate email in
// one transaction. The link is keyed on the duplicate id, so re-processing
// an email replaces its link instead of adding a second one.
func (s *Store) SaveDuplicate(ctx context.Context, link models.DuplicateLink) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin duplicate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO email_duplicates
			(canonical_email_id, duplicate_email_id, similarity_score, duplicate_type, detection_method)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (duplicate_email_id) DO UPDATE SET
			canonical_email_id = EXCLUDED.canonical_email_id,
			similarity_score   = EXCLUDED.similarity_score,
			duplicate_type     = EXCLUDED.duplicate_type,
			detection_method   = EXCLUDED.detection_method
	`, link.CanonicalID, link.DuplicateID, link.Score, link.Type, link.Method); err != nil {
		return fmt.Errorf("upsert duplicate link: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE emails
		SET is_duplicate = TRUE, duplicate_of = $1,
		    processing_status = 'completed', processing_error = ''
		WHERE id = $2
	`, link.CanonicalID, link.DuplicateID); err != nil {
		return fmt.Errorf("mark email %d duplicate: %w", link.DuplicateID, err)
	}

	return tx.Commit(ctx)
}

// SetContentHash stores the email's content fingerprint.
func (s *Store) SetContentHash(ctx context.Context, id int64, hash string) error {
	_, err := s.pool.Exec(ctx, `UPDATE emails SET content_hash = $1 WHERE id = $2`, hash, id)
	return err
}

// UpdateStatus sets an email's processing status and last error.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status models.EmailStatus, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET processing_status = $1, processing_error = $2,
		    claimed_at = CASE WHEN $1 = 'processing' THEN NOW() ELSE claimed_at END
		WHERE id = $3
	`, string(status), lastErr, id)
	return err
}

// UpsertAssignment writes the effective category assignment for an
// (email, category) pair.
func (s *Store) UpsertAssignment(ctx context.Context, a models.CategoryAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_category_assignments
			(email_id, category_id, confidence_score, assignment_method, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_id, category_id) DO UPDATE SET
			confidence_score  = EXCLUDED.confidence_score,
			assignment_method = EXCLUDED.assignment_method,
			assigned_at       = EXCLUDED.assigned_at
	`, a.EmailID, a.CategoryID, a.Confidence, string(a.Method), a.AssignedAt)
	return err
}

// InsertSuggestion stores a category suggestion and returns its id.
func (s *Store) InsertSuggestion(ctx context.Context, sg models.Suggestion) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO category_suggestions
			(suggested_name, description, sample_email_ids, subject_patterns,
			 sender_patterns, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sg.SuggestedName, sg.Description, nonNil64(sg.SampleEmailIDs),
		nonNil(sg.SubjectPatterns), nonNil(sg.SenderPatterns), sg.Confidence, sg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert suggestion: %w", err)
	}
	return id, nil
}

// scanEmail scans a single row into an Email.
func scanEmail(row pgx.Row) (*models.Email, error) {
	var (
		e      models.Email
		status string
	)
	err := row.Scan(
		&e.ID, &e.MessageID, &e.Sender, &e.SenderName, &e.Recipient, &e.Subject,
		&e.BodyText, &e.BodyHTML, &e.ReceivedAt, &e.IsDuplicate, &e.DuplicateOf,
		&status, &e.LastError, &e.ContentHash,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.EmailStatus(status)
	return &e, nil
}

// collectEmails scans multiple rows into a slice of Emails.
func collectEmails(rows pgx.Rows) ([]models.Email, error) {
	var emails []models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// interval renders a duration as a Postgres interval literal.
func interval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNil64(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

func logRows(what string, n int) {
	slog.Debug("loaded configuration rows", "table", what, "rows", n)
}
