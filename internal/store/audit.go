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
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/models"
)

// LogRuleExecution appends a rule execution record.
func (s *Store) LogRuleExecution(ctx context.Context, exec models.RuleExecution) error {
	var result []byte
	if exec.Result != nil {
		var err error
		if result, err = json.Marshal(exec.Result); err != nil {
			return fmt.Errorf("encode rule execution result: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rule_executions
			(email_id, rule_id, execution_type, status, execution_time_ms, result_data, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exec.EmailID, exec.RuleID, string(exec.Type), string(exec.Status),
		millis(exec.Latency), result, exec.Error)
	if err != nil {
		return fmt.Errorf("insert rule execution: %w", err)
	}
	return nil
}

// LogHTTPCall appends an HTTP call outcome.
func (s *Store) LogHTTPCall(ctx context.Context, l *models.HTTPCallLog) error {
	headers, err := json.Marshal(l.Headers)
	if err != nil {
		return fmt.Errorf("encode request headers: %w", err)
	}

	var status *int
	if l.StatusCode != 0 {
		status = &l.StatusCode
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO http_call_logs
			(email_id, http_call_id, request_url, request_method, request_headers,
			 request_body, response_status, response_body, execution_time_ms,
			 success, error_message, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, l.EmailID, l.HTTPCallID, l.URL, l.Method, headers,
		l.Body, status, l.ResponseBody, millis(l.Latency),
		l.Success, l.Error, l.Attempts)
	if err != nil {
		return fmt.Errorf("insert http call log: %w", err)
	}
	return nil
}

// SaveExtractedFields upserts one row per extracted field of a rule. The
// whole set is sent as a single batch.
func (s *Store) SaveExtractedFields(ctx context.Context, emailID, ruleID int64, fields map[string]any, types map[string]models.DataType) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := &pgx.Batch{}
	for _, name := range names {
		typ := types[name]
		if typ == "" {
			typ = models.TypeString
		}
		batch.Queue(`
			INSERT INTO extracted_data (email_id, rule_id, field_name, field_value, data_type)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email_id, rule_id, field_name) DO UPDATE SET
				field_value = EXCLUDED.field_value,
				data_type   = EXCLUDED.data_type
		`, emailID, ruleID, name, mapping.String(fields[name]), string(typ))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save extracted fields: %w", err)
	}
	return nil
}

// SaveParsedData writes the single parsed-data record of an email,
// replacing any earlier one.
func (s *Store) SaveParsedData(ctx context.Context, pd models.ParsedData) error {
	fields := pd.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode parsed fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO parsed_email_data
			(email_id, category_name, parsed_fields, confidence_score, parsing_status, template_id, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_id) DO UPDATE SET
			category_name    = EXCLUDED.category_name,
			parsed_fields    = EXCLUDED.parsed_fields,
			confidence_score = EXCLUDED.confidence_score,
			parsing_status   = EXCLUDED.parsing_status,
			template_id      = EXCLUDED.template_id,
			rule_id          = EXCLUDED.rule_id,
			parsed_at        = NOW()
	`, pd.EmailID, pd.CategoryName, data, pd.Confidence, string(pd.Status), pd.TemplateID, pd.RuleID)
	if err != nil {
		return fmt.Errorf("upsert parsed data: %w", err)
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
