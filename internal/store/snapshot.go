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
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bcem/mailrouter/internal/models"
)

// LoadSnapshot reads the rule and category configuration a batch run
// evaluates against. Only active rules, patterns, templates and
// destinations are loaded; categories are loaded regardless of state so
// rules pointing at an inactive category can be recognised.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var (
		cs  configSet
		err error
	)
	if cs.categories, err = s.loadCategories(ctx); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if cs.patterns, err = s.loadCategoryPatterns(ctx); err != nil {
		return nil, fmt.Errorf("load category patterns: %w", err)
	}
	if cs.rules, err = s.loadRules(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if cs.extraction, err = s.loadExtractionPatterns(ctx); err != nil {
		return nil, fmt.Errorf("load extraction patterns: %w", err)
	}
	if cs.targets, err = s.loadTargets(ctx); err != nil {
		return nil, fmt.Errorf("load insertion targets: %w", err)
	}
	if cs.mappings, err = s.loadMappings(ctx); err != nil {
		return nil, fmt.Errorf("load field mappings: %w", err)
	}
	if cs.calls, err = s.loadHTTPCalls(ctx); err != nil {
		return nil, fmt.Errorf("load http calls: %w", err)
	}
	if cs.params, err = s.loadHTTPParameters(ctx); err != nil {
		return nil, fmt.Errorf("load http parameters: %w", err)
	}
	if cs.templates, err = s.loadTemplates(ctx); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	snap := cs.assemble(time.Now())
	slog.Info("configuration snapshot loaded",
		"categories", len(snap.Categories),
		"category_patterns", len(snap.CategoryPatterns),
		"rules", len(snap.Rules),
		"templates", len(snap.Templates),
	)
	return snap, nil
}

// configSet holds the flat configuration rows before they are nested.
type configSet struct {
	categories []models.Category
	patterns   []models.CategoryPattern
	rules      []models.Rule
	extraction []models.ExtractionPattern
	targets    []models.InsertionTarget
	mappings   []mappingRow
	calls      []models.HTTPCall
	params     []paramRow
	templates  []models.Template
}

type mappingRow struct {
	targetID int64
	mapping  models.FieldMapping
}

type paramRow struct {
	callID int64
	param  models.HTTPParameter
}

// assemble nests child rows under their parents and sorts rules into
// evaluation order. Children whose parent is missing are dropped.
func (cs configSet) assemble(now time.Time) *models.Snapshot {
	snap := &models.Snapshot{
		Categories:       make(map[int64]models.Category, len(cs.categories)),
		CategoryPatterns: cs.patterns,
		Templates:        cs.templates,
		LoadedAt:         now,
	}
	for _, c := range cs.categories {
		snap.Categories[c.ID] = c
	}

	mappings := make(map[int64][]models.FieldMapping)
	for _, m := range cs.mappings {
		mappings[m.targetID] = append(mappings[m.targetID], m.mapping)
	}
	params := make(map[int64][]models.HTTPParameter)
	for _, p := range cs.params {
		params[p.callID] = append(params[p.callID], p.param)
	}

	extraction := make(map[int64][]models.ExtractionPattern)
	for _, p := range cs.extraction {
		extraction[p.RuleID] = append(extraction[p.RuleID], p)
	}
	targets := make(map[int64][]models.InsertionTarget)
	for _, t := range cs.targets {
		t.Mappings = mappings[t.ID]
		targets[t.RuleID] = append(targets[t.RuleID], t)
	}
	calls := make(map[int64][]models.HTTPCall)
	for _, c := range cs.calls {
		c.Parameters = params[c.ID]
		calls[c.RuleID] = append(calls[c.RuleID], c)
	}

	snap.Rules = make([]models.Rule, 0, len(cs.rules))
	for _, r := range cs.rules {
		r.Extraction = extraction[r.ID]
		r.Targets = targets[r.ID]
		r.HTTPCalls = calls[r.ID]
		snap.Rules = append(snap.Rules, r)
	}
	snap.SortRules()
	return snap
}

func (s *Store) loadCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, confidence_threshold, auto_assign, is_active
		FROM categories
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ConfidenceThreshold, &c.AutoAssign, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	logRows("categories", len(out))
	return out, rows.Err()
}

func (s *Store) loadCategoryPatterns(ctx context.Context) ([]models.CategoryPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category_id, pattern_type, pattern_regex, weight, success_rate, is_active
		FROM category_patterns
		WHERE is_active
		ORDER BY category_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CategoryPattern
	for rows.Next() {
		var (
			p   models.CategoryPattern
			typ string
		)
		if err := rows.Scan(&p.ID, &p.CategoryID, &typ, &p.Regex, &p.Weight, &p.SuccessRate, &p.Active); err != nil {
			return nil, err
		}
		p.Type = models.PatternType(typ)
		out = append(out, p)
	}
	logRows("category_patterns", len(out))
	return out, rows.Err()
}

func (s *Store) loadRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category_id, priority, sender_pattern, subject_pattern,
		       body_pattern, match_logic, pattern_weight, success_rate, is_active
		FROM email_rules
		WHERE is_active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var (
			r     models.Rule
			logic string
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &r.CategoryID, &r.Priority, &r.SenderPattern, &r.SubjectPattern,
			&r.BodyPattern, &logic, &r.PatternWeight, &r.SuccessRate, &r.Active,
		); err != nil {
			return nil, err
		}
		r.MatchLogic = models.MatchLogic(logic)
		out = append(out, r)
	}
	logRows("email_rules", len(out))
	return out, rows.Err()
}

func (s *Store) loadExtractionPatterns(ctx context.Context) ([]models.ExtractionPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, field_name, source_field, regex_pattern, capture_group,
		       data_type, is_required
		FROM extraction_patterns
		ORDER BY rule_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExtractionPattern
	for rows.Next() {
		var (
			p        models.ExtractionPattern
			src, typ string
		)
		if err := rows.Scan(&p.ID, &p.RuleID, &p.FieldName, &src, &p.Regex, &p.Group, &typ, &p.Required); err != nil {
			return nil, err
		}
		p.Source = models.PatternType(src)
		p.DataType = models.DataType(typ)
		out = append(out, p)
	}
	logRows("extraction_patterns", len(out))
	return out, rows.Err()
}

func (s *Store) loadTargets(ctx context.Context) ([]models.InsertionTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, target_schema, target_table
		FROM database_insertion_configs
		WHERE is_active
		ORDER BY rule_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.InsertionTarget
	for rows.Next() {
		var t models.InsertionTarget
		if err := rows.Scan(&t.ID, &t.RuleID, &t.Schema, &t.Table); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	logRows("database_insertion_configs", len(out))
	return out, rows.Err()
}

func (s *Store) loadMappings(ctx context.Context) ([]mappingRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, insertion_config_id, target_field, source_type, source_value, transformation
		FROM field_mappings
		ORDER BY insertion_config_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mappingRow
	for rows.Next() {
		var (
			m    mappingRow
			kind string
		)
		if err := rows.Scan(
			&m.mapping.ID, &m.targetID, &m.mapping.TargetField, &kind,
			&m.mapping.Source.Value, &m.mapping.Transformation,
		); err != nil {
			return nil, err
		}
		m.mapping.Source.Kind = models.SourceKind(kind)
		out = append(out, m)
	}
	logRows("field_mappings", len(out))
	return out, rows.Err()
}

// authConfigJSON mirrors the stored auth_config column.
type authConfigJSON struct {
	Token        string   `json:"token"`
	APIKey       string   `json:"api_key"`
	HeaderName   string   `json:"header_name"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

func (s *Store) loadHTTPCalls(ctx context.Context) ([]models.HTTPCall, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, name, method, base_url, auth_type, auth_config, headers,
		       max_retries, retry_delay_seconds, timeout_seconds
		FROM http_call_configs
		WHERE is_active
		ORDER BY rule_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HTTPCall
	for rows.Next() {
		var (
			c                 models.HTTPCall
			authType          string
			authRaw, headers  []byte
			delaySec, timeout float64
		)
		if err := rows.Scan(
			&c.ID, &c.RuleID, &c.Name, &c.Method, &c.BaseURL, &authType, &authRaw, &headers,
			&c.MaxRetries, &delaySec, &timeout,
		); err != nil {
			return nil, err
		}

		auth, err := decodeAuth(authType, authRaw)
		if err != nil {
			slog.Warn("skipping http call with malformed auth config", "http_call_id", c.ID, "error", err)
			continue
		}
		c.Auth = auth
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &c.Headers); err != nil {
				slog.Warn("skipping http call with malformed headers", "http_call_id", c.ID, "error", err)
				continue
			}
		}
		c.RetryDelay = seconds(delaySec)
		c.Timeout = seconds(timeout)
		out = append(out, c)
	}
	logRows("http_call_configs", len(out))
	return out, rows.Err()
}

func decodeAuth(authType string, raw []byte) (models.AuthConfig, error) {
	var a authConfigJSON
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return models.AuthConfig{}, err
		}
	}
	return models.AuthConfig{
		Type:         models.AuthType(authType),
		Token:        a.Token,
		APIKey:       a.APIKey,
		HeaderName:   a.HeaderName,
		Username:     a.Username,
		Password:     a.Password,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
		Scopes:       a.Scopes,
	}, nil
}

func (s *Store) loadHTTPParameters(ctx context.Context) ([]paramRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, http_call_id, param_name, param_type, source_type, source_value, transformation
		FROM http_parameters
		ORDER BY http_call_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []paramRow
	for rows.Next() {
		var (
			p           paramRow
			place, kind string
		)
		if err := rows.Scan(
			&p.param.ID, &p.callID, &p.param.Name, &place, &kind,
			&p.param.Source.Value, &p.param.Transformation,
		); err != nil {
			return nil, err
		}
		p.param.Placement = models.Placement(place)
		p.param.Source.Kind = models.SourceKind(kind)
		out = append(out, p)
	}
	logRows("http_parameters", len(out))
	return out, rows.Err()
}

func (s *Store) loadTemplates(ctx context.Context) ([]models.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category_name, template_name, field_extractions::text
		FROM email_parsing_templates
		WHERE is_active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func collectTemplates(rows pgx.Rows) ([]models.Template, error) {
	var out []models.Template
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.CategoryName, &t.Name, &t.Fields); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	logRows("email_parsing_templates", len(out))
	return out, rows.Err()
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
