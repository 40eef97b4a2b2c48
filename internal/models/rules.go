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

package models

import (
	"sort"
	"time"
)

// Category is an administrator-owned classification bucket.
type Category struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	Description         string  `json:"description,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	AutoAssign          bool    `json:"auto_assign"`
	Active              bool    `json:"active"`
}

// PatternType selects the email text a pattern is evaluated against.
type PatternType string

const (
	PatternSender   PatternType = "sender"
	PatternSubject  PatternType = "subject"
	PatternBody     PatternType = "body"
	PatternHTML     PatternType = "html"
	PatternCombined PatternType = "combined"
)

// Text returns the part of the email a pattern of this type reads.
func (p PatternType) Text(e *Email) string {
	switch p {
	case PatternSender:
		return e.Sender
	case PatternSubject:
		return e.Subject
	case PatternHTML:
		return e.BodyHTML
	case PatternCombined:
		return e.Subject + " " + e.Body()
	default:
		return e.Body()
	}
}

// CategoryPattern is one weighted vote for a category.
type CategoryPattern struct {
	ID          int64       `json:"id"`
	CategoryID  int64       `json:"category_id"`
	Type        PatternType `json:"pattern_type"`
	Regex       string      `json:"pattern_regex"`
	Weight      float64     `json:"pattern_weight"`
	SuccessRate float64     `json:"success_rate"`
	Active      bool        `json:"is_active"`
}

// MatchLogic combines a rule's conditions.
type MatchLogic string

const (
	MatchAll MatchLogic = "AND"
	MatchAny MatchLogic = "OR"
)

// Rule is a prioritized condition set mapping emails to a category, with
// the extraction and routing configuration that applies once it matches.
type Rule struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	CategoryID     int64      `json:"category_id"`
	Priority       int        `json:"priority"`
	SenderPattern  string     `json:"sender_pattern,omitempty"`
	SubjectPattern string     `json:"subject_pattern,omitempty"`
	BodyPattern    string     `json:"body_pattern,omitempty"`
	MatchLogic     MatchLogic `json:"match_logic"`
	PatternWeight  float64    `json:"pattern_weight"`
	SuccessRate    float64    `json:"success_rate"`
	Active         bool       `json:"active"`

	Extraction []ExtractionPattern `json:"extraction,omitempty"`
	Targets    []InsertionTarget   `json:"targets,omitempty"`
	HTTPCalls  []HTTPCall          `json:"http_calls,omitempty"`
}

// DataType is the target type of an extracted field.
type DataType string

const (
	TypeString   DataType = "string"
	TypeInteger  DataType = "integer"
	TypeDecimal  DataType = "decimal"
	TypeDate     DataType = "date"
	TypeDateTime DataType = "datetime"
)

// ExtractionPattern pulls one typed field out of an email.
type ExtractionPattern struct {
	ID        int64       `json:"id"`
	RuleID    int64       `json:"rule_id"`
	FieldName string      `json:"field_name"`
	Source    PatternType `json:"source_field"`
	Regex     string      `json:"regex_pattern"`
	Group     int         `json:"capture_group"`
	DataType  DataType    `json:"data_type"`
	Required  bool        `json:"required"`
}

// Template is a parsing template evaluated against every email. Fields
// holds the raw JSON configuration as stored by the administration tools.
type Template struct {
	ID           int64  `json:"id"`
	CategoryName string `json:"category_name"`
	Name         string `json:"template_name"`
	Fields       string `json:"field_extractions"`
}

// SourceKind names where a mapped value comes from.
type SourceKind string

const (
	SourceExtracted SourceKind = "extracted_data"
	SourceMetadata  SourceKind = "email_metadata"
	SourceStatic    SourceKind = "static_value"
)

// Source identifies a mapped value's raw form.
type Source struct {
	Kind  SourceKind `json:"source_type"`
	Value string     `json:"source_value"`
}

// FieldMapping binds a destination column to a source.
type FieldMapping struct {
	ID             int64  `json:"id"`
	TargetField    string `json:"target_field"`
	Source         Source `json:"source"`
	Transformation string `json:"data_transformation,omitempty"`
}

// InsertionTarget is a storage destination created on demand.
type InsertionTarget struct {
	ID       int64          `json:"id"`
	RuleID   int64          `json:"rule_id"`
	Schema   string         `json:"target_schema,omitempty"`
	Table    string         `json:"target_table"`
	Mappings []FieldMapping `json:"mappings"`
}

// AuthType selects how an outbound request authenticates.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

// AuthConfig carries credentials for every supported AuthType.
type AuthConfig struct {
	Type         AuthType `json:"type"`
	Token        string   `json:"token,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	HeaderName   string   `json:"header_name,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Placement is where an HTTP parameter is written.
type Placement string

const (
	PlaceQuery  Placement = "query"
	PlaceHeader Placement = "header"
	PlaceBody   Placement = "body"
)

// HTTPParameter is one resolved value of an outbound request.
type HTTPParameter struct {
	ID             int64     `json:"id"`
	Name           string    `json:"parameter_name"`
	Placement      Placement `json:"parameter_type"`
	Source         Source    `json:"source"`
	Transformation string    `json:"data_transformation,omitempty"`
}

// HTTPCall is an outbound HTTP destination.
type HTTPCall struct {
	ID         int64             `json:"id"`
	RuleID     int64             `json:"rule_id"`
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	BaseURL    string            `json:"base_url"`
	Auth       AuthConfig        `json:"auth"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"max_retries"`
	RetryDelay time.Duration     `json:"retry_delay"`
	Timeout    time.Duration     `json:"timeout"`
	Parameters []HTTPParameter   `json:"parameters,omitempty"`
}

// Snapshot is the configuration a batch run evaluates against. It is
// loaded once per run and never mutated afterwards.
type Snapshot struct {
	Categories       map[int64]Category
	CategoryPatterns []CategoryPattern
	Rules            []Rule
	Templates        []Template
	LoadedAt         time.Time
}

// SortRules orders rules by ascending priority, then id.
func (s *Snapshot) SortRules() {
	sort.SliceStable(s.Rules, func(i, j int) bool {
		if s.Rules[i].Priority != s.Rules[j].Priority {
			return s.Rules[i].Priority < s.Rules[j].Priority
		}
		return s.Rules[i].ID < s.Rules[j].ID
	})
}
