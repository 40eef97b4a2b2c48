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

// Package models defines the data structures shared across the routing pipeline.
package models

import "time"

// EmailStatus is the processing state of an ingested email.
type EmailStatus string

const (
	StatusPending    EmailStatus = "pending"
	StatusProcessing EmailStatus = "processing"
	StatusCompleted  EmailStatus = "completed"
	StatusFailed     EmailStatus = "failed"
)

// Email is a normalized email record handed to the pipeline by the
// ingestion step. Only the status and duplicate fields change after ingest.
type Email struct {
	ID          int64       `json:"id"`
	MessageID   string      `json:"message_id"`
	Sender      string      `json:"sender"`
	SenderName  string      `json:"sender_name,omitempty"`
	Recipient   string      `json:"recipient"`
	Subject     string      `json:"subject"`
	BodyText    string      `json:"body_text"`
	BodyHTML    string      `json:"body_html,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
	IsDuplicate bool        `json:"is_duplicate"`
	DuplicateOf *int64      `json:"duplicate_of,omitempty"`
	Status      EmailStatus `json:"status"`
	LastError   string      `json:"last_error,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
}

// Body returns the plain body, falling back to the HTML variant.
func (e *Email) Body() string {
	if e.BodyText != "" {
		return e.BodyText
	}
	return e.BodyHTML
}

// DuplicateLink records that DuplicateID is a copy of CanonicalID.
type DuplicateLink struct {
	CanonicalID int64   `json:"canonical_id"`
	DuplicateID int64   `json:"duplicate_id"`
	Score       float64 `json:"score"`
	Type        string  `json:"duplicate_type"`
	Method      string  `json:"detection_method"`
}

// AssignmentMethod distinguishes rule-driven from operator assignments.
type AssignmentMethod string

const (
	AssignAuto   AssignmentMethod = "auto"
	AssignManual AssignmentMethod = "manual"
)

// CategoryAssignment links an email to a category. One effective row
// exists per (email, category); later writes replace earlier ones.
type CategoryAssignment struct {
	EmailID    int64            `json:"email_id"`
	CategoryID int64            `json:"category_id"`
	Confidence float64          `json:"confidence"`
	Method     AssignmentMethod `json:"method"`
	AssignedAt time.Time        `json:"assigned_at"`
}

// Suggestion is a low-confidence hint for a human to create a new category
// for emails no configured category accepted.
type Suggestion struct {
	ID              int64     `json:"id,omitempty"`
	SuggestedName   string    `json:"suggested_name"`
	Description     string    `json:"description"`
	SampleEmailIDs  []int64   `json:"sample_email_ids"`
	SubjectPatterns []string  `json:"subject_patterns"`
	SenderPatterns  []string  `json:"sender_patterns"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// ParseStatus summarises how many configured fields an extraction matched.
type ParseStatus string

const (
	ParseSuccess ParseStatus = "success"
	ParsePartial ParseStatus = "partial"
	ParseFailed  ParseStatus = "failed"
)

// ParsedData is the single stored extraction result for an email.
type ParsedData struct {
	EmailID      int64          `json:"email_id"`
	CategoryName string         `json:"category_name"`
	Fields       map[string]any `json:"parsed_fields"`
	Confidence   float64        `json:"confidence_score"`
	Status       ParseStatus    `json:"parsing_status"`
	TemplateID   *int64         `json:"template_id,omitempty"`
	RuleID       *int64         `json:"rule_id,omitempty"`
}
