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

import "time"

// ExecutionType names the pipeline stage a rule execution record covers.
type ExecutionType string

const (
	ExecExtraction        ExecutionType = "extraction"
	ExecDatabaseInsertion ExecutionType = "database_insertion"
	ExecHTTPCall          ExecutionType = "http_call"
)

// ExecutionStatus is the final state of a rule execution.
type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "success"
	ExecFailed  ExecutionStatus = "failed"
)

// RuleExecution is the audit record administration tooling reads to report
// per-rule health.
type RuleExecution struct {
	EmailID int64           `json:"email_id"`
	RuleID  int64           `json:"rule_id"`
	Type    ExecutionType   `json:"execution_type"`
	Status  ExecutionStatus `json:"status"`
	Latency time.Duration   `json:"execution_time"`
	Result  any             `json:"result_data,omitempty"`
	Error   string          `json:"error_message,omitempty"`
}

// HTTPCallLog is the final outcome of one HTTP destination for one email.
type HTTPCallLog struct {
	EmailID      int64             `json:"email_id"`
	HTTPCallID   int64             `json:"http_call_id"`
	URL          string            `json:"request_url"`
	Method       string            `json:"request_method"`
	Headers      map[string]string `json:"request_headers,omitempty"`
	Body         string            `json:"request_body,omitempty"`
	StatusCode   int               `json:"response_status,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	Latency      time.Duration     `json:"execution_time"`
	Success      bool              `json:"success"`
	Error        string            `json:"error_message,omitempty"`
	Attempts     int               `json:"attempts"`
}
