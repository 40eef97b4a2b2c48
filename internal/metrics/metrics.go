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

// Package metrics provides Prometheus metrics for the routing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailrouter"

var (
	// EmailsProcessed counts finished emails.
	// Labels: outcome (categorized, duplicate, suggested, failed)
	EmailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "emails_processed_total",
			Help:      "Total number of emails processed by outcome",
		},
		[]string{"outcome"},
	)

	// ProcessingDuration tracks per-email pipeline latency.
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "email_duration_seconds",
			Help:      "Duration of a single email pipeline run in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// BatchesTotal counts batch runs.
	// Labels: result (success, error)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total number of batch runs",
		},
		[]string{"result"},
	)

	// DuplicatesDetected counts persisted duplicate links.
	// Labels: method (detection method tag)
	DuplicatesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "duplicate",
			Name:      "detected_total",
			Help:      "Total number of duplicate links persisted by detection method",
		},
		[]string{"method"},
	)

	// SinkExecutions counts rule executions per sink.
	// Labels: sink (extraction, database_insertion, http_call), status (success, failed)
	SinkExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "executions_total",
			Help:      "Total number of rule executions by sink and status",
		},
		[]string{"sink", "status"},
	)

	// HTTPAttempts counts outbound HTTP attempts.
	// Labels: result (success, http_error, transport_error, breaker_open)
	HTTPAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_sink",
			Name:      "attempts_total",
			Help:      "Total number of outbound HTTP attempts by result",
		},
		[]string{"result"},
	)

	// BreakerOpen reports 1 while an HTTP call's breaker is open.
	// Labels: http_call_id
	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http_sink",
			Name:      "breaker_open",
			Help:      "Circuit breaker state per HTTP call (1=open)",
		},
		[]string{"http_call_id"},
	)
)
