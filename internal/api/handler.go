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

// Package api exposes the pipeline over HTTP. Operators and upstream
// ingestion trigger single-email runs and batch runs here; the long-running
// worker in cmd/server covers the steady-state backlog.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bcem/mailrouter/internal/lease"
	"github.com/bcem/mailrouter/internal/pipeline"
	"github.com/bcem/mailrouter/internal/store"
)

// Processor runs the pipeline.
type Processor interface {
	ProcessEmail(ctx context.Context, id int64) (*pipeline.Result, error)
	RunBatch(ctx context.Context, limit int) (*pipeline.BatchResult, error)
}

// Handler serves the pipeline endpoints.
type Handler struct {
	proc         Processor
	defaultLimit int
	maxLimit     int
}

// NewHandler creates a handler. Batch requests without a limit use
// defaultLimit; larger requests are capped at maxLimit.
func NewHandler(proc Processor, defaultLimit, maxLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &Handler{proc: proc, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /emails/{id}/process", h.ServeProcessEmail)
	mux.HandleFunc("POST /batches", h.ServeBatch)
}

// ServeProcessEmail runs the pipeline for one email.
//
//   - 200 with the result, including per-email failures
//   - 400 for a malformed id
//   - 404 when the email does not exist
//   - 409 when another worker holds the email's lease
func (h *Handler) ServeProcessEmail(w http.ResponseWriter, r *http.Request) {
	id, err := parseEmailID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.proc.ProcessEmail(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, lease.ErrHeld):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		slog.Error("single-email run failed", "email_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ServeBatch runs one batch over the backlog.
func (h *Handler) ServeBatch(w http.ResponseWriter, r *http.Request) {
	limit := h.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, h.maxLimit)
	}

	br, err := h.proc.RunBatch(r.Context(), limit)
	if err != nil {
		slog.Error("batch run failed", "limit", limit, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, br)
}

// parseEmailID parses a positive email id path segment.
func parseEmailID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid email id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
