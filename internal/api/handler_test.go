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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailrouter/internal/lease"
	"github.com/bcem/mailrouter/internal/pipeline"
	"github.com/bcem/mailrouter/internal/store"
)

type mockProcessor struct {
	results  map[int64]*pipeline.Result
	err      error
	limits   []int
	batchErr error
}

func (m *mockProcessor) ProcessEmail(_ context.Context, id int64) (*pipeline.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("get email %d: %w", id, store.ErrNotFound)
	}
	return res, nil
}

func (m *mockProcessor) RunBatch(_ context.Context, limit int) (*pipeline.BatchResult, error) {
	m.limits = append(m.limits, limit)
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	return &pipeline.BatchResult{RunID: "run-1", Claimed: 2, Categorized: 1, Suggested: 1}, nil
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServeProcessEmail(t *testing.T) {
	proc := &mockProcessor{results: map[int64]*pipeline.Result{
		42: {EmailID: 42, Outcome: pipeline.OutcomeCategorized, Category: "bookings", Confidence: 1},
	}}
	h := NewHandler(proc, 50, 500)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"found", "/emails/42/process", http.StatusOK},
		{"missing", "/emails/7/process", http.StatusNotFound},
		{"not a number", "/emails/abc/process", http.StatusBadRequest},
		{"zero", "/emails/0/process", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := serve(h, http.MethodPost, "/emails/42/process")
	var got pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.OutcomeCategorized, got.Outcome)
	assert.Equal(t, "bookings", got.Category)
}

func TestServeProcessEmail_Errors(t *testing.T) {
	h := NewHandler(&mockProcessor{err: fmt.Errorf("email 3: %w", lease.ErrHeld)}, 0, 0)
	assert.Equal(t, http.StatusConflict, serve(h, http.MethodPost, "/emails/3/process").Code)

	h = NewHandler(&mockProcessor{err: errors.New("load configuration snapshot: boom")}, 0, 0)
	rec := serve(h, http.MethodPost, "/emails/3/process")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestServeProcessEmail_MethodNotAllowed(t *testing.T) {
	h := NewHandler(&mockProcessor{}, 0, 0)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/emails/3/process").Code)
}

func TestServeBatch(t *testing.T) {
	proc := &mockProcessor{}
	h := NewHandler(proc, 25, 100)

	rec := serve(h, http.MethodPost, "/batches")
	require.Equal(t, http.StatusOK, rec.Code)
	var br pipeline.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &br))
	assert.Equal(t, 2, br.Claimed)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/batches?limit=10").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/batches?limit=1000").Code)
	assert.Equal(t, []int{25, 10, 100}, proc.limits)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/batches?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/batches?limit=ten").Code)
}

func TestServeBatch_Error(t *testing.T) {
	h := NewHandler(&mockProcessor{batchErr: errors.New("claim backlog: timeout")}, 10, 10)
	rec := serve(h, http.MethodPost, "/batches")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "claim backlog")
}

func TestParseEmailID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "1", want: 1},
		{raw: "9007199254740993", want: 9007199254740993},
		{raw: "-4", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "1.5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseEmailID(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
