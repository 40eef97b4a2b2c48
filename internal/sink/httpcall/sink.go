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

package httpcall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/metrics"
	"github.com/bcem/mailrouter/internal/models"
)

// Config holds sink-wide defaults. Zero values take the defaults below.
type Config struct {
	// DefaultTimeout bounds an attempt when the call sets no timeout.
	DefaultTimeout time.Duration

	// MaxResponseBytes bounds the response body kept in the audit log.
	MaxResponseBytes int64

	// BreakerFailures consecutive failed executions of one HTTP call open
	// its breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c *Config) defaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 64 << 10
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
}

// Sink dispatches HTTP calls.
type Sink struct {
	client *http.Client
	cfg    Config

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
	tokens   map[int64]oauth2.TokenSource
}

// NewSink creates an HTTP sink. A nil client uses http.DefaultClient.
func NewSink(client *http.Client, cfg Config) *Sink {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.defaults()
	return &Sink{
		client:   client,
		cfg:      cfg,
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
		tokens:   make(map[int64]oauth2.TokenSource),
	}
}

// errHTTPStatus marks a completed exchange with a non-2xx status.
var errHTTPStatus = errors.New("non-2xx response")

// Execute builds and sends the call, retrying failed attempts up to
// MaxRetries times with RetryDelay between them. While the call's breaker
// is open nothing is sent. It always returns the final outcome; it never
// returns an error.
func (s *Sink) Execute(ctx context.Context, call models.HTTPCall, env mapping.Env) *models.HTTPCallLog {
	start := time.Now()
	entry := &models.HTTPCallLog{
		HTTPCallID: call.ID,
		Method:     method(call),
		URL:        call.BaseURL,
	}
	if env.Email != nil {
		entry.EmailID = env.Email.ID
	}

	req, err := s.Build(ctx, call, env)
	if err != nil {
		entry.Error = err.Error()
		entry.Latency = time.Since(start)
		slog.Error("http call build failed", "http_call_id", call.ID, "email_id", entry.EmailID, "error", err)
		return entry
	}
	entry.URL = req.URL
	entry.Headers = req.AuditHeaders()
	entry.Body = string(req.Body)

	cb := s.breaker(call.ID)
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, s.send(ctx, call, req, entry)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.HTTPAttempts.WithLabelValues("breaker_open").Inc()
		entry.Error = err.Error()
	}

	entry.Latency = time.Since(start)
	if !entry.Success {
		slog.Error("http call failed",
			"http_call_id", call.ID,
			"email_id", entry.EmailID,
			"url", entry.URL,
			"attempts", entry.Attempts,
			"status", entry.StatusCode,
			"error", entry.Error,
		)
	}
	return entry
}

// send runs the attempt loop and records it on entry. The status and body
// of the last response received stay in the log even when a later attempt
// fails before getting one.
func (s *Sink) send(ctx context.Context, call models.HTTPCall, req *Request, entry *models.HTTPCallLog) error {
	attempts := max(call.MaxRetries, 0) + 1
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, call.RetryDelay); err != nil {
				last = fmt.Errorf("retry aborted: %w", err)
				entry.Error = last.Error()
				return last
			}
		}

		entry.Attempts++
		status, body, err := s.attempt(ctx, call, req)
		if status != 0 {
			entry.StatusCode = status
			entry.ResponseBody = body
		}
		if err == nil {
			entry.Success = true
			entry.Error = ""
			return nil
		}
		last = err
		entry.Error = err.Error()

		slog.Warn("http call attempt failed",
			"http_call_id", call.ID,
			"email_id", entry.EmailID,
			"attempt", entry.Attempts,
			"of", attempts,
			"status", status,
			"error", err,
		)
	}
	return last
}

// attempt sends one request.
func (s *Sink) attempt(ctx context.Context, call models.HTTPCall, req *Request) (int, string, error) {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, body, err := s.do(ctx, req)
	switch {
	case err == nil:
		metrics.HTTPAttempts.WithLabelValues("success").Inc()
	case errors.Is(err, errHTTPStatus):
		metrics.HTTPAttempts.WithLabelValues("http_error").Inc()
	default:
		metrics.HTTPAttempts.WithLabelValues("transport_error").Inc()
	}
	return status, body, err
}

func (s *Sink) do(ctx context.Context, req *Request) (int, string, error) {
	var rdr io.Reader
	if len(req.Body) > 0 {
		rdr = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, rdr)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	resp, err := s.client.Do(hreq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(data), fmt.Errorf("%w: HTTP %d", errHTTPStatus, resp.StatusCode)
	}
	return resp.StatusCode, string(data), nil
}

// breaker returns the circuit breaker for one configured HTTP call. It
// counts whole executions, so an open breaker stops a call before its
// first attempt and never cuts a retry sequence short.
func (s *Sink) breaker(callID int64) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[callID]; ok {
		return cb
	}

	failures := s.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        strconv.FormatInt(callID, 10),
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("http sink breaker state changed", "http_call_id", name, "from", from.String(), "to", to.String())
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			metrics.BreakerOpen.WithLabelValues(name).Set(open)
		},
	})
	s.breakers[callID] = cb
	return cb
}

// token returns an access token for an oauth2 call. Token sources are
// cached per call so tokens are reused until they expire.
func (s *Sink) token(ctx context.Context, call models.HTTPCall) (*oauth2.Token, error) {
	a := call.Auth
	if a.ClientID == "" || a.TokenURL == "" {
		return nil, errNoCredentials
	}

	s.mu.Lock()
	ts, ok := s.tokens[call.ID]
	if !ok {
		creds := &clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     a.TokenURL,
			Scopes:       a.Scopes,
		}
		tctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
		ts = creds.TokenSource(tctx)
		s.tokens[call.ID] = ts
	}
	s.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return nil, err
	}
	return tok, ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
