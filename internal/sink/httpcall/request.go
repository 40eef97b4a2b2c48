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

// Package httpcall is the outbound HTTP routing sink. It builds a request
// from a rule's parameters, authenticates it, and dispatches it with a
// bounded timeout, a fixed number of retries and a per-call circuit
// breaker. Every call's final outcome is returned as an audit log entry.
package httpcall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bcem/mailrouter/internal/mapping"
	"github.com/bcem/mailrouter/internal/models"
)

// DefaultAPIKeyHeader is used when an api_key auth config names no header.
const DefaultAPIKeyHeader = "X-API-Key"

var errNoCredentials = errors.New("missing credentials")

// Request is a fully resolved outbound request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// secret lists header names whose values are redacted in audit logs.
	secret []string
}

// Build resolves a call's parameters into a request. Parameters that
// resolve to nothing are omitted. Headers are merged in order: static,
// then dynamic, then authentication.
func (s *Sink) Build(ctx context.Context, call models.HTTPCall, env mapping.Env) (*Request, error) {
	base, err := url.Parse(call.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("http call %d: invalid base url %q", call.ID, call.BaseURL)
	}

	query := url.Values{}
	dynamic := make(map[string]string)
	body := make(map[string]any)
	for _, p := range call.Parameters {
		v, ok := mapping.Resolve(p.Source, p.Transformation, env)
		if !ok {
			continue
		}
		switch p.Placement {
		case models.PlaceQuery:
			query.Add(p.Name, mapping.String(v))
		case models.PlaceHeader:
			dynamic[p.Name] = mapping.String(v)
		case models.PlaceBody:
			body[p.Name] = v
		}
	}

	req := &Request{
		Method:  method(call),
		URL:     call.BaseURL,
		Headers: make(map[string]string),
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(call.BaseURL, "?") {
			sep = "&"
		}
		req.URL += sep + query.Encode()
	}

	for k, v := range call.Headers {
		req.Headers[k] = v
	}
	for k, v := range dynamic {
		req.Headers[k] = v
	}
	if err := s.authenticate(ctx, call, req); err != nil {
		return nil, fmt.Errorf("http call %d: %w", call.ID, err)
	}

	if len(body) > 0 {
		req.Body, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("http call %d: encode body: %w", call.ID, err)
		}
		if !hasHeader(req.Headers, "Content-Type") {
			req.Headers["Content-Type"] = "application/json"
		}
	}
	return req, nil
}

func (s *Sink) authenticate(ctx context.Context, call models.HTTPCall, req *Request) error {
	a := call.Auth
	switch a.Type {
	case "", models.AuthNone:
		return nil

	case models.AuthBearer:
		if a.Token == "" {
			return fmt.Errorf("bearer auth: %w", errNoCredentials)
		}
		req.setSecret("Authorization", "Bearer "+a.Token)

	case models.AuthAPIKey:
		if a.APIKey == "" {
			return fmt.Errorf("api key auth: %w", errNoCredentials)
		}
		name := a.HeaderName
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		req.setSecret(name, a.APIKey)

	case models.AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("basic auth: %w", errNoCredentials)
		}
		creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		req.setSecret("Authorization", "Basic "+creds)

	case models.AuthOAuth2:
		tok, err := s.token(ctx, call)
		if err != nil {
			return fmt.Errorf("oauth2 auth: %w", err)
		}
		req.setSecret("Authorization", tok.Type()+" "+tok.AccessToken)

	default:
		return fmt.Errorf("unsupported auth type %q", a.Type)
	}
	return nil
}

func (r *Request) setSecret(name, value string) {
	r.Headers[name] = value
	r.secret = append(r.secret, name)
}

// AuditHeaders returns the headers with credential values redacted.
func (r *Request) AuditHeaders() map[string]string {
	out := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		out[k] = v
	}
	for _, k := range r.secret {
		out[k] = "[REDACTED]"
	}
	return out
}

func method(call models.HTTPCall) string {
	if call.Method == "" {
		return "POST"
	}
	return strings.ToUpper(call.Method)
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
