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
	"log/slog"
	"net/http"
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports service health. PostgreSQL is required: when it is down
// the check fails with 503. Redis only carries leases and outcome events,
// so a Redis failure is reported as degraded with a 200. A nil redis is
// treated as not configured.
func Health(postgres, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "healthy", "postgres": "ok", "redis": "ok"}

		if redis == nil {
			body["redis"] = "disabled"
		} else if err := redis.Ping(r.Context()); err != nil {
			slog.Warn("health check: redis unavailable", "error", err)
			body["status"] = "degraded"
			body["redis"] = "unavailable"
		}

		if err := postgres.Ping(r.Context()); err != nil {
			slog.Error("health check: postgres unavailable", "error", err)
			body["status"] = "unhealthy"
			body["postgres"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}
