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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_PATH", path)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("PG_PASSWORD", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")
	writeConfig(t, `
database:
  url: postgres://router:${PG_PASSWORD}@db:5432/mail
redis:
  url: redis://cache:6379/1
  queues:
    outcomes: outcomes
  lease_ttl: 2m
pipeline:
  batch_size: 20
  max_batch_size: 200
  poll_interval: 15s
  claim_timeout: 5m
  suggestion_confidence: 0.6
duplicates:
  strategy: aggressive
  window: 10m
  assign_threshold: 0.9
normalizer:
  deep_link_patterns: ["app://\\S+"]
  body_prefix: 500
http_sink:
  default_timeout: 5s
  breaker_failures: 3
  breaker_cooldown: 1m
server:
  port: 9090
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://router:s3cret@db:5432/mail", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "outcomes", cfg.OutcomesQueue)
	assert.Equal(t, 2*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 200, cfg.MaxBatchSize)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 0.6, cfg.SuggestionConfidence)

	assert.Equal(t, "aggressive", cfg.Strategy.Name)
	assert.Equal(t, 10*time.Minute, cfg.Strategy.Window)
	assert.Equal(t, 0.9, cfg.Strategy.AssignThreshold)
	assert.True(t, cfg.Strategy.Symmetric)

	assert.Equal(t, []string{`app://\S+`}, cfg.Normalizer.DeepLinkPatterns)
	assert.Equal(t, 500, cfg.Normalizer.BodyPrefix)

	assert.Equal(t, 5*time.Second, cfg.HTTPSink.DefaultTimeout)
	assert.Equal(t, uint32(3), cfg.HTTPSink.BreakerFailures)
	assert.Equal(t, time.Minute, cfg.HTTPSink.BreakerCooldown)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/mail")
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("POLL_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/mail", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "email_outcomes", cfg.OutcomesQueue)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 0.70, cfg.SuggestionConfidence)
	assert.Equal(t, "general", cfg.Strategy.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing database",
			yaml:    "server:\n  port: 8080\n",
			wantErr: "database URL is required",
		},
		{
			name:    "unknown strategy",
			yaml:    "database:\n  url: postgres://x\nduplicates:\n  strategy: paranoid\n",
			wantErr: "unknown duplicate strategy",
		},
		{
			name:    "bad duration",
			yaml:    "database:\n  url: postgres://x\npipeline:\n  poll_interval: soon\n",
			wantErr: "pipeline.poll_interval",
		},
		{
			name:    "threshold out of range",
			yaml:    "database:\n  url: postgres://x\nduplicates:\n  near_exact_threshold: 1.2\n",
			wantErr: "thresholds must be in (0,1]",
		},
		{
			name:    "suggestion confidence",
			yaml:    "database:\n  url: postgres://x\npipeline:\n  suggestion_confidence: 1.5\n",
			wantErr: "suggestion confidence",
		},
		{
			name:    "max batch below batch",
			yaml:    "database:\n  url: postgres://x\npipeline:\n  batch_size: 100\n  max_batch_size: 10\n",
			wantErr: "max batch size",
		},
		{
			name:    "malformed yaml",
			yaml:    "database: [\n",
			wantErr: "parse config YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			writeConfig(t, tt.yaml)
			_, err := Load()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
