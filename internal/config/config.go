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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/mailrouter/internal/duplicate"
	"github.com/bcem/mailrouter/internal/normalize"
	"github.com/bcem/mailrouter/internal/sink/httpcall"
)

// Config holds all configuration for the routing service.
type Config struct {
	// PostgreSQL
	DatabaseURL string

	// Redis
	RedisURL      string
	OutcomesQueue string
	LeaseTTL      time.Duration

	// Pipeline
	BatchSize            int
	MaxBatchSize         int
	BusyPause            time.Duration
	PollInterval         time.Duration
	ClaimTimeout         time.Duration
	SuggestionConfidence float64

	Strategy   duplicate.Strategy
	Normalizer normalize.Options
	HTTPSink   httpcall.Config

	// Server
	Port     int
	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Outcomes string `yaml:"outcomes"`
		} `yaml:"queues"`
		LeaseTTL string `yaml:"lease_ttl"`
	} `yaml:"redis"`
	Pipeline struct {
		BatchSize            int     `yaml:"batch_size"`
		MaxBatchSize         int     `yaml:"max_batch_size"`
		BusyPause            string  `yaml:"busy_pause"`
		PollInterval         string  `yaml:"poll_interval"`
		ClaimTimeout         string  `yaml:"claim_timeout"`
		SuggestionConfidence float64 `yaml:"suggestion_confidence"`
	} `yaml:"pipeline"`
	Duplicates struct {
		Strategy        string   `yaml:"strategy"`
		Window          string   `yaml:"window"`
		MaxCandidates   *int     `yaml:"max_candidates"`
		NearExact       *float64 `yaml:"near_exact_threshold"`
		Similar         *float64 `yaml:"similar_threshold"`
		AssignThreshold *float64 `yaml:"assign_threshold"`
		FuzzyMinLength  *int     `yaml:"fuzzy_min_length"`
	} `yaml:"duplicates"`
	Normalizer struct {
		DeepLinkPatterns []string `yaml:"deep_link_patterns"`
		BodyPrefix       int      `yaml:"body_prefix"`
		SignatureLength  int      `yaml:"signature_length"`
	} `yaml:"normalizer"`
	HTTPSink struct {
		DefaultTimeout   string `yaml:"default_timeout"`
		MaxResponseBytes int64  `yaml:"max_response_bytes"`
		BreakerFailures  uint32 `yaml:"breaker_failures"`
		BreakerCooldown  string `yaml:"breaker_cooldown"`
	} `yaml:"http_sink"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing file is not an error; every setting
// then comes from the environment or its default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using environment only", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	var errs []error
	dur := func(name, yamlValue, envKey string, fallback time.Duration) time.Duration {
		v := firstNonEmpty(yamlValue, os.Getenv(envKey))
		if v == "" {
			return fallback
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return fallback
		}
		return d
	}

	cfg := &Config{
		DatabaseURL:   firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		OutcomesQueue: firstNonEmpty(raw.Redis.Queues.Outcomes, envOrDefault("OUTCOMES_QUEUE", "email_outcomes")),
		LeaseTTL:      dur("redis.lease_ttl", raw.Redis.LeaseTTL, "LEASE_TTL", 5*time.Minute),

		BatchSize:            firstPositive(raw.Pipeline.BatchSize, envOrDefaultInt("BATCH_SIZE", 50)),
		MaxBatchSize:         firstPositive(raw.Pipeline.MaxBatchSize, envOrDefaultInt("MAX_BATCH_SIZE", 500)),
		BusyPause:            dur("pipeline.busy_pause", raw.Pipeline.BusyPause, "BUSY_PAUSE", time.Second),
		PollInterval:         dur("pipeline.poll_interval", raw.Pipeline.PollInterval, "POLL_INTERVAL", 30*time.Second),
		ClaimTimeout:         dur("pipeline.claim_timeout", raw.Pipeline.ClaimTimeout, "CLAIM_TIMEOUT", 10*time.Minute),
		SuggestionConfidence: raw.Pipeline.SuggestionConfidence,

		Normalizer: normalize.Options{
			DeepLinkPatterns: raw.Normalizer.DeepLinkPatterns,
			BodyPrefix:       raw.Normalizer.BodyPrefix,
			SignatureLength:  raw.Normalizer.SignatureLength,
		},

		HTTPSink: httpcall.Config{
			DefaultTimeout:   dur("http_sink.default_timeout", raw.HTTPSink.DefaultTimeout, "HTTP_SINK_TIMEOUT", 30*time.Second),
			MaxResponseBytes: raw.HTTPSink.MaxResponseBytes,
			BreakerFailures:  raw.HTTPSink.BreakerFailures,
			BreakerCooldown:  dur("http_sink.breaker_cooldown", raw.HTTPSink.BreakerCooldown, "HTTP_SINK_BREAKER_COOLDOWN", 0),
		},

		Port:     firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		LogLevel: parseLevel(envOrDefault("LOG_LEVEL", "info")),
	}
	if cfg.SuggestionConfidence == 0 {
		cfg.SuggestionConfidence = envOrDefaultFloat("SUGGESTION_CONFIDENCE", 0.70)
	}

	strategy, err := duplicate.ByName(firstNonEmpty(raw.Duplicates.Strategy, envOrDefault("DUPLICATE_STRATEGY", "general")))
	if err != nil {
		errs = append(errs, err)
	}
	d := raw.Duplicates
	if d.Window != "" {
		strategy.Window = dur("duplicates.window", d.Window, "", strategy.Window)
	}
	if d.MaxCandidates != nil {
		strategy.MaxCandidates = *d.MaxCandidates
	}
	if d.NearExact != nil {
		strategy.NearExact = *d.NearExact
	}
	if d.Similar != nil {
		strategy.Similar = *d.Similar
	}
	if d.AssignThreshold != nil {
		strategy.AssignThreshold = *d.AssignThreshold
	}
	if d.FuzzyMinLength != nil {
		strategy.FuzzyMinLength = *d.FuzzyMinLength
	}
	cfg.Strategy = strategy

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required (database.url or DATABASE_URL)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxBatchSize < c.BatchSize {
		return fmt.Errorf("max batch size %d below batch size %d", c.MaxBatchSize, c.BatchSize)
	}
	for name, d := range map[string]time.Duration{
		"lease TTL":     c.LeaseTTL,
		"poll interval": c.PollInterval,
		"claim timeout": c.ClaimTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.BusyPause < 0 {
		return fmt.Errorf("busy pause must not be negative, got %s", c.BusyPause)
	}
	if c.SuggestionConfidence <= 0 || c.SuggestionConfidence > 1 {
		return fmt.Errorf("suggestion confidence must be in (0,1], got %v", c.SuggestionConfidence)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("duplicates: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
