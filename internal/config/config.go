// Copyright 2025 The Xyn Authors
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

// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Defaults for tunables not set in the environment.
const (
	DefaultLeaseDuration    = 60 * time.Second
	DefaultIdlePoll         = 500 * time.Millisecond
	DefaultMetricsInterval  = 5 * time.Second
	DefaultRunDeadline      = 60 * time.Minute
	DefaultMaxStepsPerRun   = 200
	DefaultRetryBackoffBase = time.Second
	DefaultRetryBackoffCap  = 60 * time.Second
	DefaultWorkerSlots      = 2
	DefaultListenAddr       = ":8080"
	DefaultEnvID            = "local-dev"
)

// Config holds all runtime configuration.
type Config struct {
	// DatabaseURL is the relational store DSN (DATABASE_URL).
	DatabaseURL string

	// WorkerID is the opaque identifier stamped on locked_by (WORKER_ID).
	// Default: host+pid.
	WorkerID string

	// EnvID scopes pack installations (XYN_ENV_ID).
	EnvID string

	// ListenAddr is the HTTP listen address (XYN_LISTEN_ADDR).
	ListenAddr string

	// WorkerSlots is the number of concurrent run slots per process
	// (XYN_WORKER_SLOTS).
	WorkerSlots int

	// LeaseDuration bounds a worker's right to execute a claimed run
	// (LEASE_DURATION_SECONDS). Renewal happens at LeaseDuration/3.
	LeaseDuration time.Duration

	// IdlePoll is the worker sleep when no claim is available (IDLE_POLL_MS).
	// The actual sleep gets random jitter of up to 50%.
	IdlePoll time.Duration

	// MetricsInterval is the collector cadence (METRICS_COLLECTOR_INTERVAL,
	// seconds).
	MetricsInterval time.Duration

	// RunDeadline is the per-run wall-clock safety rail.
	RunDeadline time.Duration

	// MaxStepsPerRun is the per-run step budget.
	MaxStepsPerRun int

	// RetryBackoffBase and RetryBackoffCap shape the full-jitter retry
	// schedule for failed runs.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	// AutoCreateSchema controls whether startup applies core migrations
	// (XYN_AUTO_CREATE_SCHEMA). When false, startup refuses to run unless
	// RequiredMigrations are all present in the ledger.
	AutoCreateSchema bool

	// RequiredMigrations are migration ids required at boot
	// (XYN_REQUIRED_MIGRATIONS, comma-separated).
	RequiredMigrations []string

	// ArtifactsDir is the root of the content-addressed artifact tree
	// (XYN_ARTIFACTS_DIR).
	ArtifactsDir string

	// TraceStdout enables the stdout trace exporter (XYN_TRACE_STDOUT).
	TraceStdout bool
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WorkerID:         os.Getenv("WORKER_ID"),
		EnvID:            envOr("XYN_ENV_ID", DefaultEnvID),
		ListenAddr:       envOr("XYN_LISTEN_ADDR", DefaultListenAddr),
		ArtifactsDir:     envOr("XYN_ARTIFACTS_DIR", "artifacts"),
		LeaseDuration:    DefaultLeaseDuration,
		IdlePoll:         DefaultIdlePoll,
		MetricsInterval:  DefaultMetricsInterval,
		RunDeadline:      DefaultRunDeadline,
		MaxStepsPerRun:   DefaultMaxStepsPerRun,
		RetryBackoffBase: DefaultRetryBackoffBase,
		RetryBackoffCap:  DefaultRetryBackoffCap,
		WorkerSlots:      DefaultWorkerSlots,
		AutoCreateSchema: true,
		TraceStdout:      os.Getenv("XYN_TRACE_STDOUT") == "1" || os.Getenv("XYN_TRACE_STDOUT") == "true",
	}

	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	var err error
	if cfg.LeaseDuration, err = envSeconds("LEASE_DURATION_SECONDS", cfg.LeaseDuration); err != nil {
		return nil, err
	}
	if cfg.IdlePoll, err = envMillis("IDLE_POLL_MS", cfg.IdlePoll); err != nil {
		return nil, err
	}
	if cfg.MetricsInterval, err = envSeconds("METRICS_COLLECTOR_INTERVAL", cfg.MetricsInterval); err != nil {
		return nil, err
	}
	if cfg.RunDeadline, err = envMinutes("XYN_RUN_DEADLINE_MINUTES", cfg.RunDeadline); err != nil {
		return nil, err
	}
	if cfg.MaxStepsPerRun, err = envInt("XYN_MAX_STEPS_PER_RUN", cfg.MaxStepsPerRun); err != nil {
		return nil, err
	}
	if cfg.WorkerSlots, err = envInt("XYN_WORKER_SLOTS", cfg.WorkerSlots); err != nil {
		return nil, err
	}
	if cfg.RetryBackoffBase, err = envMillis("XYN_RETRY_BACKOFF_BASE_MS", cfg.RetryBackoffBase); err != nil {
		return nil, err
	}
	if cfg.RetryBackoffCap, err = envMillis("XYN_RETRY_BACKOFF_CAP_MS", cfg.RetryBackoffCap); err != nil {
		return nil, err
	}

	if v := os.Getenv("XYN_AUTO_CREATE_SCHEMA"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return nil, xynerrors.New(xynerrors.KindValidation, "XYN_AUTO_CREATE_SCHEMA must be true or false, got %q", v)
		}
		cfg.AutoCreateSchema = b
	}

	if v := os.Getenv("XYN_REQUIRED_MIGRATIONS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.RequiredMigrations = append(cfg.RequiredMigrations, id)
			}
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return xynerrors.New(xynerrors.KindValidation, "DATABASE_URL is required")
	}
	if c.LeaseDuration <= 0 {
		return xynerrors.New(xynerrors.KindValidation, "lease duration must be positive")
	}
	if c.WorkerSlots < 1 {
		return xynerrors.New(xynerrors.KindValidation, "worker slots must be at least 1")
	}
	if c.RetryBackoffBase <= 0 || c.RetryBackoffCap < c.RetryBackoffBase {
		return xynerrors.New(xynerrors.KindValidation, "retry backoff cap must be >= base and both positive")
	}
	if !c.AutoCreateSchema && len(c.RequiredMigrations) == 0 {
		return xynerrors.New(xynerrors.KindValidation, "XYN_REQUIRED_MIGRATIONS must be set when XYN_AUTO_CREATE_SCHEMA=false")
	}
	return nil
}

// RenewalInterval is how often workers renew their lease.
func (c *Config) RenewalInterval() time.Duration {
	return c.LeaseDuration / 3
}

// ReclaimInterval is the cadence of the expired-lease reclaimer.
func (c *Config) ReclaimInterval() time.Duration {
	return c.LeaseDuration / 2
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, xynerrors.New(xynerrors.KindValidation, "%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func envMinutes(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(def/time.Minute))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}
