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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/xyn")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.IdlePoll)
	assert.Equal(t, 5*time.Second, cfg.MetricsInterval)
	assert.Equal(t, 60*time.Minute, cfg.RunDeadline)
	assert.Equal(t, 200, cfg.MaxStepsPerRun)
	assert.Equal(t, time.Second, cfg.RetryBackoffBase)
	assert.Equal(t, 60*time.Second, cfg.RetryBackoffCap)
	assert.Equal(t, "local-dev", cfg.EnvID)
	assert.True(t, cfg.AutoCreateSchema)
	assert.NotEmpty(t, cfg.WorkerID, "worker id defaults to host+pid")
	assert.Equal(t, 20*time.Second, cfg.RenewalInterval())
	assert.Equal(t, 30*time.Second, cfg.ReclaimInterval())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/xyn")
	t.Setenv("WORKER_ID", "w-test-1")
	t.Setenv("LEASE_DURATION_SECONDS", "30")
	t.Setenv("IDLE_POLL_MS", "250")
	t.Setenv("METRICS_COLLECTOR_INTERVAL", "10")
	t.Setenv("XYN_REQUIRED_MIGRATIONS", "0001_core, 0002_queue_lease ,")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "w-test-1", cfg.WorkerID)
	assert.Equal(t, 30*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.IdlePoll)
	assert.Equal(t, 10*time.Second, cfg.MetricsInterval)
	assert.Equal(t, []string{"0001_core", "0002_queue_lease"}, cfg.RequiredMigrations)
}

func TestFromEnvMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindValidation, xynerrors.KindOf(err))
}

func TestFromEnvAutoCreateSchemaFalseRequiresMigrations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/xyn")
	t.Setenv("XYN_AUTO_CREATE_SCHEMA", "false")

	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("XYN_REQUIRED_MIGRATIONS", "0001_core")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.AutoCreateSchema)
}

func TestFromEnvRejectsBadInteger(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/xyn")
	t.Setenv("LEASE_DURATION_SECONDS", "sixty")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindValidation, xynerrors.KindOf(err))
}
