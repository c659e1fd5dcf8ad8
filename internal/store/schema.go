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

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// coreMigration is one bootstrap migration. Each applies idempotently and
// records itself in the schema_migrations ledger.
type coreMigration struct {
	ID  string
	DDL string
}

// coreMigrations is the ordered core schema. Statements use IF NOT EXISTS so
// re-running bootstrap against an existing database is a no-op beyond the
// ledger check.
var coreMigrations = []coreMigration{
	{
		ID: "0001_runs",
		DDL: `
CREATE TABLE IF NOT EXISTS runs (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    blueprint_ref TEXT,
    status TEXT NOT NULL DEFAULT 'queued'
        CHECK (status IN ('queued', 'running', 'completed', 'failed', 'cancelled')),
    actor TEXT NOT NULL DEFAULT 'system',
    correlation_id TEXT NOT NULL,
    inputs JSONB NOT NULL DEFAULT '{}',
    outputs JSONB,
    error JSONB,
    priority INTEGER NOT NULL DEFAULT 100,
    run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    attempt INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER,
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    queued_at TIMESTAMPTZ,
    locked_at TIMESTAMPTZ,
    locked_by TEXT,
    lease_expires_at TIMESTAMPTZ,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    parent_run_id UUID REFERENCES runs(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT ck_runs_terminal_completed_at CHECK (
        status NOT IN ('completed', 'failed', 'cancelled') OR completed_at IS NOT NULL
    ),
    CONSTRAINT ck_runs_running_lease CHECK (
        status <> 'running' OR (lease_expires_at IS NOT NULL AND locked_by IS NOT NULL)
    )
);

CREATE INDEX IF NOT EXISTS ix_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS ix_runs_run_at ON runs(run_at);
CREATE INDEX IF NOT EXISTS ix_runs_priority_run_at ON runs(priority, run_at);
CREATE INDEX IF NOT EXISTS ix_runs_queued_at ON runs(queued_at);
CREATE INDEX IF NOT EXISTS ix_runs_lease_expires_at ON runs(lease_expires_at);
CREATE INDEX IF NOT EXISTS ix_runs_claim_order
    ON runs(priority, run_at, queued_at, created_at) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS ix_runs_running_lease
    ON runs(lease_expires_at) WHERE status = 'running';
`,
	},
	{
		ID: "0002_run_edges",
		DDL: `
CREATE TABLE IF NOT EXISTS run_edges (
    id UUID PRIMARY KEY,
    parent_run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    child_run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    relation TEXT NOT NULL DEFAULT 'child',
    child_key TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_run_edges_parent_child_key
    ON run_edges(parent_run_id, child_key) WHERE child_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS ix_run_edges_parent ON run_edges(parent_run_id);
CREATE INDEX IF NOT EXISTS ix_run_edges_child ON run_edges(child_run_id);
`,
	},
	{
		ID: "0003_steps",
		DDL: `
CREATE TABLE IF NOT EXISTS steps (
    id UUID PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    idx INTEGER NOT NULL,
    kind TEXT NOT NULL DEFAULT 'action_task'
        CHECK (kind IN ('action_task', 'agent_task', 'gate', 'transform')),
    status TEXT NOT NULL DEFAULT 'created'
        CHECK (status IN ('created', 'running', 'completed', 'failed', 'skipped')),
    inputs JSONB,
    outputs JSONB,
    error JSONB,
    logs_artifact_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_steps_run_idx ON steps(run_id, idx);
CREATE INDEX IF NOT EXISTS ix_steps_status ON steps(status);
`,
	},
	{
		ID: "0004_events",
		DDL: `
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    event_name TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    env_id TEXT NOT NULL DEFAULT 'local-dev',
    actor TEXT NOT NULL DEFAULT 'system',
    correlation_id TEXT NOT NULL,
    run_id UUID REFERENCES runs(id),
    step_id UUID REFERENCES steps(id),
    resource_type TEXT,
    resource_id TEXT,
    data JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ix_events_occurred_at ON events(occurred_at);
CREATE INDEX IF NOT EXISTS ix_events_correlation_id ON events(correlation_id);
CREATE INDEX IF NOT EXISTS ix_events_run_id ON events(run_id);
CREATE INDEX IF NOT EXISTS ix_events_event_name ON events(event_name);
`,
	},
	{
		ID: "0005_artifacts",
		DDL: `
CREATE TABLE IF NOT EXISTS artifacts (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    content_type TEXT NOT NULL,
    byte_length BIGINT,
    sha256 TEXT,
    run_id UUID REFERENCES runs(id),
    step_id UUID REFERENCES steps(id),
    created_by TEXT NOT NULL DEFAULT 'system',
    metadata JSONB NOT NULL DEFAULT '{}',
    storage_path TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ix_artifacts_run_id ON artifacts(run_id);
CREATE INDEX IF NOT EXISTS ix_artifacts_sha256 ON artifacts(sha256);
`,
	},
	{
		ID: "0006_packs",
		DDL: `
CREATE TABLE IF NOT EXISTS packs (
    id UUID PRIMARY KEY,
    pack_ref TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    pack_type TEXT NOT NULL DEFAULT 'domain',
    manifest JSONB NOT NULL DEFAULT '{}',
    schema_name TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pack_installations (
    id UUID PRIMARY KEY,
    pack_id UUID NOT NULL REFERENCES packs(id),
    pack_ref TEXT NOT NULL,
    env_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'installing'
        CHECK (status IN ('available', 'installing', 'installed', 'upgrading', 'failed', 'uninstalling')),
    schema_mode TEXT NOT NULL DEFAULT 'per_pack'
        CHECK (schema_mode IN ('per_pack', 'shared')),
    schema_name TEXT,
    migration_provider TEXT NOT NULL DEFAULT 'sql',
    installed_version TEXT,
    migration_state TEXT,
    installed_at TIMESTAMPTZ,
    installed_by_run_id UUID,
    updated_by_run_id UUID,
    error JSONB,
    last_error_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_pack_installations_env_pack UNIQUE (pack_ref, env_id),
    CONSTRAINT ck_pack_installations_installed_invariants CHECK (
        status <> 'installed' OR (
            schema_name IS NOT NULL
            AND installed_version IS NOT NULL
            AND installed_at IS NOT NULL
            AND installed_by_run_id IS NOT NULL
        )
    )
);

CREATE INDEX IF NOT EXISTS ix_pack_installations_pack_id ON pack_installations(pack_id);
CREATE INDEX IF NOT EXISTS ix_pack_installations_pack_ref ON pack_installations(pack_ref);
CREATE INDEX IF NOT EXISTS ix_pack_installations_env_id ON pack_installations(env_id);
`,
	},
}

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Bootstrap applies the core schema. When autoCreate is false, no DDL runs;
// instead the ledger is checked for the required migration ids and startup
// is refused if any is missing.
func (s *Store) Bootstrap(ctx context.Context, autoCreate bool, required []string) error {
	if !autoCreate {
		return s.verifyRequiredMigrations(ctx, required)
	}

	if _, err := s.db.ExecContext(ctx, ledgerDDL); err != nil {
		return mapPgError(err, "creating schema_migrations ledger")
	}

	for _, m := range coreMigrations {
		applied, err := s.migrationApplied(ctx, m.ID)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.DDL); err != nil {
				return mapPgError(err, fmt.Sprintf("applying core migration %s", m.ID))
			}
			// Idempotent ledger record.
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (id, applied_at) VALUES ($1, NOW())
				 ON CONFLICT (id) DO NOTHING`, m.ID)
			if err != nil {
				return mapPgError(err, fmt.Sprintf("recording core migration %s", m.ID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("applied core migration", slog.String("migration_id", m.ID))
	}

	return s.verifyRequiredMigrations(ctx, required)
}

// verifyRequiredMigrations checks the ledger for each required id.
func (s *Store) verifyRequiredMigrations(ctx context.Context, required []string) error {
	if len(required) == 0 {
		return nil
	}

	var present []string
	query, args, err := sqlx.In(`SELECT id FROM schema_migrations WHERE id IN (?)`, required)
	if err != nil {
		return fmt.Errorf("building required migrations query: %w", err)
	}
	query = s.db.Rebind(query)
	if err := s.db.SelectContext(ctx, &present, query, args...); err != nil {
		return mapPgError(err, "reading schema_migrations ledger")
	}

	have := make(map[string]bool, len(present))
	for _, id := range present {
		have[id] = true
	}
	for _, id := range required {
		if !have[id] {
			return xynerrors.New(xynerrors.KindValidation,
				"required migration %q is not present in the schema_migrations ledger", id)
		}
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM schema_migrations WHERE id = $1`, id)
	if err != nil {
		return false, mapPgError(err, "checking schema_migrations ledger")
	}
	return n > 0, nil
}

// AppliedMigration is one row of the schema_migrations ledger.
type AppliedMigration struct {
	ID        string    `db:"id"`
	AppliedAt time.Time `db:"applied_at"`
}

// AppliedMigrations returns the ledger contents, oldest first.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var rows []AppliedMigration
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, applied_at FROM schema_migrations ORDER BY applied_at ASC, id ASC`)
	if err != nil {
		return nil, mapPgError(err, "listing schema_migrations")
	}
	return rows, nil
}
