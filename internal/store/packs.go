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
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// UpsertPack registers or refreshes a catalog entry keyed by pack_ref.
func (s *Store) UpsertPack(ctx context.Context, p *Pack) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Manifest == nil {
		p.Manifest = JSONMap{}
	}
	if p.PackType == "" {
		p.PackType = "domain"
	}

	const q = `
INSERT INTO packs (id, pack_ref, name, version, pack_type, manifest, schema_name, created_at, updated_at)
VALUES (:id, :pack_ref, :name, :version, :pack_type, :manifest, :schema_name, :created_at, :updated_at)
ON CONFLICT (pack_ref) DO UPDATE SET
    name = EXCLUDED.name,
    version = EXCLUDED.version,
    pack_type = EXCLUDED.pack_type,
    manifest = EXCLUDED.manifest,
    schema_name = EXCLUDED.schema_name,
    updated_at = EXCLUDED.updated_at`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return mapPgError(err, "upserting pack")
	}
	return nil
}

// GetPackByRef looks up a catalog entry. Absence maps to pack_not_found.
func (s *Store) GetPackByRef(ctx context.Context, packRef string) (*Pack, error) {
	var p Pack
	err := s.db.GetContext(ctx, &p, `SELECT * FROM packs WHERE pack_ref = $1`, packRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xynerrors.New(xynerrors.KindPackNotFound, "pack %q is not in the catalog", packRef)
		}
		return nil, mapPgError(err, "fetching pack")
	}
	return &p, nil
}

// ListPacks returns the catalog ordered by pack_ref.
func (s *Store) ListPacks(ctx context.Context) ([]Pack, error) {
	var packs []Pack
	if err := s.db.SelectContext(ctx, &packs, `SELECT * FROM packs ORDER BY pack_ref ASC`); err != nil {
		return nil, mapPgError(err, "listing packs")
	}
	return packs, nil
}

// ClaimInstallationParams carries the claim-insert fields.
type ClaimInstallationParams struct {
	PackID     string
	PackRef    string
	EnvID      string
	SchemaMode SchemaMode
	SchemaName string
	Provider   string
	RunID      string
}

// ClaimInstallationTx attempts the idempotent claim-insert. It returns the
// new row id when this run won the claim, or ok=false when a row already
// exists for (pack_ref, env_id).
func (s *Store) ClaimInstallationTx(ctx context.Context, tx *sqlx.Tx, p ClaimInstallationParams) (id string, ok bool, err error) {
	if p.Provider == "" {
		p.Provider = "sql"
	}
	err = tx.GetContext(ctx, &id, `
INSERT INTO pack_installations
    (id, pack_id, pack_ref, env_id, status, schema_mode, schema_name,
     migration_provider, installed_by_run_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'installing', $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (pack_ref, env_id) DO NOTHING
RETURNING id`,
		uuid.NewString(), p.PackID, p.PackRef, p.EnvID,
		string(p.SchemaMode), p.SchemaName, p.Provider, p.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, mapPgError(err, "claiming installation")
	}
	return id, true, nil
}

// ClassifyInstallConflict maps the status of an existing installation row to
// the typed conflict raised when a claim loses.
func ClassifyInstallConflict(existing *PackInstallation) error {
	base := func(kind xynerrors.Kind, msg string) *xynerrors.Error {
		return xynerrors.New(kind, "%s", msg).
			WithDetail("existing_installation_id", existing.ID).
			WithDetail("status", string(existing.Status))
	}
	switch existing.Status {
	case InstallStatusInstalled:
		return base(xynerrors.KindPackAlreadyInstalled,
			"pack "+existing.PackRef+" is already installed in env "+existing.EnvID)
	case InstallStatusInstalling:
		return base(xynerrors.KindInstallationInProgress,
			"installation of "+existing.PackRef+" is in progress")
	case InstallStatusFailed:
		err := base(xynerrors.KindInstallationPreviouslyFailed,
			"previous installation of "+existing.PackRef+" failed")
		if existing.Error != nil {
			err = err.WithDetail("error", map[string]any(existing.Error))
		}
		if existing.LastErrorAt != nil {
			err = err.WithDetail("last_error_at", existing.LastErrorAt.Format(time.RFC3339))
		}
		return err
	default:
		return base(xynerrors.KindConflictingState,
			"installation of "+existing.PackRef+" is in state "+string(existing.Status))
	}
}

// GetInstallation looks up the installation row for (pack_ref, env_id).
func (s *Store) GetInstallation(ctx context.Context, packRef, envID string) (*PackInstallation, error) {
	var inst PackInstallation
	err := s.db.GetContext(ctx, &inst,
		`SELECT * FROM pack_installations WHERE pack_ref = $1 AND env_id = $2`, packRef, envID)
	if err != nil {
		return nil, mapPgError(err, "fetching installation")
	}
	return &inst, nil
}

// GetInstallationTx re-reads the installation row inside a transaction.
func (s *Store) GetInstallationTx(ctx context.Context, tx *sqlx.Tx, packRef, envID string) (*PackInstallation, error) {
	var inst PackInstallation
	err := tx.GetContext(ctx, &inst,
		`SELECT * FROM pack_installations WHERE pack_ref = $1 AND env_id = $2`, packRef, envID)
	if err != nil {
		return nil, mapPgError(err, "fetching installation")
	}
	return &inst, nil
}

// LockInstallationTx takes the row lock for the finalize critical section.
func (s *Store) LockInstallationTx(ctx context.Context, tx *sqlx.Tx, id string) (*PackInstallation, error) {
	var inst PackInstallation
	err := tx.GetContext(ctx, &inst,
		`SELECT * FROM pack_installations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapPgError(err, "locking installation")
	}
	return &inst, nil
}

// ProvisionSchemaTx creates the pack's schema namespace. The name must have
// passed ValidateIdentifier; it is quoted anyway.
func (s *Store) ProvisionSchemaTx(ctx context.Context, tx *sqlx.Tx, schemaName string) error {
	if err := ValidateIdentifier(schemaName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+QuoteIdentifier(schemaName)); err != nil {
		return mapPgError(err, "provisioning schema "+schemaName)
	}
	return nil
}

// SetMigrationStateTx records the latest pack migration id applied.
func (s *Store) SetMigrationStateTx(ctx context.Context, tx *sqlx.Tx, installationID, migrationID string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE pack_installations SET migration_state = $2, updated_at = NOW()
WHERE id = $1`, installationID, migrationID)
	if err != nil {
		return mapPgError(err, "updating migration state")
	}
	return nil
}

// FinalizeInstallationTx moves a locked installation row to installed. The
// caller has already verified ownership; the check constraint backs up the
// non-null invariants and a violation surfaces as invariant_violation.
func (s *Store) FinalizeInstallationTx(ctx context.Context, tx *sqlx.Tx, id, installedVersion string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE pack_installations
SET status = 'installed',
    installed_version = $2,
    installed_at = NOW(),
    error = NULL,
    last_error_at = NULL,
    updated_at = NOW()
WHERE id = $1`, id, installedVersion)
	if err != nil {
		mapped := mapPgError(err, "finalizing installation")
		if xynerrors.KindOf(mapped) == xynerrors.KindConstraintViolation {
			return xynerrors.Wrap(xynerrors.KindInvariantViolation, err,
				"finalize violated installed-state invariants")
		}
		return mapped
	}
	return nil
}

// GetInstallationByBase finds the installation of any version of a pack in
// an environment. baseRef is the pack_ref with the version suffix dropped.
func (s *Store) GetInstallationByBase(ctx context.Context, baseRef, envID string) (*PackInstallation, error) {
	var inst PackInstallation
	err := s.db.GetContext(ctx, &inst, `
SELECT * FROM pack_installations
WHERE env_id = $2 AND (pack_ref = $1 OR pack_ref LIKE $1 || '@%')`, baseRef, envID)
	if err != nil {
		return nil, mapPgError(err, "fetching installation by base ref")
	}
	return &inst, nil
}

// BeginUpgradeTx moves an installed row to upgrading and records the owning
// run. The status guard makes concurrent upgrade requests lose cleanly:
// zero rows means the row was not installed anymore.
func (s *Store) BeginUpgradeTx(ctx context.Context, tx *sqlx.Tx, id, runID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE pack_installations
SET status = 'upgrading', updated_by_run_id = $2,
    error = NULL, last_error_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'installed'`, id, runID)
	if err != nil {
		return false, mapPgError(err, "beginning upgrade")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// FinalizeUpgradeParams carries the new-version fields written on upgrade
// completion.
type FinalizeUpgradeParams struct {
	ID      string
	PackID  string
	PackRef string
	Version string
	RunID   string
}

// FinalizeUpgradeTx points the installation at the new catalog entry and
// returns it to installed. Guarded by status and the owning run so a
// reclaimed upgrade cannot finalize over a newer one.
func (s *Store) FinalizeUpgradeTx(ctx context.Context, tx *sqlx.Tx, p FinalizeUpgradeParams) error {
	res, err := tx.ExecContext(ctx, `
UPDATE pack_installations
SET status = 'installed',
    pack_id = $2,
    pack_ref = $3,
    installed_version = $4,
    installed_at = COALESCE(installed_at, NOW()),
    error = NULL,
    last_error_at = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'upgrading' AND updated_by_run_id = $5`,
		p.ID, p.PackID, p.PackRef, p.Version, p.RunID)
	if err != nil {
		mapped := mapPgError(err, "finalizing upgrade")
		if xynerrors.KindOf(mapped) == xynerrors.KindConstraintViolation {
			return xynerrors.Wrap(xynerrors.KindInvariantViolation, err,
				"upgrade finalize violated installed-state invariants")
		}
		return mapped
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return xynerrors.New(xynerrors.KindOwnershipViolation,
			"installation %s is not upgrading under run %s", p.ID, p.RunID).
			WithDetail("installation_id", p.ID)
	}
	return nil
}

// MarkInstallationFailedTx records a failed installation. The row remains
// for inspection and retry by a new run.
func (s *Store) MarkInstallationFailedTx(ctx context.Context, tx *sqlx.Tx, id string, installErr JSONMap) error {
	_, err := tx.ExecContext(ctx, `
UPDATE pack_installations
SET status = 'failed', error = $2, last_error_at = NOW(), updated_at = NOW()
WHERE id = $1`, id, installErr)
	if err != nil {
		return mapPgError(err, "marking installation failed")
	}
	return nil
}
