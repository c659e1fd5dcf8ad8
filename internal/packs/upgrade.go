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

package packs

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/blueprint"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// UpgradeBlueprintName dispatches upgrade runs.
const UpgradeBlueprintName = "xyn.pack.upgrade"

// BaseRef strips the version suffix from a pack_ref, so any installed
// version of the pack matches.
func BaseRef(packRef string) string {
	base, _, _ := strings.Cut(packRef, "@")
	return base
}

// UpgradeBlueprint moves an installed pack to a newer catalog entry.
// Inputs: pack_ref (the target version), env_id. Like installation it runs
// once: the begin step's status guard makes a duplicate run lose cleanly,
// and a half-done upgrade is retried by a fresh run against the failed row.
func (in *Installer) UpgradeBlueprint() *blueprint.Blueprint {
	one := 1
	return &blueprint.Blueprint{
		Name:        UpgradeBlueprintName,
		MaxAttempts: &one,
		Steps: []blueprint.StepSpec{
			{
				Name: "validate",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"pack_ref": "{{inputs.pack_ref}}",
					"env_id":   "{{inputs.env_id}}",
				},
				Handler: in.upgradeValidate,
			},
			{
				Name: "begin",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.validate.outputs.installation_id}}",
				},
				Handler: in.upgradeBegin,
			},
			{
				Name: "migrate",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.validate.outputs.installation_id}}",
					"pack_ref":        "{{inputs.pack_ref}}",
					"schema_name":     "{{steps.validate.outputs.schema_name}}",
					"migration_state": "{{steps.validate.outputs.migration_state}}",
				},
				Handler: in.upgradeMigrate,
			},
			{
				Name: "finalize",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.validate.outputs.installation_id}}",
					"pack_id":         "{{steps.validate.outputs.pack_id}}",
					"pack_ref":        "{{inputs.pack_ref}}",
					"version":         "{{steps.validate.outputs.version}}",
				},
				Handler: in.upgradeFinalize,
			},
		},
	}
}

// upgradeValidate resolves the target catalog entry and the existing
// installation. Any installed version of the pack's base ref matches; the
// row must currently be installed.
func (in *Installer) upgradeValidate(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	packRef, _ := params["pack_ref"].(string)
	if packRef == "" {
		return nil, xynerrors.New(xynerrors.KindValidation, "pack_ref input is required")
	}
	envID, _ := params["env_id"].(string)
	if envID == "" {
		envID = bc.EnvID()
	}

	pack, err := in.store.GetPackByRef(ctx, packRef)
	if err != nil {
		return nil, err
	}
	if _, err := ParseManifest(pack.Manifest); err != nil {
		return nil, err
	}

	inst, err := in.store.GetInstallationByBase(ctx, BaseRef(packRef), envID)
	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindNotFound {
			return nil, xynerrors.New(xynerrors.KindNotFound,
				"pack %s is not installed in env %s", BaseRef(packRef), envID)
		}
		return nil, err
	}
	if inst.Status != store.InstallStatusInstalled {
		return nil, store.ClassifyInstallConflict(inst)
	}
	if inst.SchemaName == nil || *inst.SchemaName == "" {
		return nil, xynerrors.New(xynerrors.KindInvariantViolation,
			"installation %s has no schema name", inst.ID).
			WithDetail("installation_id", inst.ID)
	}

	migrationState := ""
	if inst.MigrationState != nil {
		migrationState = *inst.MigrationState
	}
	return map[string]any{
		"installation_id": inst.ID,
		"pack_id":         pack.ID,
		"version":         pack.Version,
		"schema_name":     *inst.SchemaName,
		"migration_state": migrationState,
	}, nil
}

// upgradeBegin takes ownership: installed moves to upgrading with this run
// recorded. A lost guard re-reads and raises the typed conflict, except
// when this same run already holds the row.
func (in *Installer) upgradeBegin(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)

	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := in.store.BeginUpgradeTx(ctx, tx, installationID, bc.RunID())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		existing, err := in.store.LockInstallationTx(ctx, tx, installationID)
		if err != nil {
			return err
		}
		if existing.Status == store.InstallStatusUpgrading &&
			existing.UpdatedByRunID != nil && *existing.UpdatedByRunID == bc.RunID() {
			return nil
		}
		return store.ClassifyInstallConflict(existing)
	})
	if err != nil {
		return nil, err
	}

	bc.Logger().Info("began pack upgrade", slog.String("installation_id", installationID))
	return map[string]any{"installation_id": installationID}, nil
}

// upgradeMigrate applies the target manifest's migrations above the
// recorded migration_state, in the installation's existing schema.
func (in *Installer) upgradeMigrate(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)
	packRef, _ := params["pack_ref"].(string)
	schemaName, _ := params["schema_name"].(string)
	migrationState, _ := params["migration_state"].(string)

	pack, err := in.store.GetPackByRef(ctx, packRef)
	if err != nil {
		return nil, in.markFailedEvent(ctx, bc, installationID, err, events.PackUpgradeFailed)
	}
	manifest, err := ParseManifest(pack.Manifest)
	if err != nil {
		return nil, in.markFailedEvent(ctx, bc, installationID, err, events.PackUpgradeFailed)
	}

	var state *string
	if migrationState != "" {
		state = &migrationState
	}
	applied, err := in.applyMigrations(ctx, bc, installationID, schemaName,
		manifest.PendingMigrations(state))
	if err != nil {
		return nil, in.markFailedEvent(ctx, bc, installationID, err, events.PackUpgradeFailed)
	}
	return map[string]any{"migrations_applied": applied}, nil
}

// upgradeFinalize points the row at the new catalog entry and returns it to
// installed, atomically with xyn.pack.upgrade.completed.
func (in *Installer) upgradeFinalize(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)
	packID, _ := params["pack_id"].(string)
	packRef, _ := params["pack_ref"].(string)
	version, _ := params["version"].(string)

	var alreadyUpgraded bool
	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		inst, err := in.store.LockInstallationTx(ctx, tx, installationID)
		if err != nil {
			return err
		}
		if inst.UpdatedByRunID == nil || *inst.UpdatedByRunID != bc.RunID() {
			return xynerrors.New(xynerrors.KindOwnershipViolation,
				"installation %s is owned by another run", installationID).
				WithDetail("installation_id", installationID)
		}

		// A prior attempt of this run finished first.
		if inst.Status == store.InstallStatusInstalled && inst.PackRef == packRef {
			alreadyUpgraded = true
			return nil
		}

		err = in.store.FinalizeUpgradeTx(ctx, tx, store.FinalizeUpgradeParams{
			ID:      installationID,
			PackID:  packID,
			PackRef: packRef,
			Version: version,
			RunID:   bc.RunID(),
		})
		if err != nil {
			return err
		}
		_, err = in.emitter.EmitTx(ctx, tx, events.PackUpgradeCompleted, bc.CorrelationID(),
			events.WithRun(bc.RunID()),
			events.WithResource("pack_installation", installationID),
			events.WithData(store.JSONMap{
				"installation_id":   installationID,
				"pack_ref":          packRef,
				"installed_version": version,
			}))
		return err
	})
	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindOwnershipViolation {
			return nil, err
		}
		return nil, in.markFailedEvent(ctx, bc, installationID, err, events.PackUpgradeFailed)
	}

	return map[string]any{
		"installation_id":   installationID,
		"installed_version": version,
		"already_upgraded":  alreadyUpgraded,
	}, nil
}
