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

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/blueprint"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// BlueprintName dispatches install runs.
const BlueprintName = "xyn.pack.install"

// Installer provides the pack installation blueprint.
type Installer struct {
	store   *store.Store
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewInstaller builds the installer.
func NewInstaller(s *store.Store, em *events.Emitter, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{store: s, emitter: em, logger: log.WithComponent(logger, "packs")}
}

// Register adds the installation and upgrade blueprints to the registry.
func (in *Installer) Register(r *blueprint.Registry) {
	r.Register(in.Blueprint())
	r.Register(in.UpgradeBlueprint())
}

// Blueprint is the installation plan. Inputs: pack_ref, env_id. One attempt
// only: install conflicts and ownership violations are deterministic, and a
// half-done install is retried by a fresh run against the failed row.
func (in *Installer) Blueprint() *blueprint.Blueprint {
	one := 1
	return &blueprint.Blueprint{
		Name:        BlueprintName,
		MaxAttempts: &one,
		Steps: []blueprint.StepSpec{
			{
				Name:    "validate",
				Kind:    store.StepKindActionTask,
				Params:  map[string]any{"pack_ref": "{{inputs.pack_ref}}"},
				Handler: in.validate,
			},
			{
				Name: "claim",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"pack_ref":    "{{inputs.pack_ref}}",
					"env_id":      "{{inputs.env_id}}",
					"pack_id":     "{{steps.validate.outputs.pack_id}}",
					"schema_name": "{{steps.validate.outputs.schema_name}}",
					"schema_mode": "{{steps.validate.outputs.schema_mode}}",
				},
				Handler: in.claim,
			},
			{
				Name: "provision",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.claim.outputs.installation_id}}",
					"schema_name":     "{{steps.validate.outputs.schema_name}}",
					"schema_mode":     "{{steps.validate.outputs.schema_mode}}",
				},
				Handler: in.provision,
			},
			{
				Name: "migrate",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.claim.outputs.installation_id}}",
					"pack_ref":        "{{inputs.pack_ref}}",
					"env_id":          "{{steps.claim.outputs.env_id}}",
					"schema_name":     "{{steps.validate.outputs.schema_name}}",
				},
				Handler: in.migrate,
			},
			{
				Name: "finalize",
				Kind: store.StepKindActionTask,
				Params: map[string]any{
					"installation_id": "{{steps.claim.outputs.installation_id}}",
					"version":         "{{steps.validate.outputs.version}}",
				},
				Handler: in.finalize,
			},
		},
	}
}

// validate resolves the catalog entry and derives the schema name.
func (in *Installer) validate(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	packRef, _ := params["pack_ref"].(string)
	if packRef == "" {
		return nil, xynerrors.New(xynerrors.KindValidation, "pack_ref input is required")
	}

	pack, err := in.store.GetPackByRef(ctx, packRef)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(pack.Manifest)
	if err != nil {
		return nil, err
	}

	schemaName := pack.SchemaName
	if schemaName == "" {
		schemaName, err = store.NormalizeSchemaName(packRef)
		if err != nil {
			return nil, err
		}
	}
	if err := store.ValidateIdentifier(schemaName); err != nil {
		return nil, err
	}

	return map[string]any{
		"pack_id":     pack.ID,
		"version":     pack.Version,
		"schema_name": schemaName,
		"schema_mode": string(manifest.SchemaMode),
	}, nil
}

// claim performs the idempotent insert. On conflict it re-reads and either
// adopts the row (this run already claimed it) or raises the typed conflict.
func (in *Installer) claim(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	packRef, _ := params["pack_ref"].(string)
	envID, _ := params["env_id"].(string)
	if envID == "" {
		envID = bc.EnvID()
	}

	var installationID string
	var claimed bool
	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, ok, err := in.store.ClaimInstallationTx(ctx, tx, store.ClaimInstallationParams{
			PackID:     params["pack_id"].(string),
			PackRef:    packRef,
			EnvID:      envID,
			SchemaMode: store.SchemaMode(params["schema_mode"].(string)),
			SchemaName: params["schema_name"].(string),
			RunID:      bc.RunID(),
		})
		if err != nil {
			return err
		}
		if ok {
			installationID = id
			claimed = true
			return nil
		}

		existing, err := in.store.GetInstallationTx(ctx, tx, packRef, envID)
		if err != nil {
			return err
		}
		// A prior attempt of this same run may have claimed already.
		if existing.InstalledByRunID != nil && *existing.InstalledByRunID == bc.RunID() &&
			existing.Status == store.InstallStatusInstalling {
			installationID = existing.ID
			return nil
		}
		return store.ClassifyInstallConflict(existing)
	})
	if err != nil {
		return nil, err
	}

	bc.Logger().Info("claimed installation",
		slog.String("installation_id", installationID),
		slog.Bool("new_claim", claimed),
	)
	return map[string]any{"installation_id": installationID, "env_id": envID}, nil
}

// provision creates the pack's schema namespace.
func (in *Installer) provision(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)
	schemaName, _ := params["schema_name"].(string)
	mode := store.SchemaMode(params["schema_mode"].(string))

	if mode != store.SchemaModePerPack {
		return map[string]any{"schema_name": schemaName, "created": false}, nil
	}

	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return in.store.ProvisionSchemaTx(ctx, tx, schemaName)
	})
	if err != nil {
		return nil, in.markFailed(ctx, bc, installationID, err)
	}
	return map[string]any{"schema_name": schemaName, "created": true}, nil
}

// migrate applies pending manifest migrations, one transaction each,
// advancing migration_state as it goes.
func (in *Installer) migrate(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)
	packRef, _ := params["pack_ref"].(string)
	schemaName, _ := params["schema_name"].(string)

	pack, err := in.store.GetPackByRef(ctx, packRef)
	if err != nil {
		return nil, in.markFailed(ctx, bc, installationID, err)
	}
	manifest, err := ParseManifest(pack.Manifest)
	if err != nil {
		return nil, in.markFailed(ctx, bc, installationID, err)
	}

	envID, _ := params["env_id"].(string)
	inst, err := in.store.GetInstallation(ctx, packRef, envID)
	var migrationState *string
	if err == nil {
		migrationState = inst.MigrationState
	}

	applied, err := in.applyMigrations(ctx, bc, installationID, schemaName,
		manifest.PendingMigrations(migrationState))
	if err != nil {
		return nil, in.markFailed(ctx, bc, installationID, err)
	}
	return map[string]any{"migrations_applied": applied}, nil
}

// applyMigrations runs each pending migration in its own transaction with
// search_path pinned to the pack schema, advancing migration_state as it
// goes so an interrupted pass resumes where it stopped.
func (in *Installer) applyMigrations(ctx context.Context, bc blueprint.Context, installationID, schemaName string, pending []store.Migration) (int, error) {
	applied := 0
	for _, mig := range pending {
		mig := mig
		err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`SET LOCAL search_path TO `+store.QuoteIdentifier(schemaName)+`, public`); err != nil {
				return xynerrors.Wrap(xynerrors.KindMigrationApplyFailed, err,
					"setting search_path for migration %s", mig.ID)
			}
			if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
				return xynerrors.Wrap(xynerrors.KindMigrationApplyFailed, err,
					"applying migration %s", mig.ID).WithDetail("migration_id", mig.ID)
			}
			return in.store.SetMigrationStateTx(ctx, tx, installationID, mig.ID)
		})
		if err != nil {
			return applied, err
		}
		applied++

		_ = bc.Progress(ctx, store.JSONMap{
			"migration_id": mig.ID,
			"applied":      applied,
			"pending":      len(pending) - applied,
		})
	}
	return applied, nil
}

// finalize is the delicate step: row lock, ownership check, invariant
// check, then the installed transition and its event in one commit.
func (in *Installer) finalize(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
	installationID, _ := params["installation_id"].(string)
	version, _ := params["version"].(string)

	var alreadyInstalled bool
	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		inst, err := in.store.LockInstallationTx(ctx, tx, installationID)
		if err != nil {
			return err
		}

		if inst.InstalledByRunID == nil || *inst.InstalledByRunID != bc.RunID() {
			return xynerrors.New(xynerrors.KindOwnershipViolation,
				"installation %s is owned by another run", installationID).
				WithDetail("installation_id", installationID)
		}

		// Another attempt of this run finished first.
		if inst.Status == store.InstallStatusInstalled {
			alreadyInstalled = true
			return nil
		}

		if inst.SchemaName == nil || *inst.SchemaName == "" || version == "" {
			return xynerrors.New(xynerrors.KindInvariantViolation,
				"installed-state invariants not satisfiable").
				WithDetail("installation_id", installationID)
		}

		if err := in.store.FinalizeInstallationTx(ctx, tx, installationID, version); err != nil {
			return err
		}
		_, err = in.emitter.EmitTx(ctx, tx, events.PackInstallCompleted, bc.CorrelationID(),
			events.WithRun(bc.RunID()),
			events.WithResource("pack_installation", installationID),
			events.WithData(store.JSONMap{
				"installation_id":   installationID,
				"installed_version": version,
			}))
		return err
	})
	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindOwnershipViolation {
			// Not ours to mark failed.
			return nil, err
		}
		return nil, in.markFailed(ctx, bc, installationID, err)
	}

	return map[string]any{
		"installation_id":   installationID,
		"installed_version": version,
		"already_installed": alreadyInstalled,
	}, nil
}

// markFailed records the failure on the installation row and emits
// xyn.pack.install.failed, then returns the original error so the step
// fails. The row stays for inspection and retry by a new run.
func (in *Installer) markFailed(ctx context.Context, bc blueprint.Context, installationID string, cause error) error {
	return in.markFailedEvent(ctx, bc, installationID, cause, events.PackInstallFailed)
}

func (in *Installer) markFailedEvent(ctx context.Context, bc blueprint.Context, installationID string, cause error, eventName string) error {
	payload := store.JSONMap{
		"kind":    string(xynerrors.KindOf(cause)),
		"message": cause.Error(),
	}
	if details := xynerrors.DetailsOf(cause); details != nil {
		payload["details"] = details
	}

	err := in.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := in.store.LockInstallationTx(ctx, tx, installationID); err != nil {
			return err
		}
		if err := in.store.MarkInstallationFailedTx(ctx, tx, installationID, payload); err != nil {
			return err
		}
		_, err := in.emitter.EmitTx(ctx, tx, eventName, bc.CorrelationID(),
			events.WithRun(bc.RunID()),
			events.WithResource("pack_installation", installationID),
			events.WithData(payload))
		return err
	})
	if err != nil {
		bc.Logger().Error("failed to mark installation failed",
			slog.String("installation_id", installationID), log.Error(err))
	}
	return cause
}
