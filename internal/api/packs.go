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

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/packs"
	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/tracing"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.store.ListPacks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emptyAsList(catalog))
}

// handleInstallPack enqueues an installation run. An existing installation
// row for (pack_ref, env_id) short-circuits into the typed 409; racing
// requests that both pass this check are resolved by the claim-insert
// inside the run.
func (s *Server) handleInstallPack(w http.ResponseWriter, r *http.Request) {
	packRef := chi.URLParam(r, "packRef")

	if _, err := s.store.GetPackByRef(r.Context(), packRef); err != nil {
		s.writeError(w, err)
		return
	}

	existing, err := s.store.GetInstallation(r.Context(), packRef, s.envID)
	if err == nil {
		conflict := store.ClassifyInstallConflict(existing)
		if e, ok := conflict.(*xynerrors.Error); ok && existing.InstalledByRunID != nil {
			e.WithDetail("existing_run_id", *existing.InstalledByRunID)
		}
		s.writeError(w, conflict)
		return
	}
	if xynerrors.KindOf(err) != xynerrors.KindNotFound {
		s.writeError(w, err)
		return
	}

	correlationID := tracing.CorrelationIDFrom(r.Context())
	var run *store.Run
	err = s.store.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		var err error
		run, err = s.store.CreateRunTx(r.Context(), tx, store.NewRunParams{
			Name:          packs.BlueprintName,
			BlueprintRef:  packs.BlueprintName,
			Inputs:        store.JSONMap{"pack_ref": packRef, "env_id": s.envID},
			Actor:         "api",
			CorrelationID: correlationID,
			EnvID:         s.envID,
		})
		if err != nil {
			return err
		}
		_, err = s.emitter.EmitTx(r.Context(), tx, events.PackInstallRequested, correlationID,
			events.WithRun(run.ID),
			events.WithActor("api"),
			events.WithResource("pack", packRef),
			events.WithData(store.JSONMap{"pack_ref": packRef, "env_id": s.envID}))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"run_id":         run.ID,
		"correlation_id": correlationID,
	})
}

// handleUpgradePack enqueues an upgrade run. Only pack existence is checked
// here; the installed-status guard lives inside the run, so racing requests
// resolve on the row's status transition rather than a read here.
func (s *Server) handleUpgradePack(w http.ResponseWriter, r *http.Request) {
	packRef := chi.URLParam(r, "packRef")

	if _, err := s.store.GetPackByRef(r.Context(), packRef); err != nil {
		s.writeError(w, err)
		return
	}

	correlationID := tracing.CorrelationIDFrom(r.Context())
	var run *store.Run
	err := s.store.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		var err error
		run, err = s.store.CreateRunTx(r.Context(), tx, store.NewRunParams{
			Name:          packs.UpgradeBlueprintName,
			BlueprintRef:  packs.UpgradeBlueprintName,
			Inputs:        store.JSONMap{"pack_ref": packRef, "env_id": s.envID},
			Actor:         "api",
			CorrelationID: correlationID,
			EnvID:         s.envID,
		})
		if err != nil {
			return err
		}
		_, err = s.emitter.EmitTx(r.Context(), tx, events.PackUpgradeRequested, correlationID,
			events.WithRun(run.ID),
			events.WithActor("api"),
			events.WithResource("pack", packRef),
			events.WithData(store.JSONMap{"pack_ref": packRef, "env_id": s.envID}))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":         run.ID,
		"correlation_id": correlationID,
	})
}

func (s *Server) handlePackStatus(w http.ResponseWriter, r *http.Request) {
	packRef := chi.URLParam(r, "packRef")

	if _, err := s.store.GetPackByRef(r.Context(), packRef); err != nil {
		s.writeError(w, err)
		return
	}

	inst, err := s.store.GetInstallation(r.Context(), packRef, s.envID)
	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindNotFound {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"status":       string(store.InstallStatusAvailable),
				"installation": nil,
			})
			return
		}
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       string(inst.Status),
		"installation": inst,
	})
}
