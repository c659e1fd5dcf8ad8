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
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/tracing"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

type createRunRequest struct {
	Name         string         `json:"name" validate:"required,max=200"`
	BlueprintRef string         `json:"blueprint_ref" validate:"max=200"`
	Inputs       map[string]any `json:"inputs"`
	Priority     int            `json:"priority" validate:"gte=0"`
	MaxAttempts  *int           `json:"max_attempts" validate:"omitempty,gte=1"`
	RunAt        *time.Time     `json:"run_at"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	params := store.NewRunParams{
		Name:          req.Name,
		BlueprintRef:  req.BlueprintRef,
		Inputs:        store.JSONMap(req.Inputs),
		Actor:         "api",
		CorrelationID: tracing.CorrelationIDFrom(r.Context()),
		Priority:      req.Priority,
		MaxAttempts:   req.MaxAttempts,
		EnvID:         s.envID,
	}
	if req.RunAt != nil {
		params.RunAt = req.RunAt.UTC()
	}

	run, err := s.store.CreateRun(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	runs, next, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: store.RunStatus(r.URL.Query().Get("status")),
		Name:   r.URL.Query().Get("name"),
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page{Items: emptyAsList(runs), NextCursor: encodeCursor(next)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleCancelRun is idempotent: cancelling an already-cancelled run
// returns it unchanged.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.engine.RequestCancel(r.Context(), id, "api")
	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindConflict {
			existing, getErr := s.store.GetRun(r.Context(), id)
			if getErr == nil && existing.Status == store.RunStatusCancelled {
				s.writeJSON(w, http.StatusOK, existing)
				return
			}
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emptyAsList(steps))
}

func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	evs, next, err := s.store.ListEvents(r.Context(), store.EventFilter{
		RunID:  id,
		Limit:  limit,
		Cursor: cursor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page{Items: emptyAsList(evs), NextCursor: encodeCursor(next)})
}

func (s *Server) handleListRunChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	edges, err := s.store.ListChildren(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emptyAsList(edges))
}

func (s *Server) handleListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.store.ListArtifactsByRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emptyAsList(arts))
}

// pageParams parses limit and cursor query parameters.
func pageParams(r *http.Request) (int, *store.Cursor, error) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, nil, xynerrors.Wrap(xynerrors.KindValidation, err, "limit must be an integer")
		}
		limit = n
	}
	cursor, err := store.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		return 0, nil, err
	}
	return limit, cursor, nil
}

func encodeCursor(c *store.Cursor) *string {
	if c == nil {
		return nil
	}
	enc := c.Encode()
	return &enc
}

// emptyAsList keeps empty collections as [] instead of null in JSON.
func emptyAsList[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
