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

	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/tracing"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, cursor, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	evs, next, err := s.store.ListEvents(r.Context(), store.EventFilter{
		EventName:     q.Get("event_name"),
		RunID:         q.Get("run_id"),
		CorrelationID: q.Get("correlation_id"),
		Limit:         limit,
		Cursor:        cursor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page{Items: emptyAsList(evs), NextCursor: encodeCursor(next)})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

type createEventRequest struct {
	EventName string         `json:"event_name" validate:"required,max=200"`
	Data      map[string]any `json:"data"`
	RunID     *string        `json:"run_id"`
	StepID    *string        `json:"step_id"`
	Resource  *struct {
		Type string `json:"type" validate:"required"`
		ID   string `json:"id" validate:"required"`
	} `json:"resource"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ev := &store.Event{
		EventName:     req.EventName,
		EnvID:         s.envID,
		Actor:         "api",
		CorrelationID: tracing.CorrelationIDFrom(r.Context()),
		RunID:         req.RunID,
		StepID:        req.StepID,
		Data:          store.JSONMap(req.Data),
	}
	if req.Resource != nil {
		ev.ResourceType = &req.Resource.Type
		ev.ResourceID = &req.Resource.ID
	}

	if err := s.store.InsertEvent(r.Context(), ev); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ev)
}
