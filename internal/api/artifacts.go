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
)

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetArtifactContent(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	content, err := s.blobs.Read(a)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
