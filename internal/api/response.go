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
	"encoding/json"
	"net/http"

	"github.com/xynlabs/xyn/internal/log"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// page is the cursor-paginated list envelope.
type page struct {
	Items      any     `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", log.Error(err))
	}
}

// writeError maps the error taxonomy to HTTP statuses. Install conflicts
// use the typed 409 detail body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := xynerrors.KindOf(err)

	if xynerrors.IsInstallConflict(kind) {
		detail := map[string]any{"error": string(kind)}
		for k, v := range xynerrors.DetailsOf(err) {
			switch k {
			case "existing_installation_id", "existing_run_id", "last_error_at":
				detail[k] = v
			case "error":
				detail["error_details"] = v
			}
		}
		s.writeJSON(w, http.StatusConflict, map[string]any{"detail": detail})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case xynerrors.KindNotFound, xynerrors.KindPackNotFound, xynerrors.KindBlueprintNotFound:
		status = http.StatusNotFound
	case xynerrors.KindValidation, xynerrors.KindInvalidIdentifier:
		status = http.StatusBadRequest
	case xynerrors.KindConflict, xynerrors.KindConstraintViolation:
		status = http.StatusConflict
	case xynerrors.KindTransientDB:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", log.Error(err))
	}

	body := map[string]any{"error": err.Error()}
	if kind != "" {
		body["kind"] = string(kind)
	}
	if details := xynerrors.DetailsOf(err); len(details) > 0 {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}

func (s *Server) decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xynerrors.Wrap(xynerrors.KindValidation, err, "malformed request body")
	}
	if err := s.validate.Struct(v); err != nil {
		return xynerrors.Wrap(xynerrors.KindValidation, err, "invalid request body")
	}
	return nil
}
