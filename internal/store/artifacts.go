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
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// InsertArtifactTx records an artifact row and the attachment event in the
// caller's transaction.
func (s *Store) InsertArtifactTx(ctx context.Context, tx *sqlx.Tx, a *Artifact, envID, correlationID string) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.CreatedBy == "" {
		a.CreatedBy = "system"
	}
	if a.Metadata == nil {
		a.Metadata = JSONMap{}
	}

	const q = `
INSERT INTO artifacts (
    id, name, kind, content_type, byte_length, sha256, run_id, step_id,
    created_by, metadata, storage_path, created_at
) VALUES (
    :id, :name, :kind, :content_type, :byte_length, :sha256, :run_id, :step_id,
    :created_by, :metadata, :storage_path, :created_at
)`
	if _, err := tx.NamedExecContext(ctx, q, a); err != nil {
		return mapPgError(err, "inserting artifact")
	}

	return s.InsertEventTx(ctx, tx, &Event{
		EventName:     "xyn.artifact.attached",
		EnvID:         envID,
		Actor:         a.CreatedBy,
		CorrelationID: correlationID,
		RunID:         a.RunID,
		StepID:        a.StepID,
		ResourceType:  strPtr("artifact"),
		ResourceID:    &a.ID,
		Data: JSONMap{
			"name":         a.Name,
			"kind":         a.Kind,
			"content_type": a.ContentType,
		},
	})
}

// GetArtifact fetches one artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	if err := s.db.GetContext(ctx, &a, `SELECT * FROM artifacts WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err, "fetching artifact")
	}
	return &a, nil
}

// ListArtifactsByRun returns a run's artifacts oldest first.
func (s *Store) ListArtifactsByRun(ctx context.Context, runID string) ([]Artifact, error) {
	var artifacts []Artifact
	err := s.db.SelectContext(ctx, &artifacts,
		`SELECT * FROM artifacts WHERE run_id = $1 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, mapPgError(err, "listing artifacts")
	}
	return artifacts, nil
}

func strPtr(s string) *string { return &s }
