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

// InsertStepTx records a new step for a run. The unique (run_id, idx) index
// rejects duplicate ordinals.
func (s *Store) InsertStepTx(ctx context.Context, tx *sqlx.Tx, step *Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	if step.Kind == "" {
		step.Kind = StepKindActionTask
	}
	if step.Status == "" {
		step.Status = StepStatusCreated
	}

	const q = `
INSERT INTO steps (
    id, run_id, name, idx, kind, status, inputs, created_at, started_at
) VALUES (
    :id, :run_id, :name, :idx, :kind, :status, :inputs, :created_at, :started_at
)`
	if _, err := tx.NamedExecContext(ctx, q, step); err != nil {
		return mapPgError(err, "inserting step")
	}
	return nil
}

// FinishStepTx writes the terminal state of a step.
func (s *Store) FinishStepTx(ctx context.Context, tx *sqlx.Tx, stepID string, status StepStatus, outputs, stepErr JSONMap) error {
	_, err := tx.ExecContext(ctx, `
UPDATE steps SET status = $2, outputs = $3, error = $4, completed_at = NOW()
WHERE id = $1`, stepID, string(status), outputs, stepErr)
	if err != nil {
		return mapPgError(err, "finishing step")
	}
	return nil
}

// AttachStepLogsTx links a logs artifact to a step.
func (s *Store) AttachStepLogsTx(ctx context.Context, tx *sqlx.Tx, stepID, artifactID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE steps SET logs_artifact_id = $2 WHERE id = $1`, stepID, artifactID)
	if err != nil {
		return mapPgError(err, "attaching step logs")
	}
	return nil
}

// GetStep fetches one step by id.
func (s *Store) GetStep(ctx context.Context, id string) (*Step, error) {
	var step Step
	if err := s.db.GetContext(ctx, &step, `SELECT * FROM steps WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err, "fetching step")
	}
	return &step, nil
}

// ListSteps returns a run's steps in execution order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	var steps []Step
	err := s.db.SelectContext(ctx, &steps,
		`SELECT * FROM steps WHERE run_id = $1 ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, mapPgError(err, "listing steps")
	}
	return steps, nil
}

// NextStepIdxTx returns the next free ordinal for a run's steps.
func (s *Store) NextStepIdxTx(ctx context.Context, tx *sqlx.Tx, runID string) (int, error) {
	var idx int
	err := tx.GetContext(ctx, &idx,
		`SELECT COALESCE(MAX(idx), -1) + 1 FROM steps WHERE run_id = $1`, runID)
	if err != nil {
		return 0, mapPgError(err, "computing next step idx")
	}
	return idx, nil
}

// CountStepsTx reports how many steps a run has recorded so far. The
// executor uses it to enforce the per-run step budget.
func (s *Store) CountStepsTx(ctx context.Context, tx *sqlx.Tx, runID string) (int, error) {
	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM steps WHERE run_id = $1`, runID); err != nil {
		return 0, mapPgError(err, "counting steps")
	}
	return n, nil
}
