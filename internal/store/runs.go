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

// NewRunParams carries the caller-visible fields of run creation.
type NewRunParams struct {
	Name          string
	BlueprintRef  string
	Inputs        JSONMap
	Actor         string
	CorrelationID string
	Priority      int
	RunAt         time.Time
	MaxAttempts   *int
	ParentRunID   *string
	EnvID         string
}

// CreateRun enqueues a run and records the creation event in one transaction.
// The run starts queued with queued_at set so claim ordering is total.
func (s *Store) CreateRun(ctx context.Context, p NewRunParams) (*Run, error) {
	var run *Run
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		run, err = s.CreateRunTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CreateRunTx enqueues a run inside the caller's transaction. Used directly
// when run creation must commit atomically with other writes (spawn edges).
func (s *Store) CreateRunTx(ctx context.Context, tx *sqlx.Tx, p NewRunParams) (*Run, error) {
	now := time.Now().UTC()
	if p.Actor == "" {
		p.Actor = "system"
	}
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	if p.Priority == 0 {
		p.Priority = 100
	}
	if p.RunAt.IsZero() {
		p.RunAt = now
	}
	if p.Inputs == nil {
		p.Inputs = JSONMap{}
	}

	run := &Run{
		ID:            uuid.NewString(),
		Name:          p.Name,
		Status:        RunStatusQueued,
		Actor:         p.Actor,
		CorrelationID: p.CorrelationID,
		Inputs:        p.Inputs,
		Priority:      p.Priority,
		RunAt:         p.RunAt,
		MaxAttempts:   p.MaxAttempts,
		QueuedAt:      &now,
		ParentRunID:   p.ParentRunID,
		CreatedAt:     now,
	}
	if p.BlueprintRef != "" {
		run.BlueprintRef = &p.BlueprintRef
	}

	const q = `
INSERT INTO runs (
    id, name, blueprint_ref, status, actor, correlation_id, inputs,
    priority, run_at, max_attempts, queued_at, parent_run_id, created_at
) VALUES (
    :id, :name, :blueprint_ref, :status, :actor, :correlation_id, :inputs,
    :priority, :run_at, :max_attempts, :queued_at, :parent_run_id, :created_at
)`
	if _, err := tx.NamedExecContext(ctx, q, run); err != nil {
		return nil, mapPgError(err, "inserting run")
	}

	err := s.InsertEventTx(ctx, tx, &Event{
		EventName:     "xyn.run.created",
		EnvID:         p.EnvID,
		Actor:         p.Actor,
		CorrelationID: p.CorrelationID,
		RunID:         &run.ID,
		Data: JSONMap{
			"name":          run.Name,
			"blueprint_ref": p.BlueprintRef,
			"priority":      run.Priority,
		},
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err, "fetching run")
	}
	return &run, nil
}

// GetRunTx fetches a run inside an open transaction with FOR UPDATE.
func (s *Store) GetRunTx(ctx context.Context, tx *sqlx.Tx, id string) (*Run, error) {
	var run Run
	if err := tx.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, mapPgError(err, "fetching run for update")
	}
	return &run, nil
}

// RunFilter narrows ListRuns. Zero values mean "no filter".
type RunFilter struct {
	Status RunStatus
	Name   string
	Limit  int
	Cursor *Cursor
}

// ListRuns returns runs newest first, keyed on (created_at, id).
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, *Cursor, error) {
	query := `SELECT * FROM runs WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return placeholder(n)
	}

	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.Name != "" {
		query += ` AND name = ` + arg(f.Name)
	}
	if f.Cursor != nil {
		query += ` AND (created_at, id) < (` + arg(f.Cursor.TS) + `, ` + arg(f.Cursor.ID) + `)`
	}

	limit := ClampLimit(f.Limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(limit+1)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, nil, mapPgError(err, "listing runs")
	}

	var next *Cursor
	if len(runs) > limit {
		runs = runs[:limit]
		last := runs[len(runs)-1]
		next = &Cursor{TS: last.CreatedAt, ID: last.ID}
	}
	return runs, next, nil
}

// RequestCancel sets the cooperative cancellation flag. Terminal runs are
// left untouched and the update reports whether a row changed.
func (s *Store) RequestCancel(ctx context.Context, tx *sqlx.Tx, runID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE runs SET cancel_requested = TRUE
WHERE id = $1 AND status IN ('queued', 'running')`, runID)
	if err != nil {
		return false, mapPgError(err, "requesting cancellation")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// CancelRequested reads the cooperative cancellation flag. Workers poll it
// at step boundaries, so transient connection hiccups are retried rather than
// failing the run.
func (s *Store) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var flag bool
	err := s.RetryTransient(ctx, "reading cancel flag", func() error {
		if err := s.db.GetContext(ctx, &flag,
			`SELECT cancel_requested FROM runs WHERE id = $1`, runID); err != nil {
			return mapPgError(err, "reading cancel flag")
		}
		return nil
	})
	return flag, err
}

// CancelQueuedRun moves a queued run straight to cancelled. Returns false
// when the run was not queued anymore (a worker claimed it first).
func (s *Store) CancelQueuedRun(ctx context.Context, tx *sqlx.Tx, runID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE runs SET status = 'cancelled', completed_at = NOW(), cancel_requested = TRUE
WHERE id = $1 AND status = 'queued'`, runID)
	if err != nil {
		return false, mapPgError(err, "cancelling queued run")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
