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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// MaxSpawnDepth bounds parent chains so runaway recursive spawning cannot
// fill the queue.
const MaxSpawnDepth = 16

// InsertRunEdgeTx links a parent to a spawned child. When childKey is set the
// partial unique index makes the insert idempotent and the method reports
// whether a new edge was created.
func (s *Store) InsertRunEdgeTx(ctx context.Context, tx *sqlx.Tx, parentID, childID, relation string, childKey *string) (bool, error) {
	if relation == "" {
		relation = "child"
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO run_edges (id, parent_run_id, child_run_id, relation, child_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (parent_run_id, child_key) WHERE child_key IS NOT NULL DO NOTHING`,
		uuid.NewString(), parentID, childID, relation, childKey)
	if err != nil {
		return false, mapPgError(err, "inserting run edge")
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// FindChildByKeyTx returns the existing child for (parent, childKey), or
// not_found when no edge exists yet.
func (s *Store) FindChildByKeyTx(ctx context.Context, tx *sqlx.Tx, parentID, childKey string) (*Run, error) {
	var run Run
	err := tx.GetContext(ctx, &run, `
SELECT r.* FROM runs r
JOIN run_edges e ON e.child_run_id = r.id
WHERE e.parent_run_id = $1 AND e.child_key = $2`, parentID, childKey)
	if err != nil {
		return nil, mapPgError(err, "finding child run by key")
	}
	return &run, nil
}

// ListChildren returns a run's direct children oldest first.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]RunEdge, error) {
	var edges []RunEdge
	err := s.db.SelectContext(ctx, &edges,
		`SELECT * FROM run_edges WHERE parent_run_id = $1 ORDER BY created_at ASC, id ASC`, parentID)
	if err != nil {
		return nil, mapPgError(err, "listing run edges")
	}
	return edges, nil
}

// SpawnDepthTx walks parent_run_id links upward and returns how deep runID
// already sits. Exceeding MaxSpawnDepth refuses the spawn.
func (s *Store) SpawnDepthTx(ctx context.Context, tx *sqlx.Tx, runID string) (int, error) {
	var depth int
	err := tx.GetContext(ctx, &depth, `
WITH RECURSIVE ancestry AS (
    SELECT id, parent_run_id, 0 AS depth FROM runs WHERE id = $1
    UNION ALL
    SELECT r.id, r.parent_run_id, a.depth + 1
    FROM runs r
    JOIN ancestry a ON r.id = a.parent_run_id
    WHERE a.depth < $2
)
SELECT MAX(depth) FROM ancestry`, runID, MaxSpawnDepth+1)
	if err != nil {
		return 0, mapPgError(err, "computing spawn depth")
	}
	return depth, nil
}

// CheckSpawnDepthTx refuses to deepen a chain past MaxSpawnDepth.
func (s *Store) CheckSpawnDepthTx(ctx context.Context, tx *sqlx.Tx, parentID string) error {
	depth, err := s.SpawnDepthTx(ctx, tx, parentID)
	if err != nil {
		return err
	}
	if depth+1 > MaxSpawnDepth {
		return xynerrors.New(xynerrors.KindValidation,
			"spawn depth %d exceeds limit %d", depth+1, MaxSpawnDepth).
			WithDetail("parent_run_id", parentID)
	}
	return nil
}
