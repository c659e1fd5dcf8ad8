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

const insertEventSQL = `
INSERT INTO events (
    id, event_name, occurred_at, env_id, actor, correlation_id,
    run_id, step_id, resource_type, resource_id, data
) VALUES (
    :id, :event_name, :occurred_at, :env_id, :actor, :correlation_id,
    :run_id, :step_id, :resource_type, :resource_id, :data
)`

// InsertEventTx appends an event inside an open transaction so it commits
// atomically with the state change it records. Missing id, occurred_at, and
// data fields are filled in.
func (s *Store) InsertEventTx(ctx context.Context, tx *sqlx.Tx, ev *Event) error {
	prepareEvent(ev)
	if _, err := tx.NamedExecContext(ctx, insertEventSQL, ev); err != nil {
		return mapPgError(err, "inserting event "+ev.EventName)
	}
	return nil
}

// InsertEvent appends a standalone event outside any transaction.
func (s *Store) InsertEvent(ctx context.Context, ev *Event) error {
	prepareEvent(ev)
	if _, err := s.db.NamedExecContext(ctx, insertEventSQL, ev); err != nil {
		return mapPgError(err, "inserting event "+ev.EventName)
	}
	return nil
}

func prepareEvent(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Actor == "" {
		ev.Actor = "system"
	}
	if ev.Data == nil {
		ev.Data = JSONMap{}
	}
}

// EventFilter narrows ListEvents. Zero values mean "no filter".
type EventFilter struct {
	RunID         string
	CorrelationID string
	EventName     string
	Limit         int
	Cursor        *Cursor
}

// ListEvents returns events newest first, keyed on (occurred_at, id) so
// pagination is stable across same-timestamp rows.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, *Cursor, error) {
	query := `SELECT * FROM events WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return placeholder(n)
	}

	if f.RunID != "" {
		query += ` AND run_id = ` + arg(f.RunID)
	}
	if f.CorrelationID != "" {
		query += ` AND correlation_id = ` + arg(f.CorrelationID)
	}
	if f.EventName != "" {
		query += ` AND event_name = ` + arg(f.EventName)
	}
	if f.Cursor != nil {
		query += ` AND (occurred_at, id) < (` + arg(f.Cursor.TS) + `, ` + arg(f.Cursor.ID) + `)`
	}

	limit := ClampLimit(f.Limit)
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ` + arg(limit+1)

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, nil, mapPgError(err, "listing events")
	}

	var next *Cursor
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		next = &Cursor{TS: last.OccurredAt, ID: last.ID}
	}
	return events, next, nil
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	var ev Event
	if err := s.db.GetContext(ctx, &ev, `SELECT * FROM events WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err, "fetching event")
	}
	return &ev, nil
}
