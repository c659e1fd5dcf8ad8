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

package events

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/store"
)

// Emitter appends events to the store, stamped with the environment id.
type Emitter struct {
	store  *store.Store
	envID  string
	logger *slog.Logger
}

// NewEmitter builds an emitter bound to one environment.
func NewEmitter(s *store.Store, envID string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: s, envID: envID, logger: log.WithComponent(logger, "events")}
}

// Option mutates an event under construction.
type Option func(*store.Event)

// WithRun tags the event with a run id.
func WithRun(runID string) Option {
	return func(ev *store.Event) { ev.RunID = &runID }
}

// WithStep tags the event with a step id.
func WithStep(stepID string) Option {
	return func(ev *store.Event) { ev.StepID = &stepID }
}

// WithActor overrides the default "system" actor.
func WithActor(actor string) Option {
	return func(ev *store.Event) { ev.Actor = actor }
}

// WithResource tags the event with an arbitrary resource reference.
func WithResource(resourceType, resourceID string) Option {
	return func(ev *store.Event) {
		ev.ResourceType = &resourceType
		ev.ResourceID = &resourceID
	}
}

// WithData attaches the structured payload.
func WithData(data store.JSONMap) Option {
	return func(ev *store.Event) { ev.Data = data }
}

func (e *Emitter) build(name, correlationID string, opts []Option) *store.Event {
	ev := &store.Event{
		EventName:     name,
		EnvID:         e.envID,
		CorrelationID: correlationID,
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// EmitTx appends an event inside the caller's transaction so it commits
// atomically with the state change it records. It returns the stored
// event's id.
func (e *Emitter) EmitTx(ctx context.Context, tx *sqlx.Tx, name, correlationID string, opts ...Option) (string, error) {
	ev := e.build(name, correlationID, opts)
	if err := e.store.InsertEventTx(ctx, tx, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// Emit appends a standalone event and returns its id. Used for observations
// that have no accompanying state change, e.g. step progress.
func (e *Emitter) Emit(ctx context.Context, name, correlationID string, opts ...Option) (string, error) {
	ev := e.build(name, correlationID, opts)
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		e.logger.Warn("event emission failed",
			slog.String("event", name),
			log.Error(err),
		)
		return "", err
	}
	return ev.ID, nil
}
