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

package executor

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// runContext is the blueprint.Context implementation handed to handlers.
type runContext struct {
	exec     *Executor
	run      *store.Run
	step     *store.Step
	workerID string
	logger   *slog.Logger
}

func newRunContext(exec *Executor, run *store.Run, step *store.Step, workerID string, logger *slog.Logger) *runContext {
	return &runContext{exec: exec, run: run, step: step, workerID: workerID, logger: logger}
}

func (rc *runContext) RunID() string         { return rc.run.ID }
func (rc *runContext) CorrelationID() string { return rc.run.CorrelationID }
func (rc *runContext) EnvID() string         { return rc.exec.envID }
func (rc *runContext) Logger() *slog.Logger  { return rc.logger }
func (rc *runContext) Store() *store.Store   { return rc.exec.store }

// Progress emits xyn.step.progress outside any transaction; it is an
// observation, not a state change.
func (rc *runContext) Progress(ctx context.Context, data store.JSONMap) error {
	_, err := rc.exec.emitter.Emit(ctx, events.StepProgress, rc.run.CorrelationID,
		events.WithRun(rc.run.ID), events.WithStep(rc.step.ID), events.WithData(data))
	return err
}

// Spawn enqueues a child run idempotently. The existing-child lookup, depth
// check, run insert, and edge insert commit in one transaction, so a retried
// handler attempt finds the child instead of duplicating it.
func (rc *runContext) Spawn(ctx context.Context, childKey string, params store.NewRunParams) (*store.Run, error) {
	if childKey == "" {
		return nil, xynerrors.New(xynerrors.KindValidation, "spawn requires a child key")
	}

	var child *store.Run
	err := rc.exec.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := rc.exec.store.FindChildByKeyTx(ctx, tx, rc.run.ID, childKey)
		if err == nil {
			child = existing
			return nil
		}
		if xynerrors.KindOf(err) != xynerrors.KindNotFound {
			return err
		}

		if err := rc.exec.store.CheckSpawnDepthTx(ctx, tx, rc.run.ID); err != nil {
			return err
		}

		params.ParentRunID = &rc.run.ID
		if params.CorrelationID == "" {
			params.CorrelationID = rc.run.CorrelationID
		}
		if params.EnvID == "" {
			params.EnvID = rc.exec.envID
		}

		child, err = rc.exec.store.CreateRunTx(ctx, tx, params)
		if err != nil {
			return err
		}
		_, err = rc.exec.store.InsertRunEdgeTx(ctx, tx, rc.run.ID, child.ID, "child", &childKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}
