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
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xynlabs/xyn/internal/blueprint"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func newLifecycleExecutor(t *testing.T, bp *blueprint.Blueprint, maxSteps int, logger *slog.Logger) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(sqlx.NewDb(db, "pgx"), nil)
	em := events.NewEmitter(st, "local-dev", nil)
	eng := queue.New(st, em, 30*time.Second, queue.DefaultRetryPolicy, nil)
	reg := blueprint.NewRegistry()
	reg.Register(bp)

	return New(Params{
		Store:    st,
		Engine:   eng,
		Emitter:  em,
		Registry: reg,
		EnvID:    "local-dev",
		MaxSteps: maxSteps,
		Logger:   logger,
	}), mock
}

func runningRun(attempt int) *store.Run {
	started := time.Now().UTC().Add(-time.Minute)
	return &store.Run{
		ID:            "run-1",
		Name:          "order.flow",
		Status:        store.RunStatusRunning,
		CorrelationID: "corr-1",
		Inputs:        store.JSONMap{},
		Attempt:       attempt,
		StartedAt:     &started,
	}
}

func oneStepPlan(handler blueprint.HandlerFunc) *blueprint.Blueprint {
	return &blueprint.Blueprint{
		Name: "order.flow",
		Steps: []blueprint.StepSpec{
			{Name: "work", Kind: store.StepKindActionTask, Handler: handler},
		},
	}
}

// expectEvent pins the event_name argument so the test asserts lifecycle
// event order, not just event count.
func expectEvent(mock sqlmock.Sqlmock, name string) {
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(sqlmock.AnyArg(), name, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectCancelFlag(mock sqlmock.Sqlmock, cancelled bool) {
	mock.ExpectQuery(`SELECT cancel_requested FROM runs`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"cancel_requested"}).AddRow(cancelled))
}

func expectStepCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM steps`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func expectNextIdx(mock sqlmock.Sqlmock, idx int) {
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(idx\), -1\) \+ 1 FROM steps`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(idx))
}

func TestExecuteCompletesRunAndEmitsLifecycleEvents(t *testing.T) {
	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 200, nil)

	expectCancelFlag(mock, false)

	mock.ExpectBegin()
	expectStepCount(mock, 0)
	expectNextIdx(mock, 0)
	mock.ExpectExec(`INSERT INTO steps`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.StepStarted)
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE steps SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.StepCompleted)
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE runs SET status = 'completed'`).
		WillReturnRows(sqlmock.NewRows([]string{"correlation_id"}).AddRow("corr-1"))
	expectEvent(mock, events.RunCompleted)
	mock.ExpectCommit()

	err := x.Execute(context.Background(), runningRun(1), "worker-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCancelsAtStepBoundary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		t.Fatal("handler must not run after cancellation")
		return nil, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 200, logger)

	expectCancelFlag(mock, true)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status = 'cancelled'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.RunCancelled)
	mock.ExpectCommit()

	err := x.Execute(context.Background(), runningRun(1), "worker-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The run logger carries the blueprint ref and the correlation id as
	// separate fields.
	out := buf.String()
	assert.Contains(t, out, "cancellation observed")
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"blueprint":"order.flow"`)
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
}

func TestExecuteEnforcesStepBudgetAcrossAttempts(t *testing.T) {
	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		t.Fatal("handler must not run past the budget")
		return nil, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 1, nil)

	expectCancelFlag(mock, false)

	// The previous attempt already recorded one step; the budget counts
	// rows, not this attempt's position in the plan.
	mock.ExpectBegin()
	expectStepCount(mock, 1)
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.RunFailed)
	mock.ExpectCommit()

	err := x.Execute(context.Background(), runningRun(2), "worker-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRetryAttemptAppendsOrdinals(t *testing.T) {
	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 200, nil)

	expectCancelFlag(mock, false)

	// Attempt 1 left two step rows behind; the new step continues at idx 2
	// instead of colliding with the old ordinals.
	mock.ExpectBegin()
	expectStepCount(mock, 2)
	expectNextIdx(mock, 2)
	mock.ExpectExec(`INSERT INTO steps`).
		WithArgs(sqlmock.AnyArg(), "run-1", "work", 2, "action_task", "running",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.StepStarted)
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE steps SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.StepCompleted)
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE runs SET status = 'completed'`).
		WillReturnRows(sqlmock.NewRows([]string{"correlation_id"}).AddRow("corr-1"))
	expectEvent(mock, events.RunCompleted)
	mock.ExpectCommit()

	err := x.Execute(context.Background(), runningRun(2), "worker-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDeadlineExceededFailsTerminally(t *testing.T) {
	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		t.Fatal("handler must not run past the deadline")
		return nil, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 200, nil)

	run := runningRun(1)
	expired := time.Now().UTC().Add(-2 * time.Hour)
	run.StartedAt = &expired

	expectCancelFlag(mock, false)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, events.RunFailed)
	mock.ExpectCommit()

	err := x.Execute(context.Background(), run, "worker-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDuplicateOrdinalAbortsAsLostLease(t *testing.T) {
	bp := oneStepPlan(func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		t.Fatal("handler must not run when the ordinal is taken")
		return nil, nil
	})
	x, mock := newLifecycleExecutor(t, bp, 200, nil)

	expectCancelFlag(mock, false)

	// Another worker holding a newer claim wrote the same ordinal first.
	mock.ExpectBegin()
	expectStepCount(mock, 0)
	expectNextIdx(mock, 0)
	mock.ExpectExec(`INSERT INTO steps`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_steps_run_idx"})
	mock.ExpectRollback()

	err := x.Execute(context.Background(), runningRun(1), "worker-1")
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindLostLease, xynerrors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
