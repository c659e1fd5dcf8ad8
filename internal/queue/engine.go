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

// Package queue implements the durable run queue over the relational store:
// claim with FOR UPDATE SKIP LOCKED, lease renewal, crash reclaim, and the
// terminal transitions with retry backoff.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Engine is the queue protocol over runs rows. It is safe for concurrent use.
type Engine struct {
	store   *store.Store
	emitter *events.Emitter
	lease   time.Duration
	retry   RetryPolicy
	logger  *slog.Logger
}

// New builds a queue engine. A zero retry policy selects the default.
func New(s *store.Store, em *events.Emitter, lease time.Duration, retry RetryPolicy, logger *slog.Logger) *Engine {
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   s,
		emitter: em,
		lease:   lease,
		retry:   retry,
		logger:  log.WithComponent(logger, "queue"),
	}
}

// Lease returns the configured lease duration.
func (e *Engine) Lease() time.Duration {
	return e.lease
}

// claimSQL atomically selects the single best eligible run and marks it
// running. SKIP LOCKED plus the status predicate guarantees exactly one
// claimant; ordering is priority, then run_at, queued_at, created_at.
const claimSQL = `
WITH c AS (
    SELECT id FROM runs
    WHERE status = 'queued' AND run_at <= NOW()
    ORDER BY priority ASC, run_at ASC, queued_at ASC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE runs
SET status = 'running',
    locked_at = NOW(),
    locked_by = $1,
    lease_expires_at = NOW() + $2::interval,
    started_at = COALESCE(started_at, NOW()),
    attempt = attempt + 1
FROM c WHERE runs.id = c.id
RETURNING runs.*`

// Claim takes the next eligible run for workerID, or returns a
// no_claim_available error when the queue has nothing ready. The
// xyn.run.started emission commits with the claim; attempts beyond the
// first are flagged reclaimed.
func (e *Engine) Claim(ctx context.Context, workerID string) (*store.Run, error) {
	var run store.Run
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &run, claimSQL, workerID, pgInterval(e.lease))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return xynerrors.New(xynerrors.KindNoClaimAvailable, "no eligible run to claim")
			}
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "claiming run")
		}

		data := store.JSONMap{"attempt": run.Attempt, "worker_id": workerID}
		if run.Attempt > 1 {
			data["reclaimed"] = true
		}
		_, err = e.emitter.EmitTx(ctx, tx, events.RunStarted, run.CorrelationID,
			events.WithRun(run.ID), events.WithData(data))
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("claimed run",
		slog.String("run_id", run.ID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", run.Attempt),
	)
	return &run, nil
}

// Renew extends the lease. Zero rows affected means the lease was lost and
// the worker must abort locally without further state writes.
func (e *Engine) Renew(ctx context.Context, runID, workerID string) error {
	res, err := e.store.DB().ExecContext(ctx, `
UPDATE runs SET lease_expires_at = NOW() + $3::interval
WHERE id = $1 AND locked_by = $2 AND status = 'running'`,
		runID, workerID, pgInterval(e.lease))
	if err != nil {
		return xynerrors.Wrap(xynerrors.KindTransientDB, err, "renewing lease")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return xynerrors.New(xynerrors.KindLostLease,
			"lease on run %s no longer held by %s", runID, workerID)
	}
	return nil
}

// Reclaim returns expired running runs to the queue and reports their ids.
// Any worker may run it; the update is idempotent across racers.
func (e *Engine) Reclaim(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows := []struct {
			ID            string `db:"id"`
			CorrelationID string `db:"correlation_id"`
			Attempt       int    `db:"attempt"`
		}{}
		err := tx.SelectContext(ctx, &rows, `
UPDATE runs
SET status = 'queued', locked_by = NULL, locked_at = NULL, lease_expires_at = NULL
WHERE status = 'running' AND lease_expires_at < NOW()
RETURNING id, correlation_id, attempt`)
		if err != nil {
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "reclaiming expired runs")
		}

		for _, r := range rows {
			ids = append(ids, r.ID)
			_, err := e.emitter.EmitTx(ctx, tx, events.RunReclaimed, r.CorrelationID,
				events.WithRun(r.ID),
				events.WithData(store.JSONMap{"attempt": r.Attempt}))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		e.logger.Warn("reclaimed expired runs", slog.Int("count", len(ids)))
	}
	return ids, nil
}

// Complete finalizes a run as completed. The locked_by guard refuses the
// write when another worker holds the run after a reclaim.
func (e *Engine) Complete(ctx context.Context, runID, workerID string, outputs store.JSONMap) error {
	return e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var correlationID string
		err := tx.GetContext(ctx, &correlationID, `
UPDATE runs
SET status = 'completed', outputs = $3, completed_at = NOW(),
    locked_by = NULL, lease_expires_at = NULL
WHERE id = $1 AND locked_by = $2 AND status = 'running'
RETURNING correlation_id`, runID, workerID, outputs)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return xynerrors.New(xynerrors.KindLostLease,
					"run %s is no longer held by %s", runID, workerID)
			}
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "completing run")
		}

		_, err = e.emitter.EmitTx(ctx, tx, events.RunCompleted, correlationID,
			events.WithRun(runID))
		return err
	})
}

// Fail records a terminal step failure. When attempts remain the run goes
// back to queued with full-jitter backoff and retried=true; otherwise it
// transitions to failed.
func (e *Engine) Fail(ctx context.Context, run *store.Run, workerID string, runErr store.JSONMap) (retried bool, err error) {
	canRetry := run.MaxAttempts == nil || run.Attempt < *run.MaxAttempts
	if !canRetry {
		return false, e.FailTerminal(ctx, run, workerID, runErr)
	}

	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		delay := e.retry.Delay(run.Attempt)
		res, err := tx.ExecContext(ctx, `
UPDATE runs
SET status = 'queued', run_at = NOW() + $3::interval, error = $4,
    locked_by = NULL, locked_at = NULL, lease_expires_at = NULL
WHERE id = $1 AND locked_by = $2 AND status = 'running'`,
			run.ID, workerID, pgInterval(delay), runErr)
		if err != nil {
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "scheduling retry")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return xynerrors.New(xynerrors.KindLostLease,
				"run %s is no longer held by %s", run.ID, workerID)
		}

		_, err = e.emitter.EmitTx(ctx, tx, events.RunRetryScheduled, run.CorrelationID,
			events.WithRun(run.ID),
			events.WithData(store.JSONMap{
				"attempt":          run.Attempt,
				"backoff_duration": delay.String(),
			}))
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// FailTerminal moves a run straight to failed with no retry. Used when
// attempts are exhausted and for deterministic failures (template
// resolution, step budget, run deadline) where retrying cannot help.
func (e *Engine) FailTerminal(ctx context.Context, run *store.Run, workerID string, runErr store.JSONMap) error {
	return e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE runs
SET status = 'failed', error = $3, completed_at = NOW(),
    locked_by = NULL, lease_expires_at = NULL
WHERE id = $1 AND locked_by = $2 AND status = 'running'`,
			run.ID, workerID, runErr)
		if err != nil {
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "failing run")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return xynerrors.New(xynerrors.KindLostLease,
				"run %s is no longer held by %s", run.ID, workerID)
		}

		_, err = e.emitter.EmitTx(ctx, tx, events.RunFailed, run.CorrelationID,
			events.WithRun(run.ID),
			events.WithData(store.JSONMap{"attempt": run.Attempt, "error": map[string]any(runErr)}))
		return err
	})
}

// CancelRunning finalizes a cooperative cancellation observed by the
// executor at a step boundary.
func (e *Engine) CancelRunning(ctx context.Context, run *store.Run, workerID string) error {
	return e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE runs
SET status = 'cancelled', completed_at = NOW(),
    locked_by = NULL, lease_expires_at = NULL
WHERE id = $1 AND locked_by = $2 AND status = 'running'`,
			run.ID, workerID)
		if err != nil {
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "cancelling run")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return xynerrors.New(xynerrors.KindLostLease,
				"run %s is no longer held by %s", run.ID, workerID)
		}

		_, err = e.emitter.EmitTx(ctx, tx, events.RunCancelled, run.CorrelationID,
			events.WithRun(run.ID))
		return err
	})
}

// RequestCancel flips the cooperative flag; a queued run cancels
// immediately, a running run cancels at its next step boundary.
func (e *Engine) RequestCancel(ctx context.Context, runID, actor string) (*store.Run, error) {
	var run *store.Run
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		run, err = e.store.GetRunTx(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return xynerrors.New(xynerrors.KindConflict,
				"run %s is already %s", runID, run.Status)
		}

		if run.Status == store.RunStatusQueued {
			if _, err := e.store.CancelQueuedRun(ctx, tx, runID); err != nil {
				return err
			}
			run.Status = store.RunStatusCancelled
			_, err = e.emitter.EmitTx(ctx, tx, events.RunCancelled, run.CorrelationID,
				events.WithRun(runID), events.WithActor(actor))
			return err
		}

		if _, err := e.store.RequestCancel(ctx, tx, runID); err != nil {
			return err
		}
		run.CancelRequested = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// pgInterval renders a duration for a ::interval bind.
func pgInterval(d time.Duration) string {
	return d.String()
}
