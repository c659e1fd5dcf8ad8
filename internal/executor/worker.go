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
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Worker is one claim-execute slot. A daemon hosts several, each with its
// own slot id; they share the executor and engine but no mutable state.
type Worker struct {
	id       string
	engine   *queue.Engine
	exec     *Executor
	idlePoll time.Duration
	logger   *slog.Logger
}

// NewWorker builds a slot. slot distinguishes colocated workers in
// locked_by values.
func NewWorker(baseID string, slot int, engine *queue.Engine, exec *Executor, idlePoll time.Duration, logger *slog.Logger) *Worker {
	if idlePoll <= 0 {
		idlePoll = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := fmt.Sprintf("%s/%d", baseID, slot)
	return &Worker{
		id:       id,
		engine:   engine,
		exec:     exec,
		idlePoll: idlePoll,
		logger:   log.WithComponent(logger, "worker").With(slog.String("worker_id", id)),
	}
}

// ID returns the slot's locked_by identity.
func (w *Worker) ID() string {
	return w.id
}

// Run claims and executes runs until ctx is cancelled. A run in flight is
// finished before returning (draining); lost leases abort locally.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker slot started")
	defer w.logger.Info("worker slot stopped")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		run, err := w.engine.Claim(ctx, w.id)
		if err != nil {
			switch xynerrors.KindOf(err) {
			case xynerrors.KindNoClaimAvailable:
				// Expected when idle.
			case xynerrors.KindTransientDB:
				w.logger.Warn("claim failed", log.Error(err))
			default:
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("claim failed", log.Error(err))
			}
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		w.executeWithRenewal(ctx, run)
	}
}

// executeWithRenewal runs the executor alongside the lease renewal loop.
// Renewal runs at lease/3; a lost lease cancels the run-scoped context so
// the executor stops without further state writes.
func (w *Worker) executeWithRenewal(ctx context.Context, run *store.Run) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.renewLoop(runCtx, run.ID, cancel)
	}()

	err := w.exec.Execute(runCtx, run, w.id)
	cancel()
	<-renewDone

	if err != nil {
		if xynerrors.KindOf(err) == xynerrors.KindLostLease {
			w.logger.Warn("lost lease, aborted run locally",
				slog.String("run_id", run.ID))
			return
		}
		w.logger.Error("run execution failed",
			slog.String("run_id", run.ID), log.Error(err))
	}
}

func (w *Worker) renewLoop(ctx context.Context, runID string, lost context.CancelFunc) {
	interval := w.engine.Lease() / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.engine.Renew(ctx, runID, w.id)
			if err == nil {
				continue
			}
			if xynerrors.KindOf(err) == xynerrors.KindLostLease {
				w.logger.Warn("lease renewal lost",
					slog.String("run_id", runID), log.Error(err))
				lost()
				return
			}
			// Transient renewal failures are tolerated until the lease
			// actually expires.
			w.logger.Warn("lease renewal failed",
				slog.String("run_id", runID), log.Error(err))
		}
	}
}

// sleep waits the idle interval with up to 50% random jitter. Returns false
// when ctx ended during the wait.
func (w *Worker) sleep(ctx context.Context) bool {
	jitter := time.Duration(rand.Int63n(int64(w.idlePoll)/2 + 1))
	timer := time.NewTimer(w.idlePoll + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
