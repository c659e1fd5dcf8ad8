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

// Package executor drives a claimed run through its blueprint plan: step
// rows, handler invocation with crash isolation, cooperative cancellation,
// and delegation of terminal transitions to the queue engine.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xynlabs/xyn/internal/artifacts"
	"github.com/xynlabs/xyn/internal/blueprint"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/template"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Executor runs claimed runs. One instance serves all worker slots; it holds
// no per-run state.
type Executor struct {
	store       *store.Store
	engine      *queue.Engine
	emitter     *events.Emitter
	registry    *blueprint.Registry
	blobs       *artifacts.FS
	envID       string
	runDeadline time.Duration
	maxSteps    int
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Params configures an Executor.
type Params struct {
	Store       *store.Store
	Engine      *queue.Engine
	Emitter     *events.Emitter
	Registry    *blueprint.Registry
	Blobs       *artifacts.FS
	EnvID       string
	RunDeadline time.Duration
	MaxSteps    int
	Logger      *slog.Logger
}

// New builds an Executor. Zero deadline and step budget select the defaults
// (60 minutes, 200 steps).
func New(p Params) *Executor {
	if p.RunDeadline <= 0 {
		p.RunDeadline = time.Hour
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = 200
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:       p.Store,
		engine:      p.Engine,
		emitter:     p.Emitter,
		registry:    p.Registry,
		blobs:       p.Blobs,
		envID:       p.EnvID,
		runDeadline: p.RunDeadline,
		maxSteps:    p.MaxSteps,
		tracer:      otel.Tracer("xyn/executor"),
		logger:      log.WithComponent(logger, "executor"),
	}
}

// Execute drives one claimed run to a terminal transition or a retry
// requeue. ctx cancellation (lost lease, shutdown) aborts locally without
// further state writes.
func (x *Executor) Execute(ctx context.Context, run *store.Run, workerID string) error {
	ref := run.Name
	if run.BlueprintRef != nil && *run.BlueprintRef != "" {
		ref = *run.BlueprintRef
	}

	logger := log.WithCorrelationID(
		log.WithRunContext(x.logger, run.ID, ref), run.CorrelationID)

	ctx, span := x.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("xyn.run_id", run.ID),
		attribute.String("xyn.blueprint", ref),
		attribute.Int("xyn.attempt", run.Attempt),
	))
	defer span.End()

	bp, err := x.registry.Get(ref)
	if err != nil {
		logger.Error("blueprint lookup failed", log.Error(err))
		return x.engine.FailTerminal(ctx, run, workerID, errorPayload(err, ""))
	}
	if bp.MaxAttempts != nil && run.MaxAttempts == nil {
		run.MaxAttempts = bp.MaxAttempts
	}

	deadline := time.Now().Add(x.runDeadline)
	if run.StartedAt != nil {
		deadline = run.StartedAt.Add(x.runDeadline)
	}

	scope := template.Scope{
		Inputs:      map[string]any(run.Inputs),
		StepOutputs: make(map[string]map[string]any),
	}

	var lastOutputs store.JSONMap
	for _, spec := range bp.Steps {
		if err := ctx.Err(); err != nil {
			return xynerrors.Wrap(xynerrors.KindLostLease, err, "execution aborted")
		}

		cancelled, err := x.store.CancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			logger.Info("cancellation observed at step boundary", slog.String("step", spec.Name))
			return x.engine.CancelRunning(ctx, run, workerID)
		}

		if time.Now().After(deadline) {
			err := xynerrors.New(xynerrors.KindRunDeadlineExceeded,
				"run exceeded wall-clock limit %s", x.runDeadline)
			return x.engine.FailTerminal(ctx, run, workerID, errorPayload(err, spec.Name))
		}

		params, err := template.Resolve(spec.Params, scope)
		if err != nil {
			logger.Error("template resolution failed",
				slog.String("step", spec.Name), log.Error(err))
			return x.engine.FailTerminal(ctx, run, workerID, errorPayload(err, spec.Name))
		}

		if spec.Kind == store.StepKindGate || spec.Handler == nil {
			if err := x.recordSkipped(ctx, run, spec, params); err != nil {
				if xynerrors.KindOf(err) == xynerrors.KindStepBudgetExceeded {
					return x.engine.FailTerminal(ctx, run, workerID, errorPayload(err, spec.Name))
				}
				return err
			}
			continue
		}

		step, err := x.beginStep(ctx, run, spec, params)
		if err != nil {
			if xynerrors.KindOf(err) == xynerrors.KindStepBudgetExceeded {
				return x.engine.FailTerminal(ctx, run, workerID, errorPayload(err, spec.Name))
			}
			return err
		}

		stepLogger := log.WithCorrelationID(
			log.WithStepContext(x.logger, run.ID, step.ID), run.CorrelationID)
		capture := newStepLogCapture(run, step, stepLogger)
		bc := newRunContext(x, run, step, workerID, capture.Logger())

		stepCtx, stepSpan := x.tracer.Start(ctx, "step.execute", trace.WithAttributes(
			attribute.String("xyn.step", spec.Name),
			attribute.String("xyn.step_kind", string(spec.Kind)),
		))
		outputs, handlerErr := invokeHandler(stepCtx, bc, spec.Handler, params)
		if handlerErr != nil {
			stepSpan.RecordError(handlerErr)
			stepSpan.SetStatus(codes.Error, handlerErr.Error())
		}
		stepSpan.End()

		x.attachStepLogs(ctx, run, step, capture)

		if handlerErr != nil {
			if xynerrors.KindOf(handlerErr) == xynerrors.KindLostLease {
				return handlerErr
			}
			logger.Warn("step failed",
				slog.String("step", spec.Name), log.Error(handlerErr))
			if err := x.finishStep(ctx, run, step, store.StepStatusFailed, nil, errorPayload(handlerErr, spec.Name)); err != nil {
				return err
			}
			if deterministic(handlerErr) {
				return x.engine.FailTerminal(ctx, run, workerID, errorPayload(handlerErr, spec.Name))
			}
			_, err := x.engine.Fail(ctx, run, workerID, errorPayload(handlerErr, spec.Name))
			return err
		}

		if err := x.finishStep(ctx, run, step, store.StepStatusCompleted, store.JSONMap(outputs), nil); err != nil {
			return err
		}
		scope.StepOutputs[spec.Name] = outputs
		lastOutputs = store.JSONMap(outputs)
	}

	return x.engine.Complete(ctx, run.ID, workerID, lastOutputs)
}

// beginStep inserts the step row and transitions it to running, emitting
// xyn.step.started in the same transaction. The ordinal comes from the
// existing rows so retried attempts append rather than collide, and the
// count check enforces the per-run step budget across attempts.
func (x *Executor) beginStep(ctx context.Context, run *store.Run, spec blueprint.StepSpec, params map[string]any) (*store.Step, error) {
	now := time.Now().UTC()
	step := &store.Step{
		RunID:     run.ID,
		Name:      spec.Name,
		Kind:      spec.Kind,
		Status:    store.StepStatusRunning,
		Inputs:    store.JSONMap(params),
		StartedAt: &now,
	}

	err := x.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		idx, err := x.nextIdxWithinBudget(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		step.Idx = idx

		if err := x.store.InsertStepTx(ctx, tx, step); err != nil {
			return err
		}
		_, err = x.emitter.EmitTx(ctx, tx, events.StepStarted, run.CorrelationID,
			events.WithRun(run.ID), events.WithStep(step.ID),
			events.WithData(store.JSONMap{"name": spec.Name, "idx": step.Idx, "kind": string(spec.Kind)}))
		return err
	})
	if err != nil {
		// A duplicate ordinal means another worker is executing this run
		// after a reclaim; abort locally without touching its state.
		if store.IsUniqueViolation(err, "uq_steps_run_idx") {
			return nil, xynerrors.Wrap(xynerrors.KindLostLease, err,
				"step ordinal taken by a concurrent executor")
		}
		return nil, err
	}
	return step, nil
}

// nextIdxWithinBudget allocates the next step ordinal, refusing it when the
// run has already recorded its full step budget.
func (x *Executor) nextIdxWithinBudget(ctx context.Context, tx *sqlx.Tx, runID string) (int, error) {
	n, err := x.store.CountStepsTx(ctx, tx, runID)
	if err != nil {
		return 0, err
	}
	if n >= x.maxSteps {
		return 0, xynerrors.New(xynerrors.KindStepBudgetExceeded,
			"run exceeded step budget %d", x.maxSteps)
	}
	return x.store.NextStepIdxTx(ctx, tx, runID)
}

// finishStep writes a step's terminal state and its lifecycle event.
func (x *Executor) finishStep(ctx context.Context, run *store.Run, step *store.Step, status store.StepStatus, outputs, stepErr store.JSONMap) error {
	eventName := events.StepCompleted
	data := store.JSONMap{"name": step.Name, "idx": step.Idx}
	if status == store.StepStatusFailed {
		eventName = events.StepFailed
		data["error"] = map[string]any(stepErr)
	}

	return x.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := x.store.FinishStepTx(ctx, tx, step.ID, status, outputs, stepErr); err != nil {
			return err
		}
		_, err := x.emitter.EmitTx(ctx, tx, eventName, run.CorrelationID,
			events.WithRun(run.ID), events.WithStep(step.ID), events.WithData(data))
		return err
	})
}

// recordSkipped writes a gate step as skipped. Gates are manual-wait steps
// outside the v0 execution core.
func (x *Executor) recordSkipped(ctx context.Context, run *store.Run, spec blueprint.StepSpec, params map[string]any) error {
	step := &store.Step{
		RunID:  run.ID,
		Name:   spec.Name,
		Kind:   spec.Kind,
		Status: store.StepStatusSkipped,
		Inputs: store.JSONMap(params),
	}
	return x.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		idx, err := x.nextIdxWithinBudget(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		step.Idx = idx

		if err := x.store.InsertStepTx(ctx, tx, step); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE steps SET completed_at = NOW() WHERE id = $1`, step.ID); err != nil {
			return err
		}
		_, err = x.emitter.EmitTx(ctx, tx, events.StepSkipped, run.CorrelationID,
			events.WithRun(run.ID), events.WithStep(step.ID),
			events.WithData(store.JSONMap{"name": spec.Name, "idx": step.Idx}))
		return err
	})
}

// invokeHandler calls a step handler with panic isolation. A panic becomes
// a handler_crash error; untyped errors are wrapped as step_handler_error.
func invokeHandler(ctx context.Context, bc blueprint.Context, h blueprint.HandlerFunc, params map[string]any) (outputs map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = xynerrors.New(xynerrors.KindHandlerCrash, "step handler panicked: %v", r)
		}
	}()

	outputs, err = h(ctx, bc, params)
	if err != nil && xynerrors.KindOf(err) == "" {
		err = xynerrors.Wrap(xynerrors.KindStepHandlerError, err, "step handler failed")
	}
	return outputs, err
}

// errorPayload renders an error as the JSON stored on runs.error and
// steps.error.
func errorPayload(err error, stepName string) store.JSONMap {
	payload := store.JSONMap{
		"kind":    string(xynerrors.KindOf(err)),
		"message": err.Error(),
	}
	if payload["kind"] == "" {
		payload["kind"] = string(xynerrors.KindStepHandlerError)
	}
	if details := xynerrors.DetailsOf(err); details != nil {
		payload["details"] = details
	}
	if stepName != "" {
		payload["step"] = stepName
	}
	return payload
}

// deterministic reports error kinds for which a retry cannot change the
// outcome, so the run fails terminally regardless of attempts left.
func deterministic(err error) bool {
	switch xynerrors.KindOf(err) {
	case xynerrors.KindTemplateResolution,
		xynerrors.KindBlueprintNotFound,
		xynerrors.KindStepBudgetExceeded,
		xynerrors.KindRunDeadlineExceeded,
		xynerrors.KindInvalidIdentifier,
		xynerrors.KindPackAlreadyInstalled,
		xynerrors.KindInstallationInProgress,
		xynerrors.KindInstallationPreviouslyFailed,
		xynerrors.KindConflictingState,
		xynerrors.KindOwnershipViolation,
		xynerrors.KindInvariantViolation:
		return true
	}
	return false
}
