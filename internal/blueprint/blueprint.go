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

// Package blueprint defines executable workflow plans and their registry.
// A blueprint is an ordered list of steps; the executor compiles it to step
// rows and drives the handlers in sequence.
package blueprint

import (
	"context"
	"log/slog"

	"github.com/xynlabs/xyn/internal/store"
)

// Context is the execution surface handed to step handlers. The executor
// implements it; handlers stay free of queue and lease mechanics.
type Context interface {
	// RunID identifies the run being executed.
	RunID() string

	// CorrelationID is the causality tag propagated to all emissions.
	CorrelationID() string

	// EnvID is the environment the run executes in.
	EnvID() string

	// Logger is pre-tagged with run and worker fields.
	Logger() *slog.Logger

	// Store grants handlers direct access to the relational store.
	Store() *store.Store

	// Progress emits xyn.step.progress with the given payload.
	Progress(ctx context.Context, data store.JSONMap) error

	// Spawn enqueues a child run linked by an idempotency key. Calling it
	// twice with the same key returns the same child.
	Spawn(ctx context.Context, childKey string, params store.NewRunParams) (*store.Run, error)
}

// HandlerFunc executes one step. Params arrive with template references
// already resolved; the returned map becomes the step's outputs.
type HandlerFunc func(ctx context.Context, bc Context, params map[string]any) (map[string]any, error)

// StepSpec declares one step of a blueprint plan.
type StepSpec struct {
	// Name is the step's stable identifier, referenced by
	// {{steps.<name>.outputs.<key>}} in later steps.
	Name string

	// Kind discriminates the handler variant.
	Kind store.StepKind

	// Params may reference run inputs and prior step outputs.
	Params map[string]any

	// Handler runs the step. Gate steps carry no handler; the executor
	// records them as skipped.
	Handler HandlerFunc
}

// Blueprint is a named, ordered plan of steps.
type Blueprint struct {
	// Name is the blueprint_ref runs are dispatched by.
	Name string

	// Steps execute strictly in order.
	Steps []StepSpec

	// MaxAttempts caps run attempts; nil inherits the queue default
	// (unbounded).
	MaxAttempts *int
}
