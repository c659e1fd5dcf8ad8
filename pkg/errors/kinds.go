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

package errors

// Kind is the stable error taxonomy exposed by the API and logs.
type Kind string

// Queue error kinds.
const (
	// KindNoClaimAvailable signals an empty queue to the worker loop.
	// It is internal and never user-visible.
	KindNoClaimAvailable Kind = "no_claim_available"

	// KindLostLease means the worker's conditional lease update affected
	// zero rows; another worker owns (or will reclaim) the run.
	KindLostLease Kind = "lost_lease"

	// KindRunDeadlineExceeded means a run exceeded its wall-clock limit.
	KindRunDeadlineExceeded Kind = "run_deadline_exceeded"

	// KindStepBudgetExceeded means a run created more steps than allowed.
	KindStepBudgetExceeded Kind = "step_budget_exceeded"
)

// Executor error kinds.
const (
	// KindHandlerCrash is a recovered panic inside a step handler.
	KindHandlerCrash Kind = "handler_crash"

	// KindStepHandlerError wraps a step handler's returned error.
	KindStepHandlerError Kind = "step_handler_error"

	// KindTemplateResolution means a step's parameter templates could not
	// be resolved; the handler was never invoked.
	KindTemplateResolution Kind = "template_resolution_error"

	// KindBlueprintNotFound means no blueprint is registered under the
	// run's blueprint reference.
	KindBlueprintNotFound Kind = "blueprint_not_found"
)

// Pack installation error kinds.
const (
	KindPackAlreadyInstalled         Kind = "pack_already_installed"
	KindInstallationInProgress       Kind = "installation_in_progress"
	KindInstallationPreviouslyFailed Kind = "installation_previously_failed"
	KindConflictingState             Kind = "conflicting_state"
	KindOwnershipViolation           Kind = "ownership_violation"
	KindInvariantViolation           Kind = "invariant_violation"
	KindInvalidIdentifier            Kind = "invalid_identifier"
	KindMigrationApplyFailed         Kind = "migration_apply_failed"
	KindPackNotFound                 Kind = "pack_not_found"
)

// Store error kinds.
const (
	KindNotFound            Kind = "not_found"
	KindConstraintViolation Kind = "constraint_violation"
	KindConflict            Kind = "conflict"
	KindTransientDB         Kind = "transient_db_error"
)

// Validation is used for malformed client input on the HTTP surface.
const KindValidation Kind = "validation_error"

// installConflictKinds are the pack install kinds that surface as HTTP 409
// with the typed conflict body.
var installConflictKinds = map[Kind]bool{
	KindPackAlreadyInstalled:         true,
	KindInstallationInProgress:       true,
	KindInstallationPreviouslyFailed: true,
	KindConflictingState:             true,
}

// IsInstallConflict reports whether k is one of the pack install conflict
// kinds that map to a 409 typed error body.
func IsInstallConflict(k Kind) bool {
	return installConflictKinds[k]
}
