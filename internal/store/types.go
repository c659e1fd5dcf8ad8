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
	"time"
)

// RunStatus is the finite state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is one of the terminal states.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the finite state of a step.
type StepStatus string

const (
	StepStatusCreated   StepStatus = "created"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepKind discriminates step handler variants.
type StepKind string

const (
	StepKindActionTask StepKind = "action_task"
	StepKindAgentTask  StepKind = "agent_task"
	StepKindGate       StepKind = "gate"
	StepKindTransform  StepKind = "transform"
)

// InstallStatus is the finite state of a pack installation.
type InstallStatus string

const (
	InstallStatusAvailable    InstallStatus = "available"
	InstallStatusInstalling   InstallStatus = "installing"
	InstallStatusInstalled    InstallStatus = "installed"
	InstallStatusUpgrading    InstallStatus = "upgrading"
	InstallStatusFailed       InstallStatus = "failed"
	InstallStatusUninstalling InstallStatus = "uninstalling"
)

// SchemaMode selects the namespace strategy for a pack installation.
type SchemaMode string

const (
	SchemaModePerPack SchemaMode = "per_pack"
	SchemaModeShared  SchemaMode = "shared"
)

// Run is a durable execution of a named workflow with inputs, status, and
// lineage. All timestamps are UTC.
type Run struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	BlueprintRef    *string    `db:"blueprint_ref" json:"blueprint_ref,omitempty"`
	Status          RunStatus  `db:"status" json:"status"`
	Actor           string     `db:"actor" json:"actor"`
	CorrelationID   string     `db:"correlation_id" json:"correlation_id"`
	Inputs          JSONMap    `db:"inputs" json:"inputs"`
	Outputs         JSONMap    `db:"outputs" json:"outputs,omitempty"`
	Error           JSONMap    `db:"error" json:"error,omitempty"`
	Priority        int        `db:"priority" json:"priority"`
	RunAt           time.Time  `db:"run_at" json:"run_at"`
	Attempt         int        `db:"attempt" json:"attempt"`
	MaxAttempts     *int       `db:"max_attempts" json:"max_attempts,omitempty"`
	CancelRequested bool       `db:"cancel_requested" json:"cancel_requested"`
	QueuedAt        *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	LockedAt        *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	LockedBy        *string    `db:"locked_by" json:"locked_by,omitempty"`
	LeaseExpiresAt  *time.Time `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ParentRunID     *string    `db:"parent_run_id" json:"parent_run_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Step is the atomic unit within a run, strictly ordered by Idx.
type Step struct {
	ID             string     `db:"id" json:"id"`
	RunID          string     `db:"run_id" json:"run_id"`
	Name           string     `db:"name" json:"name"`
	Idx            int        `db:"idx" json:"idx"`
	Kind           StepKind   `db:"kind" json:"kind"`
	Status         StepStatus `db:"status" json:"status"`
	Inputs         JSONMap    `db:"inputs" json:"inputs,omitempty"`
	Outputs        JSONMap    `db:"outputs" json:"outputs,omitempty"`
	Error          JSONMap    `db:"error" json:"error,omitempty"`
	LogsArtifactID *string    `db:"logs_artifact_id" json:"logs_artifact_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Event is an immutable, correlation-tagged record of an action.
type Event struct {
	ID            string    `db:"id" json:"id"`
	EventName     string    `db:"event_name" json:"event_name"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurred_at"`
	EnvID         string    `db:"env_id" json:"env_id"`
	Actor         string    `db:"actor" json:"actor"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id"`
	RunID         *string   `db:"run_id" json:"run_id,omitempty"`
	StepID        *string   `db:"step_id" json:"step_id,omitempty"`
	ResourceType  *string   `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID    *string   `db:"resource_id" json:"resource_id,omitempty"`
	Data          JSONMap   `db:"data" json:"data"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Artifact is an immutable, content-addressed blob associated with a
// run or step.
type Artifact struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Kind        string    `db:"kind" json:"kind"`
	ContentType string    `db:"content_type" json:"content_type"`
	ByteLength  *int64    `db:"byte_length" json:"byte_length,omitempty"`
	SHA256      *string   `db:"sha256" json:"sha256,omitempty"`
	RunID       *string   `db:"run_id" json:"run_id,omitempty"`
	StepID      *string   `db:"step_id" json:"step_id,omitempty"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	Metadata    JSONMap   `db:"metadata" json:"metadata"`
	StoragePath *string   `db:"storage_path" json:"storage_path,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RunEdge links a parent run to a spawned child run. The partial unique
// index on (parent_run_id, child_key) makes spawning idempotent.
type RunEdge struct {
	ID          string    `db:"id" json:"id"`
	ParentRunID string    `db:"parent_run_id" json:"parent_run_id"`
	ChildRunID  string    `db:"child_run_id" json:"child_run_id"`
	Relation    string    `db:"relation" json:"relation"`
	ChildKey    *string   `db:"child_key" json:"child_key,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Pack is a catalog entry describing tables and migrations. Installing it
// provisions a schema namespace for an environment.
type Pack struct {
	ID         string    `db:"id" json:"id"`
	PackRef    string    `db:"pack_ref" json:"pack_ref"`
	Name       string    `db:"name" json:"name"`
	Version    string    `db:"version" json:"version"`
	PackType   string    `db:"pack_type" json:"pack_type"`
	Manifest   JSONMap   `db:"manifest" json:"manifest"`
	SchemaName string    `db:"schema_name" json:"schema_name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// PackInstallation is the per-environment record of a pack's deployed state.
// The ck_pack_installations_installed_invariants check constraint enforces
// that status=installed implies schema_name, installed_version, installed_at,
// and installed_by_run_id are all non-null.
type PackInstallation struct {
	ID                string        `db:"id" json:"id"`
	PackID            string        `db:"pack_id" json:"pack_id"`
	PackRef           string        `db:"pack_ref" json:"pack_ref"`
	EnvID             string        `db:"env_id" json:"env_id"`
	Status            InstallStatus `db:"status" json:"status"`
	SchemaMode        SchemaMode    `db:"schema_mode" json:"schema_mode"`
	SchemaName        *string       `db:"schema_name" json:"schema_name,omitempty"`
	MigrationProvider string        `db:"migration_provider" json:"migration_provider"`
	InstalledVersion  *string       `db:"installed_version" json:"installed_version,omitempty"`
	MigrationState    *string       `db:"migration_state" json:"migration_state,omitempty"`
	InstalledAt       *time.Time    `db:"installed_at" json:"installed_at,omitempty"`
	InstalledByRunID  *string       `db:"installed_by_run_id" json:"installed_by_run_id,omitempty"`
	UpdatedByRunID    *string       `db:"updated_by_run_id" json:"updated_by_run_id,omitempty"`
	Error             JSONMap       `db:"error" json:"error,omitempty"`
	LastErrorAt       *time.Time    `db:"last_error_at" json:"last_error_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Migration is one entry of a pack manifest's ordered migration list.
type Migration struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	SQL         string `json:"sql" yaml:"sql"`
}
