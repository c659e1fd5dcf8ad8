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

// Package events defines the event catalog and the transactional emitter.
// Every state transition in the runtime commits an event in the same
// transaction as the state change it records.
package events

// Run lifecycle.
const (
	RunCreated        = "xyn.run.created"
	RunStarted        = "xyn.run.started"
	RunCompleted      = "xyn.run.completed"
	RunFailed         = "xyn.run.failed"
	RunCancelled      = "xyn.run.cancelled"
	RunReclaimed      = "xyn.run.reclaimed"
	RunRetryScheduled = "xyn.run.retry_scheduled"
)

// Step lifecycle.
const (
	StepStarted   = "xyn.step.started"
	StepCompleted = "xyn.step.completed"
	StepFailed    = "xyn.step.failed"
	StepSkipped   = "xyn.step.skipped"
	StepProgress  = "xyn.step.progress"
)

// Artifacts and packs.
const (
	ArtifactAttached     = "xyn.artifact.attached"
	PackInstallRequested = "xyn.pack.install.requested"
	PackInstallCompleted = "xyn.pack.install.completed"
	PackInstallFailed    = "xyn.pack.install.failed"
	PackUpgradeRequested = "xyn.pack.upgrade.requested"
	PackUpgradeCompleted = "xyn.pack.upgrade.completed"
	PackUpgradeFailed    = "xyn.pack.upgrade.failed"
)
