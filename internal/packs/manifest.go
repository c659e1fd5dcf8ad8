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

// Package packs implements the pack catalog workflow: seeding definitions
// and the installation blueprint with its claim/provision/migrate/finalize
// state machine.
package packs

import (
	"encoding/json"

	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Manifest is the typed view of a pack's manifest payload.
type Manifest struct {
	SchemaMode store.SchemaMode  `json:"schema_mode" yaml:"schema_mode"`
	Migrations []store.Migration `json:"migrations" yaml:"migrations"`
	DependsOn  []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ParseManifest decodes the manifest stored on a catalog row. Migration ids
// must be unique and non-empty; ordering is manifest order.
func ParseManifest(raw store.JSONMap) (*Manifest, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "encoding manifest")
	}
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "decoding manifest")
	}
	if m.SchemaMode == "" {
		m.SchemaMode = store.SchemaModePerPack
	}

	seen := make(map[string]bool, len(m.Migrations))
	for _, mig := range m.Migrations {
		if mig.ID == "" {
			return nil, xynerrors.New(xynerrors.KindValidation, "manifest migration with empty id")
		}
		if seen[mig.ID] {
			return nil, xynerrors.New(xynerrors.KindValidation, "duplicate migration id %q", mig.ID)
		}
		seen[mig.ID] = true
	}
	return &m, nil
}

// PendingMigrations returns the manifest migrations after migrationState.
// A nil state means none applied yet.
func (m *Manifest) PendingMigrations(migrationState *string) []store.Migration {
	if migrationState == nil || *migrationState == "" {
		return m.Migrations
	}
	for i, mig := range m.Migrations {
		if mig.ID == *migrationState {
			return m.Migrations[i+1:]
		}
	}
	// Unknown state: apply nothing rather than re-running from scratch.
	return nil
}
