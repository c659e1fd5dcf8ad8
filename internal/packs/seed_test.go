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

package packs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xynlabs/xyn/internal/store"
)

const sampleDefinition = `
pack_ref: core.domain@v1
name: core.domain
version: 1.0.0
schema_mode: per_pack
migrations:
  - id: 0001_entities
    description: base entity table
    sql: |
      CREATE TABLE IF NOT EXISTS entities (
          id UUID PRIMARY KEY,
          name TEXT NOT NULL
      );
`

func writeDefinition(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "core-domain.yaml", sampleDefinition)

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "core.domain@v1", def.PackRef)
	assert.Equal(t, "1.0.0", def.Version)
	assert.Equal(t, "domain", def.PackType)
	require.Len(t, def.Migrations, 1)
	assert.Equal(t, "0001_entities", def.Migrations[0].ID)
}

func TestLoadDefinitionMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "bad.yaml", "name: incomplete\n")

	_, err := LoadDefinition(path)
	require.Error(t, err)
}

func TestToPackDerivesSchemaName(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "core-domain.yaml", sampleDefinition)

	def, err := LoadDefinition(path)
	require.NoError(t, err)

	pack, err := def.ToPack()
	require.NoError(t, err)
	assert.Equal(t, "pack_core_domain", pack.SchemaName)

	manifest, err := ParseManifest(pack.Manifest)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaModePerPack, manifest.SchemaMode)
	require.Len(t, manifest.Migrations, 1)
	assert.Contains(t, manifest.Migrations[0].SQL, "CREATE TABLE")
}
