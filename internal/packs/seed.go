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
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Definition is the on-disk YAML shape of a pack.
type Definition struct {
	PackRef    string            `yaml:"pack_ref" validate:"required"`
	Name       string            `yaml:"name" validate:"required"`
	Version    string            `yaml:"version" validate:"required"`
	PackType   string            `yaml:"pack_type"`
	SchemaMode store.SchemaMode  `yaml:"schema_mode"`
	Migrations []store.Migration `yaml:"migrations" validate:"dive"`
	DependsOn  []string          `yaml:"depends_on"`
}

var validate = validator.New()

// LoadDefinition parses and validates one pack definition file.
func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "reading pack definition %s", path)
	}

	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "parsing pack definition %s", path)
	}
	if err := validate.Struct(&def); err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "invalid pack definition %s", path)
	}
	if def.PackType == "" {
		def.PackType = "domain"
	}
	if def.SchemaMode == "" {
		def.SchemaMode = store.SchemaModePerPack
	}
	return &def, nil
}

// ToPack converts a definition to a catalog row. The schema name is derived
// from the pack ref and validated.
func (d *Definition) ToPack() (*store.Pack, error) {
	schemaName, err := store.NormalizeSchemaName(d.PackRef)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		SchemaMode: d.SchemaMode,
		Migrations: d.Migrations,
		DependsOn:  d.DependsOn,
	}
	buf, err := json.Marshal(manifest)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "encoding manifest for %s", d.PackRef)
	}
	var manifestMap store.JSONMap
	if err := json.Unmarshal(buf, &manifestMap); err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "encoding manifest for %s", d.PackRef)
	}

	return &store.Pack{
		PackRef:    d.PackRef,
		Name:       d.Name,
		Version:    d.Version,
		PackType:   d.PackType,
		Manifest:   manifestMap,
		SchemaName: schemaName,
	}, nil
}

// SeedDir upserts every *.yaml/*.yml definition under dir into the catalog,
// in lexical order. Returns the refs seeded.
func SeedDir(ctx context.Context, s *store.Store, dir string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "reading pack directory %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var refs []string
	for _, path := range paths {
		def, err := LoadDefinition(path)
		if err != nil {
			return refs, err
		}
		pack, err := def.ToPack()
		if err != nil {
			return refs, err
		}
		if err := s.UpsertPack(ctx, pack); err != nil {
			return refs, err
		}
		logger.Info("seeded pack",
			slog.String("pack_ref", pack.PackRef),
			slog.String("version", pack.Version),
		)
		refs = append(refs, pack.PackRef)
	}
	return refs, nil
}
