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

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func testScope() Scope {
	return Scope{
		Inputs: map[string]any{
			"pack_ref": "core.domain@v1",
			"count":    float64(3),
		},
		StepOutputs: map[string]map[string]any{
			"provision": {
				"schema_name": "pack_core_domain",
				"created":     true,
			},
		},
	}
}

func TestResolveInputReference(t *testing.T) {
	out, err := Resolve(map[string]any{"ref": "{{inputs.pack_ref}}"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "core.domain@v1", out["ref"])
}

func TestResolveStepOutputReference(t *testing.T) {
	out, err := Resolve(map[string]any{"schema": "{{steps.provision.outputs.schema_name}}"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "pack_core_domain", out["schema"])
}

func TestSingleReferencePreservesType(t *testing.T) {
	out, err := Resolve(map[string]any{
		"n":       "{{inputs.count}}",
		"created": "{{steps.provision.outputs.created}}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["n"])
	assert.Equal(t, true, out["created"])
}

func TestEmbeddedReferenceInterpolatesAsText(t *testing.T) {
	out, err := Resolve(map[string]any{
		"msg": "installing {{inputs.pack_ref}} into {{steps.provision.outputs.schema_name}}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "installing core.domain@v1 into pack_core_domain", out["msg"])
}

func TestResolveNestedStructures(t *testing.T) {
	out, err := Resolve(map[string]any{
		"nested": map[string]any{"ref": "{{inputs.pack_ref}}"},
		"list":   []any{"{{inputs.count}}", "plain"},
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "core.domain@v1", out["nested"].(map[string]any)["ref"])
	assert.Equal(t, float64(3), out["list"].([]any)[0])
	assert.Equal(t, "plain", out["list"].([]any)[1])
}

func TestUnknownInputFails(t *testing.T) {
	_, err := Resolve(map[string]any{"x": "{{inputs.missing}}"}, testScope())
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindTemplateResolution, xynerrors.KindOf(err))
}

func TestUnknownStepFails(t *testing.T) {
	_, err := Resolve(map[string]any{"x": "{{steps.nope.outputs.y}}"}, testScope())
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindTemplateResolution, xynerrors.KindOf(err))
}

func TestMalformedReferenceFails(t *testing.T) {
	_, err := Resolve(map[string]any{"x": "{{steps.provision.schema_name}}"}, testScope())
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindTemplateResolution, xynerrors.KindOf(err))
}

func TestPlainStringsPassThrough(t *testing.T) {
	out, err := Resolve(map[string]any{"x": "no references here", "n": 42}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "no references here", out["x"])
	assert.Equal(t, 42, out["n"])
}
