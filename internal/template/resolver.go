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

// Package template resolves step parameter references of the form
// {{inputs.x}} and {{steps.<id>.outputs.y}} against run state.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

var refPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Scope holds the values references resolve against.
type Scope struct {
	// Inputs backs {{inputs.<key>}}.
	Inputs map[string]any

	// StepOutputs backs {{steps.<id>.outputs.<key>}}, keyed by step name.
	StepOutputs map[string]map[string]any
}

// Resolve walks params and substitutes every reference. A string that is a
// single reference resolves to the referenced value with its type preserved;
// references embedded in longer strings are interpolated as text. Unknown
// references yield a template_resolution_error.
func Resolve(params map[string]any, scope Scope) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := resolveValue(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v any, scope Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope)
	case map[string]any:
		return Resolve(val, scope)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope Scope) (any, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A string that is exactly one reference keeps the referenced type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return lookup(s[matches[0][2]:matches[0][3]], scope)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := lookup(s[m[2]:m[3]], scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookup(ref string, scope Scope) (any, error) {
	parts := strings.Split(ref, ".")
	switch {
	case len(parts) == 2 && parts[0] == "inputs":
		val, ok := scope.Inputs[parts[1]]
		if !ok {
			return nil, resolutionError(ref, "input %q is not defined", parts[1])
		}
		return val, nil

	case len(parts) == 4 && parts[0] == "steps" && parts[2] == "outputs":
		outputs, ok := scope.StepOutputs[parts[1]]
		if !ok {
			return nil, resolutionError(ref, "step %q has no recorded outputs", parts[1])
		}
		val, ok := outputs[parts[3]]
		if !ok {
			return nil, resolutionError(ref, "step %q has no output %q", parts[1], parts[3])
		}
		return val, nil

	default:
		return nil, resolutionError(ref, "reference %q is not of the form inputs.<key> or steps.<id>.outputs.<key>", ref)
	}
}

func resolutionError(ref, format string, args ...any) error {
	return xynerrors.New(xynerrors.KindTemplateResolution, format, args...).
		WithDetail("reference", ref)
}

// stringify renders a resolved value for interpolation into a longer
// string. Non-strings render as compact JSON.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
