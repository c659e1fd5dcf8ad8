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

package blueprint

import (
	"context"
	"errors"

	"github.com/xynlabs/xyn/internal/store"
)

// RegisterBuiltins adds the small demo blueprints used for smoke testing a
// deployment: demo.echo returns its inputs, demo.fail always fails.
func RegisterBuiltins(r *Registry) {
	r.Register(&Blueprint{
		Name: "demo.echo",
		Steps: []StepSpec{
			{
				Name:   "echo",
				Kind:   store.StepKindTransform,
				Params: map[string]any{"message": "{{inputs.message}}"},
				Handler: func(ctx context.Context, bc Context, params map[string]any) (map[string]any, error) {
					return map[string]any{"message": params["message"]}, nil
				},
			},
		},
	})

	three := 3
	r.Register(&Blueprint{
		Name:        "demo.fail",
		MaxAttempts: &three,
		Steps: []StepSpec{
			{
				Name: "fail",
				Kind: store.StepKindActionTask,
				Handler: func(ctx context.Context, bc Context, params map[string]any) (map[string]any, error) {
					return nil, errors.New("intentional failure")
				},
			},
		},
	})
}
