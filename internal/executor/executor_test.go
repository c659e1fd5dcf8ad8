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

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xynlabs/xyn/internal/blueprint"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func TestInvokeHandlerConvertsPanicToHandlerCrash(t *testing.T) {
	h := func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		panic("boom")
	}

	out, err := invokeHandler(context.Background(), nil, h, nil)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, xynerrors.KindHandlerCrash, xynerrors.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestInvokeHandlerWrapsUntypedErrors(t *testing.T) {
	h := func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	}

	_, err := invokeHandler(context.Background(), nil, h, nil)
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindStepHandlerError, xynerrors.KindOf(err))
}

func TestInvokeHandlerPreservesTypedErrors(t *testing.T) {
	h := func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		return nil, xynerrors.New(xynerrors.KindPackAlreadyInstalled, "already there")
	}

	_, err := invokeHandler(context.Background(), nil, h, nil)
	require.Error(t, err)
	assert.Equal(t, xynerrors.KindPackAlreadyInstalled, xynerrors.KindOf(err))
}

func TestInvokeHandlerPassesThroughOutputs(t *testing.T) {
	h := func(ctx context.Context, bc blueprint.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"answer": 42}, nil
	}

	out, err := invokeHandler(context.Background(), nil, h, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out["answer"])
}

func TestErrorPayloadShape(t *testing.T) {
	err := xynerrors.New(xynerrors.KindTemplateResolution, "input %q missing", "x").
		WithDetail("reference", "inputs.x")

	payload := errorPayload(err, "resolve")
	assert.Equal(t, "template_resolution_error", payload["kind"])
	assert.Equal(t, "resolve", payload["step"])
	assert.Contains(t, payload["message"], "missing")
	assert.Equal(t, "inputs.x", payload["details"].(map[string]any)["reference"])
}

func TestErrorPayloadUntypedDefaultsToHandlerError(t *testing.T) {
	payload := errorPayload(errors.New("plain"), "")
	assert.Equal(t, "step_handler_error", payload["kind"])
	_, hasStep := payload["step"]
	assert.False(t, hasStep)
}

func TestDeterministicKinds(t *testing.T) {
	cases := []struct {
		kind xynerrors.Kind
		want bool
	}{
		{xynerrors.KindTemplateResolution, true},
		{xynerrors.KindStepBudgetExceeded, true},
		{xynerrors.KindRunDeadlineExceeded, true},
		{xynerrors.KindPackAlreadyInstalled, true},
		{xynerrors.KindOwnershipViolation, true},
		{xynerrors.KindStepHandlerError, false},
		{xynerrors.KindHandlerCrash, false},
		{xynerrors.KindTransientDB, false},
	}

	for _, tc := range cases {
		err := xynerrors.New(tc.kind, "x")
		assert.Equal(t, tc.want, deterministic(err), "kind %s", tc.kind)
	}
}
