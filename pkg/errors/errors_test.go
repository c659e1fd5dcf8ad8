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

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "direct typed error",
			err:  New(KindLostLease, "lease gone"),
			want: KindLostLease,
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("executing run: %w", New(KindHandlerCrash, "panic: boom")),
			want: KindHandlerCrash,
		},
		{
			name: "untyped error",
			err:  stderrors.New("plain"),
			want: "",
		},
		{
			name: "nil",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(KindTransientDB, cause, "claim statement failed")

	require.True(t, stderrors.Is(err, cause))
	assert.Equal(t, KindTransientDB, KindOf(err))
	assert.Contains(t, err.Error(), "transient_db_error")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithDetail(t *testing.T) {
	err := New(KindInstallationInProgress, "pack core.domain@v1 is installing").
		WithDetail("existing_installation_id", "abc").
		WithDetail("existing_run_id", "def")

	details := DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "abc", details["existing_installation_id"])
	assert.Equal(t, "def", details["existing_run_id"])
}

func TestIsInstallConflict(t *testing.T) {
	assert.True(t, IsInstallConflict(KindPackAlreadyInstalled))
	assert.True(t, IsInstallConflict(KindInstallationInProgress))
	assert.True(t, IsInstallConflict(KindInstallationPreviouslyFailed))
	assert.True(t, IsInstallConflict(KindConflictingState))
	assert.False(t, IsInstallConflict(KindOwnershipViolation))
	assert.False(t, IsInstallConflict(KindNotFound))
}
