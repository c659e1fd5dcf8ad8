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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	c := Cursor{TS: ts, ID: "run-42"}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, decoded.TS.Equal(ts))
	assert.Equal(t, "run-42", decoded.ID)
}

func TestDecodeCursorEmptyIsNil(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, token := range []string{"not base64!!", "bm90IGpzb24"} {
		_, err := DecodeCursor(token)
		require.Error(t, err, "token %q", token)
		assert.Equal(t, xynerrors.KindValidation, xynerrors.KindOf(err))
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, ClampLimit(0))
	assert.Equal(t, DefaultPageLimit, ClampLimit(-5))
	assert.Equal(t, 25, ClampLimit(25))
	assert.Equal(t, MaxPageLimit, ClampLimit(MaxPageLimit+1))
}
