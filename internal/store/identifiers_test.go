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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

func TestValidateIdentifier(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"pack_core_domain", true},
		{"_leading_underscore", true},
		{"a", true},
		{"", false},
		{"Pack", false},
		{"1pack", false},
		{"pack-core", false},
		{"pack core", false},
		{`pack"; DROP TABLE runs; --`, false},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
	}

	for _, tc := range cases {
		err := ValidateIdentifier(tc.name)
		if tc.valid {
			assert.NoError(t, err, "identifier %q", tc.name)
		} else {
			require.Error(t, err, "identifier %q", tc.name)
			assert.Equal(t, xynerrors.KindInvalidIdentifier, xynerrors.KindOf(err))
		}
	}
}

func TestNormalizeSchemaNameDropsVersionSuffix(t *testing.T) {
	name, err := NormalizeSchemaName("core.domain@v1")
	require.NoError(t, err)
	assert.Equal(t, "pack_core_domain", name)

	// Same pack at another version shares the namespace.
	other, err := NormalizeSchemaName("core.domain@v2")
	require.NoError(t, err)
	assert.Equal(t, name, other)
}

func TestNormalizeSchemaNameLowersAndReplaces(t *testing.T) {
	name, err := NormalizeSchemaName("Acme.CRM-Lite")
	require.NoError(t, err)
	assert.Equal(t, "pack_acme_crm_lite", name)
}

func TestNormalizeSchemaNameTruncatesToIdentifierLimit(t *testing.T) {
	name, err := NormalizeSchemaName(strings.Repeat("x", 100) + "@v1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(name), 63)
	assert.NoError(t, ValidateIdentifier(name))
}

func TestNormalizeSchemaNameRejectsEmptyRef(t *testing.T) {
	for _, ref := range []string{"", "@v1", "---"} {
		_, err := NormalizeSchemaName(ref)
		require.Error(t, err, "ref %q", ref)
		assert.Equal(t, xynerrors.KindInvalidIdentifier, xynerrors.KindOf(err))
	}
}

func TestQuoteIdentifierEscapesQuotes(t *testing.T) {
	assert.Equal(t, `"pack_core"`, QuoteIdentifier("pack_core"))
	assert.Equal(t, `"pa""ck"`, QuoteIdentifier(`pa"ck`))
}
