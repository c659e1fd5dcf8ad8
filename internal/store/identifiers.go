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
	"regexp"
	"strings"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// maxIdentifierLen matches the Postgres NAMEDATALEN-1 limit.
const maxIdentifierLen = 63

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateIdentifier checks an identifier derived from user input against a
// fixed character class and length limit before it is ever used in DDL.
func ValidateIdentifier(name string) error {
	if name == "" {
		return xynerrors.New(xynerrors.KindInvalidIdentifier, "identifier is empty")
	}
	if len(name) > maxIdentifierLen {
		return xynerrors.New(xynerrors.KindInvalidIdentifier, "identifier %q exceeds %d bytes", name, maxIdentifierLen)
	}
	if !identifierPattern.MatchString(name) {
		return xynerrors.New(xynerrors.KindInvalidIdentifier, "identifier %q contains characters outside [a-z0-9_]", name)
	}
	return nil
}

// NormalizeSchemaName derives a schema name from a pack ref, e.g.
// "core.domain@v1" becomes "pack_core_domain". The version suffix is dropped
// so upgrades reuse the namespace.
func NormalizeSchemaName(packRef string) (string, error) {
	ref := packRef
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.ToLower(ref)

	var b strings.Builder
	b.WriteString("pack_")
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	name = strings.TrimRight(name, "_")
	if name == "pack" {
		return "", xynerrors.New(xynerrors.KindInvalidIdentifier, "pack ref %q normalizes to an empty schema name", packRef)
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return name, nil
}

// QuoteIdentifier double-quotes an identifier for use in DDL. Callers must
// validate first; quoting is the second line of defense.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
