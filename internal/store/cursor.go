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
	"encoding/base64"
	"encoding/json"
	"time"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// DefaultPageLimit applies when a list request does not set a limit.
const DefaultPageLimit = 50

// MaxPageLimit caps a caller-provided limit.
const MaxPageLimit = 500

// Cursor is an opaque pagination token over a (timestamp, id) sort key.
type Cursor struct {
	TS time.Time `json:"ts"`
	ID string    `json:"id"`
}

// Encode serializes the cursor as URL-safe base64.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor token. Empty input yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindValidation, err, "malformed cursor")
	}
	return &c, nil
}

// ClampLimit normalizes a caller-provided page limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
