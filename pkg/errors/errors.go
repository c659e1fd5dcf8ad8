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

// Package errors defines the typed error taxonomy shared by the store, the
// queue engine, the executor, and the HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a kinded error with an optional structured detail payload.
// Details keys become part of API error bodies, so they use snake_case.
type Error struct {
	// Kind classifies the failure; see kinds.go.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Details carries structured context (e.g. existing_installation_id).
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail returns e with the detail key set. The receiver is mutated and
// returned for chaining at construction sites.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the Kind of err, unwrapping as needed. Errors outside the
// taxonomy report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the detail payload of err, or nil for untyped errors.
func DetailsOf(err error) map[string]any {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Details
	}
	return nil
}

// As is a convenience re-export so callers need only one errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a convenience re-export so callers need only one errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
