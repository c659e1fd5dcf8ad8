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

// Package tracing provides correlation ID propagation and the optional
// OpenTelemetry trace provider.
package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderCorrelationID is the inbound/outbound correlation header. The
// X-Request-ID header is accepted as a fallback on ingress.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// maxCorrelationIDLen bounds caller-provided ids so they stay indexable.
const maxCorrelationIDLen = 128

type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

// NewCorrelationID mints a fresh correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID stores the id in the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom reads the id from the context, minting one when absent
// so callers always have a usable id.
func CorrelationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok && id != "" {
		return id
	}
	return NewCorrelationID()
}

// CorrelationMiddleware extracts or mints the correlation id, stores it in
// the request context, and echoes it on the response. Oversized ids are
// rejected.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = r.Header.Get(HeaderRequestID)
		}
		if len(id) > maxCorrelationIDLen {
			http.Error(w, "correlation id exceeds 128 bytes", http.StatusBadRequest)
			return
		}
		if id == "" {
			id = NewCorrelationID()
		}

		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}
