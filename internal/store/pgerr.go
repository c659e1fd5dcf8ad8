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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// mapPgError classifies a database error into the store error taxonomy.
// Unique violations become conflict, check/foreign-key/not-null violations
// become constraint_violation, connection and serialization classes become
// transient_db_error.
func mapPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return xynerrors.Wrap(xynerrors.KindNotFound, err, "%s", op)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return xynerrors.Wrap(xynerrors.KindConflict, err, "%s", op).
				WithDetail("constraint", pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "22"): // data exception, e.g. bad uuid text
			return xynerrors.Wrap(xynerrors.KindValidation, err, "%s", op)
		case strings.HasPrefix(pgErr.Code, "23"): // other integrity violations
			return xynerrors.Wrap(xynerrors.KindConstraintViolation, err, "%s", op).
				WithDetail("constraint", pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "40"): // serialization, deadlock
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
		case pgErr.Code == "57P01": // admin_shutdown
			return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
	}

	// Driver errors on a dying pool arrive as sql.ErrConnDone.
	if errors.Is(err, sql.ErrConnDone) {
		return xynerrors.Wrap(xynerrors.KindTransientDB, err, "%s", op)
	}

	// Anything else (syntax errors, bad parameters) is not retryable.
	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports whether err came from a unique constraint,
// optionally matching the constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
