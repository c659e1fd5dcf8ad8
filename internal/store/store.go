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

// Package store provides typed persistence over the relational store.
// It is the single coordination substrate of the runtime: run claiming,
// lease management, and pack installation invariants all compile down to
// row-level operations defined here and in the queue engine.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	// Registers the pgx stdlib driver under the "pgx" name.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/xynlabs/xyn/internal/log"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Store wraps the database pool with typed entity operations.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the relational store and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, xynerrors.Wrap(xynerrors.KindTransientDB, err, "opening database pool")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xynerrors.Wrap(xynerrors.KindTransientDB, err, "connecting to database")
	}

	return New(db, logger), nil
}

// New wraps an existing pool. Used by tests with sqlmock.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: log.WithComponent(logger, "store")}
}

// DB exposes the underlying pool for components that own their SQL
// (queue engine, metrics collector).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Composite writes (entity mutation + event emission) MUST go
// through here so they commit atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapPgError(err, "beginning transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("rollback failed", log.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPgError(err, "committing transaction")
	}
	return nil
}

// maxStatementAttempts bounds the statement-level retry for transient
// database errors.
const maxStatementAttempts = 3

// RetryTransient retries fn for transient database errors with bounded
// backoff (3 attempts). Non-transient errors return immediately.
func (s *Store) RetryTransient(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), maxStatementAttempts-1),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if xynerrors.KindOf(err) != xynerrors.KindTransientDB {
			return backoff.Permanent(err)
		}
		s.logger.Warn("transient database error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			log.Error(err),
		)
		return err
	}, policy)
}
