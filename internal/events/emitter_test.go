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

package events

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xynlabs/xyn/internal/store"
)

func newTestEmitter(t *testing.T) (*Emitter, *store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(sqlx.NewDb(db, "pgx"), nil)
	return NewEmitter(st, "local-dev", nil), st, mock
}

func TestEmitReturnsStoredEventID(t *testing.T) {
	em, _, mock := newTestEmitter(t)

	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := em.Emit(context.Background(), StepProgress, "corr-1",
		WithRun("run-1"), WithData(store.JSONMap{"pct": 50}))
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitTxReturnsStoredEventID(t *testing.T) {
	em, st, mock := newTestEmitter(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var id string
	err := st.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		id, err = em.EmitTx(context.Background(), tx, RunStarted, "corr-1", WithRun("run-1"))
		return err
	})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitFailureReturnsEmptyID(t *testing.T) {
	em, _, mock := newTestEmitter(t)

	mock.ExpectExec(`INSERT INTO events`).
		WillReturnError(assert.AnError)

	id, err := em.Emit(context.Background(), StepProgress, "corr-1")
	require.Error(t, err)
	assert.Empty(t, id)
}
