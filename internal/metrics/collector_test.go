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

package metrics

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectTick(mock sqlmock.Sqlmock, queued, running int) {
	mock.ExpectQuery(`SELECT status, COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", queued).
			AddRow("running", running))
	mock.ExpectQuery(`FILTER \(WHERE run_at`).
		WillReturnRows(sqlmock.NewRows([]string{"ready", "future"}).AddRow(queued, 0))
	mock.ExpectQuery(`EXTRACT\(EPOCH`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12.5))
	mock.ExpectQuery(`FILTER \(WHERE lease_expires_at`).
		WillReturnRows(sqlmock.NewRows([]string{"active", "expired"}).AddRow(running, 0))
}

func TestCollectUpdatesGauges(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	c := NewCollector(sqlx.NewDb(db, "pgx"), 0, nil)
	expectTick(mock, 3, 2)

	require.NoError(t, c.Collect(context.Background()))

	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth.WithLabelValues("queued")))
	assert.Equal(t, 2.0, testutil.ToFloat64(queueDepth.WithLabelValues("running")))
	assert.Equal(t, 3.0, testutil.ToFloat64(queueReadyDepth))
	assert.Equal(t, 0.0, testutil.ToFloat64(queueFutureDepth))
	assert.Equal(t, 12.5, testutil.ToFloat64(queueOldestReadySeconds))
	assert.Equal(t, 2.0, testutil.ToFloat64(runningWithActiveLease))
	assert.Equal(t, 0.0, testutil.ToFloat64(runningWithExpiredLease))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectResetsAbsentStatusesToZero(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	c := NewCollector(sqlx.NewDb(db, "pgx"), 0, nil)

	expectTick(mock, 5, 0)
	require.NoError(t, c.Collect(context.Background()))

	// Second tick with an empty table zeroes everything.
	mock.ExpectQuery(`SELECT status, COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))
	mock.ExpectQuery(`FILTER \(WHERE run_at`).
		WillReturnRows(sqlmock.NewRows([]string{"ready", "future"}).AddRow(0, 0))
	mock.ExpectQuery(`EXTRACT\(EPOCH`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0.0))
	mock.ExpectQuery(`FILTER \(WHERE lease_expires_at`).
		WillReturnRows(sqlmock.NewRows([]string{"active", "expired"}).AddRow(0, 0))
	require.NoError(t, c.Collect(context.Background()))

	assert.Equal(t, 0.0, testutil.ToFloat64(queueDepth.WithLabelValues("queued")))
	assert.Equal(t, 0.0, testutil.ToFloat64(queueOldestReadySeconds))
	assert.NoError(t, mock.ExpectationsWereMet())
}
