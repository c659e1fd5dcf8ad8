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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
)

func newTestServer(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(sqlx.NewDb(db, "pgx"), nil)
	em := events.NewEmitter(st, "local-dev", nil)
	eng := queue.New(st, em, 30*time.Second, queue.DefaultRetryPolicy, nil)

	srv := NewServer(Params{
		Store:   st,
		Engine:  eng,
		Emitter: em,
		EnvID:   "local-dev",
		Version: "test",
	})
	return srv.Router(), mock
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "now")
}

func TestGetRunNotFound(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRun(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := `{"name": "demo.echo", "inputs": {"msg": "hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "demo.echo", run.Name)
	assert.Equal(t, store.RunStatusQueued, run.Status)
	assert.NotEmpty(t, run.ID)
	assert.NotEmpty(t, run.CorrelationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunRequiresName(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"inputs": {}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func packRow() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "pack_ref", "name", "version", "pack_type", "manifest",
		"schema_name", "created_at", "updated_at",
	}).AddRow("pack-1", "core.domain@v1", "core.domain", "1.0.0", "domain",
		[]byte(`{}`), "pack_core_domain", now, now)
}

func installationRow(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	runID := "run-9"
	return sqlmock.NewRows([]string{
		"id", "pack_id", "pack_ref", "env_id", "status", "schema_mode",
		"schema_name", "migration_provider", "installed_version",
		"migration_state", "installed_at", "installed_by_run_id",
		"updated_by_run_id", "error", "last_error_at", "created_at", "updated_at",
	}).AddRow("inst-1", "pack-1", "core.domain@v1", "local-dev", status, "per_pack",
		"pack_core_domain", "sql", nil,
		nil, nil, runID,
		nil, nil, nil, now, now)
}

func TestInstallPackConflictInProgress(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).WillReturnRows(packRow())
	mock.ExpectQuery(`SELECT \* FROM pack_installations`).
		WillReturnRows(installationRow("installing"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/packs/core.domain@v1/install", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Detail map[string]any `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "installation_in_progress", body.Detail["error"])
	assert.Equal(t, "inst-1", body.Detail["existing_installation_id"])
	assert.Equal(t, "run-9", body.Detail["existing_run_id"])
}

func TestInstallPackCreatesRun(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).WillReturnRows(packRow())
	mock.ExpectQuery(`SELECT \* FROM pack_installations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/packs/core.domain@v1/install", nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["run_id"])
	assert.NotEmpty(t, body["correlation_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradePackAcceptsRun(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).WillReturnRows(packRow())
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/packs/core.domain@v2/upgrade", nil))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["run_id"])
	assert.NotEmpty(t, body["correlation_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradePackUnknownPack(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/packs/nope@v2/upgrade", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunChildren(t *testing.T) {
	router, mock := newTestServer(t)

	now := time.Now().UTC()
	childKey := "item-1"
	mock.ExpectQuery(`SELECT \* FROM runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "actor", "correlation_id", "created_at"}).
			AddRow("run-1", "order.flow", "running", "api", "corr-1", now))
	mock.ExpectQuery(`SELECT \* FROM run_edges`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_run_id", "child_run_id", "relation", "child_key", "created_at"}).
			AddRow("edge-1", "run-1", "run-2", "child", &childKey, now))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/children", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edges []store.RunEdge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, "run-2", edges[0].ChildRunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A non-uuid path parameter surfaces from the driver as a data exception;
// the API reports it as the caller's error.
func TestGetRunBadUUIDIsBadRequest(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM runs`).
		WillReturnError(&pgconn.PgError{
			Code:    "22P02",
			Message: `invalid input syntax for type uuid: "not-a-uuid"`,
		})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestPackStatusAvailableWhenNoInstallation(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).WillReturnRows(packRow())
	mock.ExpectQuery(`SELECT \* FROM pack_installations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/packs/core.domain@v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "available", body["status"])
	assert.Nil(t, body["installation"])
}

func TestPackStatusUnknownPack(t *testing.T) {
	router, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT \* FROM packs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/packs/nope@v1/status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-ID"))
}
