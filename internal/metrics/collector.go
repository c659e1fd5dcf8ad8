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
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/log"
)

// Collector refreshes the gauges at a fixed cadence, independent of the
// worker slots. Each tick opens an ephemeral session, runs the four indexed
// queries, and closes it. A failed tick is logged and the next one proceeds.
type Collector struct {
	db       *sqlx.DB
	interval time.Duration
	logger   *slog.Logger
}

// NewCollector builds a collector. Zero interval selects the 5s default.
func NewCollector(db *sqlx.DB, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:       db,
		interval: interval,
		logger:   log.WithComponent(logger, "metrics"),
	}
}

// Run ticks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("metrics collector started", slog.Duration("interval", c.interval))
	defer c.logger.Info("metrics collector stopped")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("metrics tick failed", log.Error(err))
			}
		}
	}
}

// Collect performs one tick.
func (c *Collector) Collect(ctx context.Context) error {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.collectStatusCounts(ctx, conn); err != nil {
		return err
	}
	if err := c.collectReadiness(ctx, conn); err != nil {
		return err
	}
	if err := c.collectOldestReady(ctx, conn); err != nil {
		return err
	}
	return c.collectLeases(ctx, conn)
}

func (c *Collector) collectStatusCounts(ctx context.Context, conn *sqlx.Conn) error {
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}
	err := conn.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM runs GROUP BY status`)
	if err != nil {
		return err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	for _, status := range knownStatuses {
		queueDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
	return nil
}

func (c *Collector) collectReadiness(ctx context.Context, conn *sqlx.Conn) error {
	var row struct {
		Ready  int `db:"ready"`
		Future int `db:"future"`
	}
	err := conn.GetContext(ctx, &row, `
SELECT
    COUNT(*) FILTER (WHERE run_at <= NOW()) AS ready,
    COUNT(*) FILTER (WHERE run_at > NOW()) AS future
FROM runs WHERE status = 'queued'`)
	if err != nil {
		return err
	}
	queueReadyDepth.Set(float64(row.Ready))
	queueFutureDepth.Set(float64(row.Future))
	return nil
}

func (c *Collector) collectOldestReady(ctx context.Context, conn *sqlx.Conn) error {
	var seconds float64
	err := conn.GetContext(ctx, &seconds, `
SELECT COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(queued_at))), 0)
FROM runs WHERE status = 'queued' AND run_at <= NOW()`)
	if err != nil {
		return err
	}
	queueOldestReadySeconds.Set(seconds)
	return nil
}

func (c *Collector) collectLeases(ctx context.Context, conn *sqlx.Conn) error {
	var row struct {
		Active  int `db:"active"`
		Expired int `db:"expired"`
	}
	err := conn.GetContext(ctx, &row, `
SELECT
    COUNT(*) FILTER (WHERE lease_expires_at >= NOW()) AS active,
    COUNT(*) FILTER (WHERE lease_expires_at < NOW()) AS expired
FROM runs WHERE status = 'running'`)
	if err != nil {
		return err
	}
	runningWithActiveLease.Set(float64(row.Active))
	runningWithExpiredLease.Set(float64(row.Expired))
	return nil
}
