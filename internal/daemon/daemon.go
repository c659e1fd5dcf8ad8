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

// Package daemon composes the runtime: store, queue engine, worker slots,
// reclaimer, metrics collector, and the HTTP surface, with coordinated
// startup and graceful drain.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xynlabs/xyn/internal/api"
	"github.com/xynlabs/xyn/internal/artifacts"
	"github.com/xynlabs/xyn/internal/blueprint"
	"github.com/xynlabs/xyn/internal/config"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/executor"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/metrics"
	"github.com/xynlabs/xyn/internal/packs"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/tracing"
)

// Options selects which roles this process hosts.
type Options struct {
	// ServeAPI enables the HTTP listener.
	ServeAPI bool

	// RunWorkers enables the claim-execute slots, the reclaimer, and the
	// metrics collector.
	RunWorkers bool

	// Version is stamped into /health.
	Version string
}

// Daemon is one xynd process.
type Daemon struct {
	cfg       *config.Config
	opts      Options
	logger    *slog.Logger
	store     *store.Store
	engine    *queue.Engine
	emitter   *events.Emitter
	registry  *blueprint.Registry
	exec      *executor.Executor
	collector *metrics.Collector
	blobs     *artifacts.FS
	tracer    *tracing.Provider
	apiServer *api.Server
}

// New connects to the store, verifies or applies the schema, and wires the
// components.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "daemon")

	tracer, err := tracing.NewProvider("xynd", opts.Version, cfg.TraceStdout)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Bootstrap(ctx, cfg.AutoCreateSchema, cfg.RequiredMigrations); err != nil {
		st.Close()
		return nil, err
	}

	emitter := events.NewEmitter(st, cfg.EnvID, logger)
	engine := queue.New(st, emitter, cfg.LeaseDuration, queue.RetryPolicy{
		Base:       cfg.RetryBackoffBase,
		Cap:        cfg.RetryBackoffCap,
		Multiplier: 2,
	}, logger)

	registry := blueprint.NewRegistry()
	blueprint.RegisterBuiltins(registry)
	packs.NewInstaller(st, emitter, logger).Register(registry)

	blobs := artifacts.NewFS(cfg.ArtifactsDir, st, cfg.EnvID, logger)

	exec := executor.New(executor.Params{
		Store:       st,
		Engine:      engine,
		Emitter:     emitter,
		Registry:    registry,
		Blobs:       blobs,
		EnvID:       cfg.EnvID,
		RunDeadline: cfg.RunDeadline,
		MaxSteps:    cfg.MaxStepsPerRun,
		Logger:      logger,
	})

	d := &Daemon{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		store:     st,
		engine:    engine,
		emitter:   emitter,
		registry:  registry,
		exec:      exec,
		collector: metrics.NewCollector(st.DB(), cfg.MetricsInterval, logger),
		blobs:     blobs,
		tracer:    tracer,
	}

	if opts.ServeAPI {
		d.apiServer = api.NewServer(api.Params{
			Store:   st,
			Engine:  engine,
			Emitter: emitter,
			Blobs:   blobs,
			EnvID:   cfg.EnvID,
			Version: opts.Version,
			Logger:  logger,
		})
	}
	return d, nil
}

// Registry exposes the blueprint registry for embedding processes.
func (d *Daemon) Registry() *blueprint.Registry {
	return d.registry
}

// Run blocks until ctx is cancelled, then drains: in-flight runs finish
// their current transition and the HTTP server shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if d.opts.RunWorkers {
		for slot := 0; slot < d.cfg.WorkerSlots; slot++ {
			w := executor.NewWorker(d.cfg.WorkerID, slot, d.engine, d.exec, d.cfg.IdlePoll, d.logger)
			g.Go(func() error { return w.Run(ctx) })
		}
		g.Go(func() error { return d.reclaimLoop(ctx) })
		g.Go(func() error { return d.collector.Run(ctx) })
	}

	if d.apiServer != nil {
		g.Go(func() error { return d.serveHTTP(ctx) })
	}

	err := g.Wait()
	d.shutdown()
	return err
}

// reclaimLoop returns expired running runs to the queue at lease/2
// cadence. Every process runs it; the update is idempotent across racers.
func (d *Daemon) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ReclaimInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.engine.Reclaim(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("reclaim pass failed", log.Error(err))
			}
		}
	}
}

func (d *Daemon) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.apiServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("http server listening", slog.String("addr", d.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.tracer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("tracer shutdown failed", log.Error(err))
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("store close failed", log.Error(err))
	}
	d.logger.Info("daemon stopped")
}
