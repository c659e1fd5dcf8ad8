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

// Package api is the HTTP/JSON surface of the runtime, versioned under
// /api/v1. JSON keys are snake_case, timestamps ISO-8601 UTC, pagination
// cursor-based.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xynlabs/xyn/internal/artifacts"
	"github.com/xynlabs/xyn/internal/events"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/queue"
	"github.com/xynlabs/xyn/internal/store"
	"github.com/xynlabs/xyn/internal/tracing"
)

// Server bundles the handler dependencies.
type Server struct {
	store     *store.Store
	engine    *queue.Engine
	emitter   *events.Emitter
	blobs     *artifacts.FS
	envID     string
	version   string
	startedAt time.Time
	validate  *validator.Validate
	logger    *slog.Logger
}

// Params configures a Server.
type Params struct {
	Store   *store.Store
	Engine  *queue.Engine
	Emitter *events.Emitter
	Blobs   *artifacts.FS
	EnvID   string
	Version string
	Logger  *slog.Logger
}

// NewServer builds the API server.
func NewServer(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     p.Store,
		engine:    p.Engine,
		emitter:   p.Emitter,
		blobs:     p.Blobs,
		envID:     p.EnvID,
		version:   p.Version,
		startedAt: time.Now(),
		validate:  validator.New(),
		logger:    log.WithComponent(logger, "api"),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(tracing.CorrelationMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", tracing.HeaderCorrelationID},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Get("/events/{id}", s.handleGetEvent)

		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
		r.Get("/runs/{id}/steps", s.handleListSteps)
		r.Get("/runs/{id}/events", s.handleListRunEvents)
		r.Get("/runs/{id}/children", s.handleListRunChildren)
		r.Get("/runs/{id}/artifacts", s.handleListRunArtifacts)

		r.Get("/artifacts/{id}", s.handleGetArtifact)
		r.Get("/artifacts/{id}/content", s.handleGetArtifactContent)

		r.Get("/packs", s.handleListPacks)
		r.Post("/packs/{packRef}/install", s.handleInstallPack)
		r.Post("/packs/{packRef}/upgrade", s.handleUpgradePack)
		r.Get("/packs/{packRef}/status", s.handlePackStatus)
	})

	return r
}
