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

package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/artifacts"
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/store"
)

// stepLogCapture tees a step handler's log output into a buffer so it can
// be stored as a log artifact linked to the step. The buffer opens with a
// self-describing header; Empty reports whether the handler logged anything
// beyond it.
type stepLogCapture struct {
	buf       *syncBuffer
	headerLen int
	logger    *slog.Logger
}

func newStepLogCapture(run *store.Run, step *store.Step, base *slog.Logger) *stepLogCapture {
	buf := &syncBuffer{}
	fmt.Fprintf(buf, "run_id: %s\nstep_id: %s\ncorrelation_id: %s\n---\n",
		run.ID, step.ID, run.CorrelationID)

	handler := teeHandler{
		primary: base.Handler(),
		capture: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	return &stepLogCapture{
		buf:       buf,
		headerLen: buf.Len(),
		logger:    slog.New(handler),
	}
}

// Logger is the handler-facing logger; every record also lands in the buffer.
func (c *stepLogCapture) Logger() *slog.Logger { return c.logger }

func (c *stepLogCapture) Bytes() []byte { return c.buf.Bytes() }

func (c *stepLogCapture) Empty() bool { return c.buf.Len() <= c.headerLen }

// attachStepLogs stores the captured handler output as a log artifact and
// links it to the step. Capture failures are logged, never fatal.
func (x *Executor) attachStepLogs(ctx context.Context, run *store.Run, step *store.Step, capture *stepLogCapture) {
	if x.blobs == nil || capture.Empty() {
		return
	}

	a, err := x.blobs.Put(ctx, artifacts.PutParams{
		Name:          "step-" + step.ID + "-logs.txt",
		Kind:          "log",
		ContentType:   "text/plain",
		Content:       capture.Bytes(),
		RunID:         &run.ID,
		StepID:        &step.ID,
		CreatedBy:     "system",
		CorrelationID: run.CorrelationID,
		Metadata:      store.JSONMap{"encoding": "utf-8"},
	})
	if err == nil {
		err = x.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			return x.store.AttachStepLogsTx(ctx, tx, step.ID, a.ID)
		})
		if err == nil {
			step.LogsArtifactID = &a.ID
		}
	}
	if err != nil {
		x.logger.Warn("step log capture failed",
			slog.String("step_id", step.ID), log.Error(err))
	}
}

// teeHandler duplicates records to the process logger and the capture
// buffer.
type teeHandler struct {
	primary slog.Handler
	capture slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return t.primary.Enabled(ctx, lvl) || t.capture.Enabled(ctx, lvl)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if t.primary.Enabled(ctx, r.Level) {
		_ = t.primary.Handle(ctx, r.Clone())
	}
	return t.capture.Handle(ctx, r)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{primary: t.primary.WithAttrs(attrs), capture: t.capture.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{primary: t.primary.WithGroup(name), capture: t.capture.WithGroup(name)}
}

// syncBuffer is a mutex-guarded byte buffer; handlers may log from their own
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
