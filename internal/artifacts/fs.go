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

// Package artifacts stores immutable blobs content-addressed on disk, with
// metadata rows in the relational store.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/store"
	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// FS is a filesystem-backed artifact store. Blobs live under a two-level
// tree keyed by sha256[:2]/sha256[2:4]/sha256; identical content is stored
// once.
type FS struct {
	root   string
	store  *store.Store
	envID  string
	logger *slog.Logger
}

// NewFS builds the artifact store rooted at dir.
func NewFS(dir string, s *store.Store, envID string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{root: dir, store: s, envID: envID, logger: log.WithComponent(logger, "artifacts")}
}

// PutParams describes a blob being attached.
type PutParams struct {
	Name          string
	Kind          string
	ContentType   string
	Content       []byte
	RunID         *string
	StepID        *string
	CreatedBy     string
	CorrelationID string
	Metadata      store.JSONMap
}

// Put writes the blob (if new) and records the artifact row together with
// its xyn.artifact.attached event.
func (f *FS) Put(ctx context.Context, p PutParams) (*store.Artifact, error) {
	sum := sha256.Sum256(p.Content)
	digest := hex.EncodeToString(sum[:])

	path, err := f.write(digest, p.Content)
	if err != nil {
		return nil, err
	}

	length := int64(len(p.Content))
	a := &store.Artifact{
		Name:        p.Name,
		Kind:        p.Kind,
		ContentType: p.ContentType,
		ByteLength:  &length,
		SHA256:      &digest,
		RunID:       p.RunID,
		StepID:      p.StepID,
		CreatedBy:   p.CreatedBy,
		Metadata:    p.Metadata,
		StoragePath: &path,
	}

	err = f.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return f.store.InsertArtifactTx(ctx, tx, a, f.envID, p.CorrelationID)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// write persists the blob if absent and returns its path relative to root.
func (f *FS) write(digest string, content []byte) (string, error) {
	rel := filepath.Join(digest[:2], digest[2:4], digest)
	abs := filepath.Join(f.root, rel)

	if _, err := os.Stat(abs); err == nil {
		return rel, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", xynerrors.Wrap(xynerrors.KindValidation, err, "creating artifact directory")
	}

	// Write through a temp file and rename so readers never see a partial
	// blob.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".artifact-*")
	if err != nil {
		return "", xynerrors.Wrap(xynerrors.KindValidation, err, "creating artifact temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", xynerrors.Wrap(xynerrors.KindValidation, err, "writing artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", xynerrors.Wrap(xynerrors.KindValidation, err, "closing artifact temp file")
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return "", xynerrors.Wrap(xynerrors.KindValidation, err, "placing artifact")
	}
	return rel, nil
}

// Read returns the blob bytes for an artifact row.
func (f *FS) Read(a *store.Artifact) ([]byte, error) {
	if a.StoragePath == nil {
		return nil, xynerrors.New(xynerrors.KindNotFound, "artifact %s has no stored content", a.ID)
	}
	content, err := os.ReadFile(filepath.Join(f.root, *a.StoragePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xynerrors.Wrap(xynerrors.KindNotFound, err, "artifact content missing")
		}
		return nil, err
	}
	return content, nil
}
