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

package blueprint

import (
	"sort"
	"sync"

	xynerrors "github.com/xynlabs/xyn/pkg/errors"
)

// Registry maps blueprint names to plans. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{blueprints: make(map[string]*Blueprint)}
}

// Register adds or replaces a blueprint under its name.
func (r *Registry) Register(bp *Blueprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blueprints[bp.Name] = bp
}

// Get resolves a blueprint by name.
func (r *Registry) Get(name string) (*Blueprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[name]
	if !ok {
		return nil, xynerrors.New(xynerrors.KindBlueprintNotFound,
			"blueprint %q is not registered", name)
	}
	return bp, nil
}

// Names lists registered blueprints sorted by name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blueprints))
	for name := range r.blueprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
