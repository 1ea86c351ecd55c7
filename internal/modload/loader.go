// Copyright 2025 The FlowerPower Authors
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

// Package modload resolves user pipeline modules by name and caches the
// loaded instances. The cache is keyed by pipeline name and invalidated by
// the pipeline config file's content hash, an explicit reload, or a file
// watcher event.
package modload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// ModuleFactory produces a fresh module instance on (re-)import.
type ModuleFactory func() (engine.Module, error)

type entry struct {
	module      engine.Module
	fingerprint string
}

// Registry holds the registered module factories and the load cache.
// Reads take the shared guard; imports and invalidation take the
// exclusive guard.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ModuleFactory
	cache     map[string]entry

	pipelinesDir string
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
}

// NewRegistry builds a registry rooted at the project's pipelines
// directory (used for fingerprinting and watching; empty disables both).
func NewRegistry(pipelinesDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories:    make(map[string]ModuleFactory),
		cache:        make(map[string]entry),
		pipelinesDir: pipelinesDir,
		logger:       logger,
	}
}

// Register installs a module factory under the pipeline name.
func (r *Registry) Register(name string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.cache, name)
}

// Resolve returns the module for a pipeline, importing it on first use or
// when the fingerprint changed. reload forces a fresh import.
func (r *Registry) Resolve(name string, reload bool) (engine.Module, error) {
	fingerprint := r.fingerprint(name)

	if !reload {
		r.mu.RLock()
		cached, ok := r.cache[name]
		r.mu.RUnlock()
		if ok && cached.fingerprint == fingerprint {
			return cached.module, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the exclusive guard; another run may have imported
	// the module while we waited.
	if !reload {
		if cached, ok := r.cache[name]; ok && cached.fingerprint == fingerprint {
			return cached.module, nil
		}
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, &fperrors.PipelineImportError{
			Pipeline: name,
			Cause:    fmt.Errorf("no module registered for pipeline %q", name),
		}
	}
	module, err := factory()
	if err != nil {
		return nil, &fperrors.PipelineImportError{Pipeline: name, Cause: err}
	}
	r.cache[name] = entry{module: module, fingerprint: fingerprint}
	return module, nil
}

// Invalidate drops the cached module for a pipeline.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

// fingerprint hashes the pipeline's config file; a missing file yields the
// empty fingerprint, so cache entries stay valid until the file appears.
func (r *Registry) fingerprint(name string) string {
	if r.pipelinesDir == "" {
		return ""
	}
	raw, err := os.ReadFile(filepath.Join(r.pipelinesDir, name+".yml"))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Watch starts a file watcher on the pipelines directory that invalidates
// cache entries when their config file changes. Close stops it.
func (r *Registry) Watch() error {
	if r.pipelinesDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.pipelinesDir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				ext := filepath.Ext(name)
				if ext != ".yml" && ext != ".yaml" {
					continue
				}
				pipeline := name[:len(name)-len(ext)]
				r.Invalidate(pipeline)
				r.logger.Debug("module cache invalidated by file change",
					"pipeline", pipeline, "event", event.Op.String())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("pipeline watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
