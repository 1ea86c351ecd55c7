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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Factory starts (or connects to) a distributed backend. NumCPUs from the
// executor config is the resource hint.
type Factory func(ctx context.Context, cfg config.ExecutorConfig, logger *slog.Logger) (engine.Executor, error)

var distributed = struct {
	mu        sync.Mutex
	factories map[string]Factory
	shared    map[string]*sharedHandle
}{
	factories: map[string]Factory{},
	shared:    map[string]*sharedHandle{},
}

// RegisterDistributed installs the factory for an optional distributed
// backend ("ray", "dask"). Resolving an unregistered kind fails with a
// ConfigError naming the missing dependency.
func RegisterDistributed(kind string, factory Factory) {
	distributed.mu.Lock()
	defer distributed.mu.Unlock()
	distributed.factories[kind] = factory
}

// sharedHandle refcounts one cluster connection per backend kind: the
// first run to start it owns the eventual shutdown, which happens exactly
// once when the last reference is released.
type sharedHandle struct {
	exec     engine.Executor
	refs     int
	downOnce sync.Once
}

func resolveDistributed(ctx context.Context, cfg config.ExecutorConfig, logger *slog.Logger) (engine.Executor, error) {
	distributed.mu.Lock()
	defer distributed.mu.Unlock()

	factory, ok := distributed.factories[cfg.Type]
	if !ok {
		return nil, &fperrors.ConfigError{
			Key:    "executor.type",
			Reason: fmt.Sprintf("%s executor requires optional dependency", cfg.Type),
		}
	}

	handle := distributed.shared[cfg.Type]
	if handle == nil {
		exec, err := factory(ctx, cfg, logger)
		if err != nil {
			return nil, &fperrors.ExecutorError{
				Backend: cfg.Type,
				Reason:  "failed to start distributed backend",
				Cause:   err,
			}
		}
		handle = &sharedHandle{exec: exec}
		distributed.shared[cfg.Type] = handle
	}
	handle.refs++

	return &sharedRef{kind: cfg.Type, handle: handle}, nil
}

// sharedRef is one run's view of a refcounted distributed backend.
type sharedRef struct {
	kind     string
	handle   *sharedHandle
	released sync.Once
}

// Kind returns the backend kind.
func (r *sharedRef) Kind() string { return r.kind }

// Go delegates to the shared backend.
func (r *sharedRef) Go(ctx context.Context, task engine.Task) error {
	return r.handle.exec.Go(ctx, task)
}

// Wait delegates to the shared backend.
func (r *sharedRef) Wait() error { return r.handle.exec.Wait() }

// Shutdown releases this run's reference; the underlying backend shuts
// down exactly once, when the last reference goes away.
func (r *sharedRef) Shutdown(ctx context.Context) error {
	var err error
	r.released.Do(func() {
		distributed.mu.Lock()
		r.handle.refs--
		last := r.handle.refs == 0
		if last {
			delete(distributed.shared, r.kind)
		}
		distributed.mu.Unlock()
		if last {
			r.handle.downOnce.Do(func() {
				err = r.handle.exec.Shutdown(ctx)
			})
		}
	})
	return err
}
