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

// Package execctx builds and releases the execution context of one run:
// the resolved executor backend plus the initialized adapter set.
package execctx

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/legout/flowerpower/internal/executor"
	"github.com/legout/flowerpower/pkg/adapters"
	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Context is the runtime-scoped execution context of one run. It is owned
// by the runner and released exactly once on every exit path.
type Context struct {
	Executor engine.Executor
	Adapters []engine.Adapter

	logger      *slog.Logger
	releaseOnce sync.Once
	released    bool
}

// Build resolves the executor backend and the adapter set from the merged
// run config. On any adapter failure the partially built context is
// released before the error surfaces.
func Build(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exec, err := executor.Resolve(ctx, cfg.Executor, logger)
	if err != nil {
		return nil, err
	}

	ec := &Context{Executor: exec, logger: logger}

	adapterCfg := cfg.ProjectAdapterCfg.Merge(cfg.PipelineAdapterCfg)
	for _, kind := range cfg.WithAdapter.Enabled() {
		adapter, err := adapters.Build(kind, adapterCfg[kind], logger)
		if err != nil {
			ec.Release(ctx)
			return nil, err
		}
		if err := ec.initAdapter(ctx, adapter); err != nil {
			ec.Release(ctx)
			return nil, err
		}
	}

	// Caller-supplied adapters come after the built-ins, in sorted key
	// order so the sequence is deterministic.
	names := make([]string, 0, len(cfg.Adapter))
	for name := range cfg.Adapter {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ec.initAdapter(ctx, cfg.Adapter[name]); err != nil {
			ec.Release(ctx)
			return nil, err
		}
	}

	return ec, nil
}

func (c *Context) initAdapter(ctx context.Context, adapter engine.Adapter) error {
	if err := adapter.Init(ctx); err != nil {
		var ae *fperrors.AdapterError
		if errors.As(err, &ae) {
			return err
		}
		return &fperrors.AdapterError{
			Adapter: adapter.Name(),
			Reason:  "initialization failed",
			Cause:   err,
		}
	}
	c.Adapters = append(c.Adapters, adapter)
	return nil
}

// Release tears down adapters in reverse initialization order, then shuts
// down the executor. It runs exactly once; repeat calls are no-ops.
// Failures are logged at warning level and never mask the run's outcome.
func (c *Context) Release(ctx context.Context) {
	c.releaseOnce.Do(func() {
		c.released = true
		for i := len(c.Adapters) - 1; i >= 0; i-- {
			adapter := c.Adapters[i]
			if err := adapter.Close(ctx); err != nil {
				c.logger.Warn("adapter teardown failed",
					"adapter", adapter.Name(),
					"error", err,
				)
			}
		}
		if err := c.Executor.Shutdown(ctx); err != nil {
			c.logger.Warn("executor shutdown failed",
				"executor", c.Executor.Kind(),
				"error", err,
			)
		}
	})
}

// Released reports whether Release has run.
func (c *Context) Released() bool { return c.released }
