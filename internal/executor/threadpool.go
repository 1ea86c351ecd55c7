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
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
)

// ThreadPool runs tasks on a bounded goroutine pool.
type ThreadPool struct {
	p       *pool.ContextPool
	workers int
	logger  *slog.Logger

	waitOnce sync.Once
	waitErr  error
}

// NewThreadPool builds a pool of workers goroutines bound to ctx.
func NewThreadPool(ctx context.Context, workers int, logger *slog.Logger) *ThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &ThreadPool{
		p:       pool.New().WithContext(ctx).WithMaxGoroutines(workers),
		workers: workers,
		logger:  logger,
	}
}

// Kind returns "threadpool".
func (t *ThreadPool) Kind() string { return config.ExecutorThreadpool }

// Workers returns the pool bound.
func (t *ThreadPool) Workers() int { return t.workers }

// Go schedules the task; it blocks only when all workers are busy.
func (t *ThreadPool) Go(ctx context.Context, task engine.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.p.Go(func(ctx context.Context) error {
		return task(ctx)
	})
	return nil
}

// Wait blocks until all scheduled tasks finish and returns the first error.
func (t *ThreadPool) Wait() error {
	t.waitOnce.Do(func() {
		t.waitErr = t.p.Wait()
	})
	return t.waitErr
}

// Shutdown drains the pool. Outstanding tasks are awaited so no goroutine
// outlives the run.
func (t *ThreadPool) Shutdown(ctx context.Context) error {
	if err := t.Wait(); err != nil && t.logger != nil {
		t.logger.Debug("thread pool drained with task error", "error", err)
	}
	return nil
}
