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

// Package executor provides the parallelism backends the engine runs DAG
// node work on: sequential, thread pool, process pool, and registered
// distributed backends.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Resolve builds the executor backend selected by cfg.
func Resolve(ctx context.Context, cfg config.ExecutorConfig, logger *slog.Logger) (engine.Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "", config.ExecutorSynchronous:
		return NewSynchronous(), nil
	case config.ExecutorThreadpool:
		return NewThreadPool(ctx, poolSize(cfg), logger), nil
	case config.ExecutorProcesspool:
		return NewProcessPool(ctx, poolSize(cfg), logger)
	case config.ExecutorRay, config.ExecutorDask:
		return resolveDistributed(ctx, cfg, logger)
	default:
		return nil, &fperrors.ConfigError{
			Key:    "executor.type",
			Reason: fmt.Sprintf("unknown executor type %q", cfg.Type),
		}
	}
}

func poolSize(cfg config.ExecutorConfig) int {
	if cfg.MaxWorkers > 0 {
		return cfg.MaxWorkers
	}
	return runtime.NumCPU()
}

// Synchronous runs tasks inline on the calling goroutine, in submission
// order. It is the default backend.
type Synchronous struct {
	mu       sync.Mutex
	firstErr error
}

// NewSynchronous returns the sequential in-process backend.
func NewSynchronous() *Synchronous {
	return &Synchronous{}
}

// Kind returns "synchronous".
func (s *Synchronous) Kind() string { return config.ExecutorSynchronous }

// Go runs the task immediately and returns its error.
func (s *Synchronous) Go(ctx context.Context, task engine.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := task(ctx)
	if err != nil {
		s.mu.Lock()
		if s.firstErr == nil {
			s.firstErr = err
		}
		s.mu.Unlock()
	}
	return err
}

// Wait returns the first task error, if any.
func (s *Synchronous) Wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Shutdown is a no-op; there is no pool to tear down.
func (s *Synchronous) Shutdown(ctx context.Context) error { return nil }
