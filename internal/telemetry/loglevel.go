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

package telemetry

import (
	"log/slog"
	"sync"

	"github.com/legout/flowerpower/internal/log"
)

// Logging handlers install once per process; per-run level overrides are
// scoped through a token-based push/pop stack so concurrent runs cannot
// clobber each other. The effective level is the most verbose of the base
// level and all active overrides.
var (
	loggingOnce sync.Once
	logger      *slog.Logger
	baseLevel   slog.LevelVar

	overrideMu sync.Mutex
	overrides  = map[int]slog.Level{}
	nextToken  int
)

// dynamicLevel resolves the effective level on every log call.
type dynamicLevel struct{}

func (dynamicLevel) Level() slog.Level {
	level := baseLevel.Level()
	overrideMu.Lock()
	for _, l := range overrides {
		if l < level {
			level = l
		}
	}
	overrideMu.Unlock()
	return level
}

// EnsureLogging installs the process log handler once and returns the
// shared logger. Subsequent calls ignore cfg and return the same logger.
func EnsureLogging(cfg *log.Config) *slog.Logger {
	loggingOnce.Do(func() {
		if cfg == nil {
			cfg = log.FromEnv()
		}
		baseLevel.Set(log.ParseLevel(cfg.Level))
		logger = log.New(cfg, dynamicLevel{})
		slog.SetDefault(logger)
	})
	return logger
}

// Logger returns the shared logger, installing defaults if needed.
func Logger() *slog.Logger {
	return EnsureLogging(nil)
}

// PushLevel activates a scoped level override and returns its pop func.
// Pop removes exactly this override, regardless of push/pop ordering
// across concurrent runs.
func PushLevel(level string) (pop func()) {
	overrideMu.Lock()
	token := nextToken
	nextToken++
	overrides[token] = log.ParseLevel(level)
	overrideMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			overrideMu.Lock()
			delete(overrides, token)
			overrideMu.Unlock()
		})
	}
}
