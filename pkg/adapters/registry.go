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

// Package adapters provides the built-in run adapters (tracker,
// opentelemetry, progressbar, mlflow) and the registry the execution
// context builder resolves adapter kinds through.
package adapters

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Factory builds one adapter instance from its merged settings.
type Factory func(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

func init() {
	Register("tracker", newTracker)
	Register("opentelemetry", newOpenTelemetry)
	Register("progressbar", newProgressBar)
	Register("mlflow", newMLflow)
}

// Register installs a factory for an adapter kind. Optional adapters
// ("ray") register here from their own packages.
func Register(kind string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[kind] = factory
}

// Build resolves an adapter kind against the registry.
func Build(kind string, cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[kind]
	registry.mu.RUnlock()
	if !ok {
		return nil, &fperrors.AdapterError{
			Adapter: kind,
			Reason:  fmt.Sprintf("%s adapter requires optional dependency", kind),
		}
	}
	adapter, err := factory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// settings wraps the free-form adapter config with typed accessors.
type settings map[string]any

func (s settings) str(key, fallback string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (s settings) num(key string, fallback float64) float64 {
	switch v := s[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return fallback
	}
}
