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

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// logLevels is the accepted set for RunConfig.LogLevel.
var logLevels = map[string]struct{}{
	"DEBUG":    {},
	"INFO":     {},
	"WARNING":  {},
	"ERROR":    {},
	"CRITICAL": {},
}

// UnmarshalYAML accepts an executor given as a bare scalar ("threadpool")
// or as a mapping ({type: threadpool, max_workers: 4}).
func (c *ExecutorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var kind string
		if err := node.Decode(&kind); err != nil {
			return err
		}
		*c = ExecutorConfig{Type: kind}
		return nil
	}
	type plain ExecutorConfig
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*c = ExecutorConfig(decoded)
	return nil
}

// CoerceExecutor funnels the accepted executor input shapes (string,
// mapping, typed record) into an ExecutorConfig.
func CoerceExecutor(v any) (ExecutorConfig, error) {
	switch ex := v.(type) {
	case nil:
		return ExecutorConfig{}, nil
	case string:
		return ExecutorConfig{Type: ex}, nil
	case ExecutorConfig:
		return ex, nil
	case *ExecutorConfig:
		if ex == nil {
			return ExecutorConfig{}, nil
		}
		return *ex, nil
	case map[string]any:
		raw, err := yaml.Marshal(ex)
		if err != nil {
			return ExecutorConfig{}, &fperrors.ConfigError{
				Key: "executor", Reason: "invalid executor mapping", Cause: err,
			}
		}
		var cfg ExecutorConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return ExecutorConfig{}, &fperrors.ConfigError{
				Key: "executor", Reason: "invalid executor mapping", Cause: err,
			}
		}
		return cfg, nil
	default:
		return ExecutorConfig{}, &fperrors.ConfigError{
			Key:    "executor",
			Reason: fmt.Sprintf("unsupported executor value of type %T", v),
		}
	}
}

// CoerceWithAdapter accepts a with_adapter mapping and produces the typed
// flag set.
func CoerceWithAdapter(v any) (WithAdapterConfig, error) {
	switch w := v.(type) {
	case nil:
		return WithAdapterConfig{}, nil
	case WithAdapterConfig:
		return w, nil
	case map[string]bool:
		var cfg WithAdapterConfig
		for kind, on := range w {
			cfg.Set(kind, on)
		}
		return cfg, nil
	case map[string]any:
		var cfg WithAdapterConfig
		for kind, raw := range w {
			on, ok := raw.(bool)
			if !ok {
				return WithAdapterConfig{}, &fperrors.ConfigError{
					Key:    "with_adapter." + kind,
					Reason: fmt.Sprintf("adapter flag must be a bool, got %T", raw),
				}
			}
			cfg.Set(kind, on)
		}
		return cfg, nil
	default:
		return WithAdapterConfig{}, &fperrors.ConfigError{
			Key:    "with_adapter",
			Reason: fmt.Sprintf("unsupported with_adapter value of type %T", v),
		}
	}
}

// deprecatedWarned dedupes legacy-field warnings: at most one notice per
// field per process.
var deprecatedWarned sync.Map

func warnDeprecated(logger *slog.Logger, field string) {
	if _, loaded := deprecatedWarned.LoadOrStore(field, struct{}{}); loaded {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("deprecated run config field, use retry instead",
		"field", field,
		"replacement", "retry."+field,
	)
}

// resetDeprecationWarnings clears the dedupe state. Test hook.
func resetDeprecationWarnings() {
	deprecatedWarned.Range(func(key, _ any) bool {
		deprecatedWarned.Delete(key)
		return true
	})
}

// Normalize folds legacy fields into the canonical retry policy, upper-cases
// and validates the log level, applies executor defaults, and validates the
// record. Deprecation notices for legacy fields are emitted here, before
// execution begins.
func (c *RunConfig) Normalize(logger *slog.Logger) error {
	if c.MaxRetries != nil {
		c.Retry.MaxRetries = *c.MaxRetries
		c.MaxRetries = nil
		warnDeprecated(logger, "max_retries")
	}
	if c.RetryDelay != nil {
		c.Retry.RetryDelay = *c.RetryDelay
		c.RetryDelay = nil
		warnDeprecated(logger, "retry_delay")
	}
	if c.JitterFactor != nil {
		c.Retry.JitterFactor = *c.JitterFactor
		c.JitterFactor = nil
		warnDeprecated(logger, "jitter_factor")
	}
	if c.RetryExceptions != nil {
		c.Retry.RetryExceptions = c.RetryExceptions
		c.RetryExceptions = nil
		warnDeprecated(logger, "retry_exceptions")
	}

	if c.LogLevel != "" {
		level := strings.ToUpper(c.LogLevel)
		if _, ok := logLevels[level]; !ok {
			return &fperrors.ConfigError{
				Key:    "log_level",
				Reason: fmt.Sprintf("unknown log level %q", c.LogLevel),
			}
		}
		c.LogLevel = level
	}

	if c.Executor.Type == "" {
		c.Executor.Type = ExecutorSynchronous
	}

	return validateStruct(c)
}
