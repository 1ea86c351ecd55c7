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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Environment overlay prefixes. The double-underscore-separated remainder is
// a path into the config tree (FP_PIPELINE__RUN__LOG_LEVEL → run.log_level).
const (
	EnvPipelinePrefix = "FP_PIPELINE__"
	EnvProjectPrefix  = "FP_PROJECT__"
)

// Global shim variables, applied only when the specific key is absent at
// every higher-priority layer.
const (
	EnvLogLevel           = "FP_LOG_LEVEL"
	EnvExecutor           = "FP_EXECUTOR"
	EnvExecutorMaxWorkers = "FP_EXECUTOR_MAX_WORKERS"
	EnvExecutorNumCPUs    = "FP_EXECUTOR_NUM_CPUS"
	EnvMaxRetries         = "FP_MAX_RETRIES"
	EnvRetryDelay         = "FP_RETRY_DELAY"
	EnvJitterFactor       = "FP_JITTER_FACTOR"
)

// envOverlay builds the overlay tree for one prefix from the process
// environment, with values strictly coerced.
func envOverlay(environ []string, prefix string) (map[string]any, error) {
	overlay := make(map[string]any)
	for _, entry := range environ {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		pathSpec := strings.TrimPrefix(name, prefix)
		if pathSpec == "" {
			continue
		}
		segments := strings.Split(pathSpec, "__")
		path := make([]string, 0, len(segments))
		for _, seg := range segments {
			if seg == "" {
				return nil, &fperrors.ConfigError{
					Key:    name,
					Layer:  "env",
					Reason: "empty path segment in overlay variable",
				}
			}
			path = append(path, strings.ToLower(seg))
		}
		setPath(overlay, coerceEnvValue(raw), path...)
	}
	return overlay, nil
}

// coerceEnvValue applies the strict overlay coercion table: booleans,
// integers, floats, JSON structures, then plain string.
func coerceEnvValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return raw
}

// shim describes one global shim variable and where it lands in the
// pipeline config tree.
type shim struct {
	env     string
	path    []string
	numeric string // "", "int", or "float": strict coercion requirement
}

var shims = []shim{
	{env: EnvLogLevel, path: []string{"run", "log_level"}},
	{env: EnvExecutor, path: []string{"run", "executor", "type"}},
	{env: EnvExecutorMaxWorkers, path: []string{"run", "executor", "max_workers"}, numeric: "int"},
	{env: EnvExecutorNumCPUs, path: []string{"run", "executor", "num_cpus"}, numeric: "int"},
	{env: EnvMaxRetries, path: []string{"run", "retry", "max_retries"}, numeric: "int"},
	{env: EnvRetryDelay, path: []string{"run", "retry", "retry_delay"}, numeric: "float"},
	{env: EnvJitterFactor, path: []string{"run", "retry", "jitter_factor"}, numeric: "float"},
}

// applyShims fills absent keys in tree from the global shim variables.
// Keys already set by any higher layer are left alone.
func applyShims(tree map[string]any, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		if name, raw, ok := strings.Cut(entry, "="); ok {
			env[name] = raw
		}
	}
	for _, sh := range shims {
		raw, ok := env[sh.env]
		if !ok {
			continue
		}
		if _, set := lookupPath(tree, sh.path...); set {
			continue
		}
		value, err := coerceShimValue(sh, raw)
		if err != nil {
			return err
		}
		setPath(tree, value, sh.path...)
	}
	return nil
}

func coerceShimValue(sh shim, raw string) (any, error) {
	switch sh.numeric {
	case "int":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &fperrors.ConfigError{
				Key:    sh.env,
				Layer:  "shim",
				Reason: fmt.Sprintf("expected integer, got %q", raw),
				Cause:  err,
			}
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &fperrors.ConfigError{
				Key:    sh.env,
				Layer:  "shim",
				Reason: fmt.Sprintf("expected number, got %q", raw),
				Cause:  err,
			}
		}
		return f, nil
	default:
		return raw, nil
	}
}
