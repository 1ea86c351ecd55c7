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
	"log/slog"

	"github.com/legout/flowerpower/pkg/engine"
)

// Builder assembles a RunConfig through a chain of With* calls. Build
// normalizes and returns a value copy, so the built record is immutable
// with respect to further builder use.
type Builder struct {
	cfg RunConfig
	err error
}

// NewBuilder starts a builder from the hard-coded defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: *DefaultRunConfig()}
}

// WithInputs sets the DAG override inputs.
func (b *Builder) WithInputs(inputs map[string]any) *Builder {
	b.cfg.Inputs = inputs
	return b
}

// WithFinalVars sets the requested output variables.
func (b *Builder) WithFinalVars(vars ...string) *Builder {
	b.cfg.FinalVars = vars
	return b
}

// WithConfig sets engine-side configuration.
func (b *Builder) WithConfig(cfg map[string]any) *Builder {
	b.cfg.Config = cfg
	return b
}

// WithCache sets the opaque cache policy.
func (b *Builder) WithCache(cache any) *Builder {
	b.cfg.Cache = cache
	return b
}

// WithExecutor accepts a backend name, a mapping, or an ExecutorConfig.
func (b *Builder) WithExecutor(v any) *Builder {
	cfg, err := CoerceExecutor(v)
	if err != nil && b.err == nil {
		b.err = err
		return b
	}
	b.cfg.Executor = cfg
	return b
}

// WithAdapterFlag enables or disables one adapter kind.
func (b *Builder) WithAdapterFlag(kind string, on bool) *Builder {
	b.cfg.WithAdapter.Set(kind, on)
	return b
}

// WithPipelineAdapterCfg sets pipeline-level adapter settings.
func (b *Builder) WithPipelineAdapterCfg(cfg AdapterConfig) *Builder {
	b.cfg.PipelineAdapterCfg = cfg
	return b
}

// WithProjectAdapterCfg sets project-level adapter settings.
func (b *Builder) WithProjectAdapterCfg(cfg AdapterConfig) *Builder {
	b.cfg.ProjectAdapterCfg = cfg
	return b
}

// WithAdapters sets caller-supplied adapter instances.
func (b *Builder) WithAdapters(adapters map[string]engine.Adapter) *Builder {
	b.cfg.Adapter = adapters
	return b
}

// WithRetry sets the canonical retry policy.
func (b *Builder) WithRetry(policy RetryPolicy) *Builder {
	b.cfg.Retry = policy
	return b
}

// WithLogLevel sets the per-run log level override.
func (b *Builder) WithLogLevel(level string) *Builder {
	b.cfg.LogLevel = level
	return b
}

// WithReload forces re-import of the user module.
func (b *Builder) WithReload(reload bool) *Builder {
	b.cfg.Reload = reload
	return b
}

// WithOnSuccess sets the success callback.
func (b *Builder) WithOnSuccess(fn func(engine.Result)) *Builder {
	b.cfg.OnSuccess = fn
	return b
}

// WithOnFailure sets the failure callback.
func (b *Builder) WithOnFailure(fn func(error)) *Builder {
	b.cfg.OnFailure = fn
	return b
}

// Build normalizes and returns the assembled config by value.
func (b *Builder) Build() (RunConfig, error) {
	if b.err != nil {
		return RunConfig{}, b.err
	}
	cfg := b.cfg
	if err := cfg.Normalize(slog.Default()); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}
