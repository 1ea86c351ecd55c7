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

// Package config holds the typed configuration records of the pipeline
// runtime and the loader that assembles them from files, environment
// overlays, and call-site overrides.
package config

import (
	"sort"
	"time"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Executor backend types accepted by ExecutorConfig.Type.
const (
	ExecutorSynchronous = "synchronous"
	ExecutorThreadpool  = "threadpool"
	ExecutorProcesspool = "processpool"
	ExecutorRay         = "ray"
	ExecutorDask        = "dask"
)

// Built-in adapter keys recognized in with_adapter.
const (
	AdapterOpenTelemetry = "opentelemetry"
	AdapterTracker       = "tracker"
	AdapterProgressBar   = "progressbar"
	AdapterMLflow        = "mlflow"
	AdapterRay           = "ray"
)

// ExecutorConfig selects the parallelism substrate for a run.
type ExecutorConfig struct {
	// Type is one of synchronous, threadpool, processpool, ray, dask.
	Type string `yaml:"type,omitempty" validate:"omitempty,executor_type"`

	// MaxWorkers sizes pool backends. 0 means unset (backend default).
	MaxWorkers int `yaml:"max_workers,omitempty" validate:"gte=0"`

	// NumCPUs is a resource hint for distributed backends; non-distributed
	// executors ignore it.
	NumCPUs int `yaml:"num_cpus,omitempty" validate:"gte=0"`
}

// WithAdapterConfig holds the per-kind enable flags for built-in adapters,
// plus flags for custom adapter kinds supplied by the caller.
type WithAdapterConfig struct {
	OpenTelemetry bool `yaml:"opentelemetry,omitempty"`
	Tracker       bool `yaml:"tracker,omitempty"`
	ProgressBar   bool `yaml:"progressbar,omitempty"`
	MLflow        bool `yaml:"mlflow,omitempty"`
	Ray           bool `yaml:"ray,omitempty"`

	// Custom collects flags for adapter kinds outside the built-in set.
	Custom map[string]bool `yaml:",inline"`
}

// Enabled returns the enabled adapter kinds in deterministic order:
// built-ins first, then custom kinds sorted by name.
func (w WithAdapterConfig) Enabled() []string {
	var kinds []string
	if w.OpenTelemetry {
		kinds = append(kinds, AdapterOpenTelemetry)
	}
	if w.Tracker {
		kinds = append(kinds, AdapterTracker)
	}
	if w.ProgressBar {
		kinds = append(kinds, AdapterProgressBar)
	}
	if w.MLflow {
		kinds = append(kinds, AdapterMLflow)
	}
	if w.Ray {
		kinds = append(kinds, AdapterRay)
	}
	custom := make([]string, 0, len(w.Custom))
	for kind, on := range w.Custom {
		if on {
			custom = append(custom, kind)
		}
	}
	sort.Strings(custom)
	return append(kinds, custom...)
}

// Set flips the flag for an adapter kind, routing unknown kinds to Custom.
func (w *WithAdapterConfig) Set(kind string, on bool) {
	switch kind {
	case AdapterOpenTelemetry:
		w.OpenTelemetry = on
	case AdapterTracker:
		w.Tracker = on
	case AdapterProgressBar:
		w.ProgressBar = on
	case AdapterMLflow:
		w.MLflow = on
	case AdapterRay:
		w.Ray = on
	default:
		if w.Custom == nil {
			w.Custom = make(map[string]bool)
		}
		w.Custom[kind] = on
	}
}

// AdapterConfig maps adapter kinds to their settings.
type AdapterConfig map[string]map[string]any

// Merge returns a new AdapterConfig with over deep-merged on top of c.
func (c AdapterConfig) Merge(over AdapterConfig) AdapterConfig {
	if c == nil && over == nil {
		return nil
	}
	out := make(AdapterConfig, len(c)+len(over))
	for kind, settings := range c {
		out[kind] = copyMap(settings)
	}
	for kind, settings := range over {
		if base, ok := out[kind]; ok {
			out[kind] = deepMergeMap(base, settings)
		} else {
			out[kind] = copyMap(settings)
		}
	}
	return out
}

// RetryPolicy governs re-execution of engine failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`

	// RetryDelay is the base delay between attempts, in seconds.
	RetryDelay float64 `yaml:"retry_delay" validate:"gte=0"`

	// JitterFactor randomizes the delay by ±factor (0 disables jitter).
	JitterFactor float64 `yaml:"jitter_factor" validate:"gte=0,lte=1"`

	// RetryExceptions names the error classes that trigger a retry.
	// Nil means the default (Exception, i.e. any error); the empty list
	// disables retries regardless of the error.
	RetryExceptions []string `yaml:"retry_exceptions"`
}

// DefaultRetryPolicy returns the hard-coded retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		RetryDelay:   1.0,
		JitterFactor: 0.1,
	}
}

// Delay returns the base delay as a duration.
func (p RetryPolicy) Delay() time.Duration {
	return time.Duration(p.RetryDelay * float64(time.Second))
}

// Matcher resolves the policy's exception class names into a predicate.
func (p RetryPolicy) Matcher() fperrors.Predicate {
	return fperrors.Matcher(p.RetryExceptions)
}

// RunConfig is the per-run configuration record. Values left at their zero
// value are treated as unset when the record is merged over lower layers.
type RunConfig struct {
	// Inputs are override values fed into the DAG.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// FinalVars are the output node names to return. Nil and the empty
	// slice are distinct: both pass through to the engine unchanged.
	FinalVars []string `yaml:"final_vars,omitempty"`

	// Config is engine-side configuration.
	Config map[string]any `yaml:"config,omitempty"`

	// Cache is the opaque cache policy: a mapping, a bool, or nil for the
	// engine default.
	Cache any `yaml:"cache,omitempty"`

	// Executor selects the parallelism substrate.
	Executor ExecutorConfig `yaml:"executor,omitempty"`

	// WithAdapter enables built-in adapters by kind.
	WithAdapter WithAdapterConfig `yaml:"with_adapter,omitempty"`

	// PipelineAdapterCfg and ProjectAdapterCfg configure adapters; the
	// pipeline layer merges over the project layer at context build.
	PipelineAdapterCfg AdapterConfig `yaml:"pipeline_adapter_cfg,omitempty"`
	ProjectAdapterCfg  AdapterConfig `yaml:"project_adapter_cfg,omitempty"`

	// Adapter carries caller-supplied adapter instances keyed by role name.
	Adapter map[string]engine.Adapter `yaml:"-"`

	// Retry is the canonical retry policy.
	Retry RetryPolicy `yaml:"retry,omitempty"`

	// LogLevel overrides the process log level for this run; empty inherits.
	LogLevel string `yaml:"log_level,omitempty"`

	// Reload forces re-import of the user module.
	Reload bool `yaml:"reload,omitempty"`

	// OnSuccess and OnFailure are dispatched once, after context release.
	OnSuccess func(engine.Result) `yaml:"-"`
	OnFailure func(error)         `yaml:"-"`

	// Deprecated: legacy top-level retry fields. Normalize folds them into
	// Retry and warns once per field per process.
	MaxRetries      *int     `yaml:"max_retries,omitempty"`
	RetryDelay      *float64 `yaml:"retry_delay,omitempty"`
	JitterFactor    *float64 `yaml:"jitter_factor,omitempty"`
	RetryExceptions []string `yaml:"retry_exceptions,omitempty"`
}

// DefaultRunConfig returns the hard-coded defaults layer.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Executor: ExecutorConfig{Type: ExecutorSynchronous},
		Retry:    DefaultRetryPolicy(),
	}
}

// Copy returns a shallow clone; nested maps are shared with the receiver.
func (c *RunConfig) Copy() *RunConfig {
	clone := *c
	return &clone
}

// Update applies mutators in place and returns the receiver for chaining.
func (c *RunConfig) Update(fns ...func(*RunConfig)) *RunConfig {
	for _, fn := range fns {
		fn(c)
	}
	return c
}

// PipelineConfig is the file-backed record of one pipeline.
type PipelineConfig struct {
	// Name is the pipeline name.
	Name string `yaml:"name"`

	// Run holds the pipeline's run configuration.
	Run RunConfig `yaml:"run"`

	// Schedule is carried for external schedulers; the runtime ignores it.
	Schedule map[string]any `yaml:"schedule,omitempty"`

	// Params are free-form pipeline parameters.
	Params map[string]any `yaml:"params,omitempty"`

	// Adapter holds pipeline-level adapter settings.
	Adapter AdapterConfig `yaml:"adapter,omitempty"`
}

// ProjectConfig is the file-backed record of the project.
type ProjectConfig struct {
	// Name is the project name.
	Name string `yaml:"name"`

	// Run holds project-wide run defaults.
	Run RunConfig `yaml:"run,omitempty"`

	// Adapter holds project-level adapter settings.
	Adapter AdapterConfig `yaml:"adapter,omitempty"`
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
