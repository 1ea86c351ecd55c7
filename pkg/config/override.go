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
	"reflect"

	"github.com/legout/flowerpower/pkg/engine"
)

// ApplyOverride merges a caller-supplied RunConfig over a lower-priority
// base, returning a new record. Zero-valued fields in over count as unset.
// Nested mappings deep-merge; FinalVars and RetryExceptions replace rather
// than union; an explicit Cache of false is a set value (only nil is unset).
func ApplyOverride(base, over *RunConfig) *RunConfig {
	out := *base
	if over == nil {
		return &out
	}

	if over.Inputs != nil {
		out.Inputs = deepMergeMap(out.Inputs, over.Inputs)
	}
	if over.FinalVars != nil {
		out.FinalVars = over.FinalVars
	}
	if over.Config != nil {
		out.Config = deepMergeMap(out.Config, over.Config)
	}
	if over.Cache != nil {
		out.Cache = over.Cache
	}

	if over.Executor.Type != "" {
		out.Executor.Type = over.Executor.Type
	}
	if over.Executor.MaxWorkers != 0 {
		out.Executor.MaxWorkers = over.Executor.MaxWorkers
	}
	if over.Executor.NumCPUs != 0 {
		out.Executor.NumCPUs = over.Executor.NumCPUs
	}

	// Adapter flags: enabled flags in the override layer win; disabling an
	// adapter enabled by a lower layer goes through the kwargs layer, which
	// mutates the effective record directly.
	for _, kind := range over.WithAdapter.Enabled() {
		out.WithAdapter.Set(kind, true)
	}

	if over.PipelineAdapterCfg != nil {
		out.PipelineAdapterCfg = out.PipelineAdapterCfg.Merge(over.PipelineAdapterCfg)
	}
	if over.ProjectAdapterCfg != nil {
		out.ProjectAdapterCfg = out.ProjectAdapterCfg.Merge(over.ProjectAdapterCfg)
	}

	if over.Adapter != nil {
		if out.Adapter == nil {
			out.Adapter = over.Adapter
		} else {
			merged := make(map[string]engine.Adapter, len(out.Adapter)+len(over.Adapter))
			for k, v := range out.Adapter {
				merged[k] = v
			}
			for k, v := range over.Adapter {
				merged[k] = v
			}
			out.Adapter = merged
		}
	}

	// The retry policy replaces wholesale when the override sets any part
	// of it; field-wise merging would make an explicit jitter of 0
	// indistinguishable from "unset".
	if !reflect.DeepEqual(over.Retry, RetryPolicy{}) {
		out.Retry = over.Retry
	}

	if over.LogLevel != "" {
		out.LogLevel = over.LogLevel
	}
	if over.Reload {
		out.Reload = true
	}
	if over.OnSuccess != nil {
		out.OnSuccess = over.OnSuccess
	}
	if over.OnFailure != nil {
		out.OnFailure = over.OnFailure
	}

	if over.MaxRetries != nil {
		out.MaxRetries = over.MaxRetries
	}
	if over.RetryDelay != nil {
		out.RetryDelay = over.RetryDelay
	}
	if over.JitterFactor != nil {
		out.JitterFactor = over.JitterFactor
	}
	if over.RetryExceptions != nil {
		out.RetryExceptions = over.RetryExceptions
	}

	return &out
}
