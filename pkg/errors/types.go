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

// Package errors defines the typed error taxonomy of the pipeline runtime.
// Every runtime error carries a machine-readable Kind tag and, where it
// applies, attribution of the configuration layer or component it came from.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category tag of a runtime error.
type Kind string

const (
	// KindConfig covers invalid or missing configuration, interpolation
	// failures, and coercion failures.
	KindConfig Kind = "config"
	// KindImport covers user pipeline modules that cannot be resolved.
	KindImport Kind = "import"
	// KindAdapter covers adapter initialization and teardown failures.
	KindAdapter Kind = "adapter"
	// KindExecutor covers executor backends failing to start or accept work.
	KindExecutor Kind = "executor"
	// KindExecution covers engine execution failures after retries exhausted.
	KindExecution Kind = "execution"
	// KindCancelled covers caller cancellation during a run.
	KindCancelled Kind = "cancelled"
)

// Error is implemented by every typed error in the taxonomy.
type Error interface {
	error

	// Kind returns the machine-readable category of the error.
	Kind() Kind
}

// KindOf returns the Kind of err if it is (or wraps) a taxonomy error,
// and "" otherwise.
func KindOf(err error) Kind {
	var fe Error
	if errors.As(err, &fe) {
		return fe.Kind()
	}
	return ""
}

// ConfigError represents configuration problems: invalid values, failed
// interpolation, failed coercion, or a missing required setting.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "run.executor.type").
	Key string

	// Layer attributes the failing value to its precedence layer
	// ("kwargs", "run_config", "env", "file", "shim", "default").
	Layer string

	// Reason explains what's wrong with the configuration.
	Reason string

	// Cause is the underlying error (e.g., parse error), if any.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Key)
	}
	if e.Layer != "" {
		msg = fmt.Sprintf("%s (layer %s)", msg, e.Layer)
	}
	return fmt.Sprintf("%s: %s", msg, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error { return e.Cause }

// Kind returns KindConfig.
func (e *ConfigError) Kind() Kind { return KindConfig }

// PipelineImportError indicates a user pipeline module could not be resolved.
// Import failures are fatal and never retried.
type PipelineImportError struct {
	// Pipeline is the pipeline name whose module failed to resolve.
	Pipeline string

	// Cause is the underlying resolution error.
	Cause error
}

// Error implements the error interface.
func (e *PipelineImportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pipeline %s: module import failed: %v", e.Pipeline, e.Cause)
	}
	return fmt.Sprintf("pipeline %s: module import failed", e.Pipeline)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PipelineImportError) Unwrap() error { return e.Cause }

// Kind returns KindImport.
func (e *PipelineImportError) Kind() Kind { return KindImport }

// AdapterError indicates an adapter failed to initialize or tear down.
// Adapter init failures abort the run and are never retried.
type AdapterError struct {
	// Adapter is the adapter kind ("tracker", "opentelemetry", ...).
	Adapter string

	// Reason describes the failure.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Adapter != "" {
		return fmt.Sprintf("adapter %s: %s", e.Adapter, e.Reason)
	}
	return fmt.Sprintf("adapter error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AdapterError) Unwrap() error { return e.Cause }

// Kind returns KindAdapter.
func (e *AdapterError) Kind() Kind { return KindAdapter }

// ExecutorError indicates an executor backend failed to start or accept work.
type ExecutorError struct {
	// Backend is the executor type ("threadpool", "processpool", "ray", ...).
	Backend string

	// Reason describes the failure.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("executor %s: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("executor error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutorError) Unwrap() error { return e.Cause }

// Kind returns KindExecutor.
func (e *ExecutorError) Kind() Kind { return KindExecutor }

// PipelineExecutionError wraps the engine-raised error that remained after
// all retry attempts were exhausted.
type PipelineExecutionError struct {
	// Pipeline is the pipeline name that failed.
	Pipeline string

	// Attempts is the total number of attempts made (initial + retries).
	Attempts int

	// Cause is the last engine error.
	Cause error
}

// Error implements the error interface.
func (e *PipelineExecutionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("pipeline %s: execution failed after %d attempts: %v", e.Pipeline, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("pipeline %s: execution failed: %v", e.Pipeline, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PipelineExecutionError) Unwrap() error { return e.Cause }

// Kind returns KindExecution.
func (e *PipelineExecutionError) Kind() Kind { return KindExecution }

// CancelledError indicates the caller cancelled the run.
type CancelledError struct {
	// Pipeline is the pipeline name whose run was cancelled.
	Pipeline string

	// Cause is the context error that triggered cancellation.
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("pipeline %s: run cancelled", e.Pipeline)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error { return e.Cause }

// Kind returns KindCancelled.
func (e *CancelledError) Kind() Kind { return KindCancelled }
