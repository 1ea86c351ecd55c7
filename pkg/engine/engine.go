// Package engine declares the contract between the pipeline runtime and the
// dataflow engine that executes DAGs of pure functions. The engine itself is
// an external capability: the runtime assembles modules, executors, and
// adapters and hands them over through Execute.
package engine

import (
	"context"
)

// Result maps output variable names to their computed values.
type Result map[string]any

// Module is a loaded user pipeline module: a named collection of pure
// functions the engine resolves into a dependency graph.
type Module interface {
	// Name returns the pipeline module name.
	Name() string
}

// Task is a unit of DAG node work the engine schedules on an Executor.
type Task func(ctx context.Context) error

// TaskSpec is a process-runnable description of node work, for backends
// that execute outside the current process.
type TaskSpec struct {
	// Module is the pipeline module name; workers resolve it locally, so
	// the module must be linked into the worker binary.
	Module string `json:"module"`

	// Node is the DAG node to execute.
	Node string `json:"node"`

	// Payload is the engine-defined node payload.
	Payload []byte `json:"payload,omitempty"`
}

// SpecExecutor is implemented by backends that distribute work to other
// processes. Engines submit specs instead of closures on such backends;
// closures submitted through Go are rejected at submit time.
type SpecExecutor interface {
	// GoSpec schedules a process-runnable task.
	GoSpec(ctx context.Context, spec TaskSpec) error
}

// Executor is the parallelism substrate the engine runs node work on.
// The runtime owns its lifecycle; the engine only schedules onto it.
type Executor interface {
	// Kind returns the backend type ("synchronous", "threadpool", ...).
	Kind() string

	// Go schedules a task. Depending on the backend it may run inline or
	// concurrently; backends return an error when they cannot accept work.
	Go(ctx context.Context, task Task) error

	// Wait blocks until all scheduled tasks have finished and returns the
	// first task error, if any.
	Wait() error

	// Shutdown releases the backend's resources. Safe to call more than once.
	Shutdown(ctx context.Context) error
}

// RunInfo identifies one pipeline run to adapters.
type RunInfo struct {
	// RunID is the unique identifier of this run.
	RunID string

	// Pipeline is the pipeline name.
	Pipeline string

	// FinalVars are the requested output variables (nil means engine default).
	FinalVars []string
}

// NodeInfo identifies one DAG node execution to adapters.
type NodeInfo struct {
	// Name is the node (function) name.
	Name string

	// Index and Total describe the node's position in the run, when the
	// engine reports them; both are 0 when unknown.
	Index int
	Total int
}

// Adapter observes or augments a single run. Adapters are built per run,
// initialized before execution, and closed in reverse order on release.
type Adapter interface {
	// Name returns the adapter kind for logging and error attribution.
	Name() string

	// Init prepares the adapter for one run. An error aborts the run.
	Init(ctx context.Context) error

	// RunStarted is invoked once before the first node executes.
	RunStarted(ctx context.Context, info RunInfo)

	// NodeStarted is invoked when a DAG node begins executing.
	NodeStarted(ctx context.Context, info NodeInfo)

	// NodeFinished is invoked when a DAG node finishes; err is nil on success.
	NodeFinished(ctx context.Context, info NodeInfo, err error)

	// RunFinished is invoked once per attempt after the engine returns;
	// err is nil on success.
	RunFinished(ctx context.Context, info RunInfo, err error)

	// Close releases adapter resources. Errors are logged, never raised.
	Close(ctx context.Context) error
}

// Request carries everything the engine needs for one execution attempt.
type Request struct {
	// Module is the resolved user pipeline module.
	Module Module

	// Inputs are override values fed into the DAG.
	Inputs map[string]any

	// FinalVars are the output node names to return. Nil and empty both
	// pass through unchanged; the engine applies its own default.
	FinalVars []string

	// Config is engine-side configuration.
	Config map[string]any

	// Cache is the opaque cache policy (mapping, bool, or nil).
	Cache any

	// Adapters observe the run, in initialization order.
	Adapters []Adapter

	// Executor is the parallelism substrate for node work.
	Executor Executor

	// RunID identifies the run for tracing and adapter correlation.
	RunID string
}

// Engine executes a DAG over a module and returns the requested outputs.
type Engine interface {
	// Execute runs the request to completion or ctx cancellation.
	Execute(ctx context.Context, req Request) (Result, error)
}
