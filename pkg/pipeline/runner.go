package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower/internal/execctx"
	"github.com/legout/flowerpower/internal/log"
	"github.com/legout/flowerpower/internal/retry"
	"github.com/legout/flowerpower/internal/telemetry"
	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run executes a named pipeline to completion and returns its result
// mapping. The effective configuration is assembled as
// defaults ← file ← env overlay ← runCfg ← opts, highest last.
func (m *Manager) Run(ctx context.Context, name string, runCfg *config.RunConfig, opts ...RunOption) (engine.Result, error) {
	return m.run(ctx, name, runCfg, opts)
}

// RunAsync starts the same run on its own goroutine and returns a handle.
// Cancelling the handle interrupts the in-flight attempt and any pending
// retry delay.
func (m *Manager) RunAsync(ctx context.Context, name string, runCfg *config.RunConfig, opts ...RunOption) *AsyncRun {
	runCtx, cancel := context.WithCancel(ctx)
	ar := &AsyncRun{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(ar.done)
		ar.result, ar.err = m.run(runCtx, name, runCfg, opts)
	}()
	return ar
}

// AsyncRun is the handle of one asynchronous pipeline run.
type AsyncRun struct {
	done   chan struct{}
	cancel context.CancelFunc
	result engine.Result
	err    error
}

// Done is closed when the run terminates.
func (a *AsyncRun) Done() <-chan struct{} { return a.done }

// Cancel interrupts the run; in-flight work is cancelled and no further
// retries are scheduled.
func (a *AsyncRun) Cancel() { a.cancel() }

// Result blocks until the run terminates and returns its outcome.
func (a *AsyncRun) Result() (engine.Result, error) {
	<-a.done
	return a.result, a.err
}

// run is the single orchestration path shared by Run and RunAsync.
func (m *Manager) run(ctx context.Context, name string, runCfg *config.RunConfig, opts []RunOption) (engine.Result, error) {
	if !identifierRe.MatchString(name) {
		return nil, &fperrors.ConfigError{
			Key:    "name",
			Reason: fmt.Sprintf("pipeline name %q is not a valid identifier", name),
		}
	}

	logger := m.logger

	provider, err := telemetry.Init(m.telemetryOpts)
	if err != nil {
		logger.Warn("telemetry initialization failed, continuing without it", "error", err)
	}

	effective, err := m.resolveConfig(name, runCfg, opts, logger)
	if err != nil {
		return nil, err
	}

	if effective.LogLevel != "" {
		pop := telemetry.PushLevel(effective.LogLevel)
		defer pop()
	}

	module, err := m.registry.Resolve(name, effective.Reload)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	runLogger := log.WithRunContext(logger, runID, name)

	ec, err := execctx.Build(ctx, effective, runLogger)
	if err != nil {
		return nil, err
	}

	var metrics *telemetry.Metrics
	if provider != nil {
		metrics = provider.Metrics()
		metrics.RunStarted()
	}

	runLogger.Info("pipeline run started",
		log.ExecutorKey, ec.Executor.Kind(),
		"adapters", len(ec.Adapters),
	)
	start := time.Now()

	attempts := 0
	policy := retry.Policy{
		MaxRetries: effective.Retry.MaxRetries,
		Delay:      effective.Retry.Delay(),
		Jitter:     effective.Retry.JitterFactor,
		Retryable:  effective.Retry.Matcher(),
	}
	result, runErr := retry.Do(ctx, runLogger, policy, func(ctx context.Context) (engine.Result, error) {
		attempts++
		return m.engine.Execute(ctx, engine.Request{
			Module:    module,
			Inputs:    effective.Inputs,
			FinalVars: effective.FinalVars,
			Config:    effective.Config,
			Cache:     effective.Cache,
			Adapters:  ec.Adapters,
			Executor:  ec.Executor,
			RunID:     runID,
		})
	})

	// Release is guaranteed on every exit path, before callbacks fire;
	// cancellation must not starve teardown of its context.
	ec.Release(context.WithoutCancel(ctx))

	if metrics != nil {
		metrics.RunFinished(context.WithoutCancel(ctx), name, runErr == nil, time.Since(start).Seconds(), attempts)
	}

	if runErr != nil {
		wrapped := wrapRunError(name, attempts, runErr)
		runLogger.Error("pipeline run failed",
			"attempts", attempts,
			"duration_ms", time.Since(start).Milliseconds(),
			log.Error(wrapped),
		)
		dispatchFailure(runLogger, effective.OnFailure, wrapped)
		return nil, wrapped
	}

	runLogger.Info("pipeline run succeeded",
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	dispatchSuccess(runLogger, effective.OnSuccess, result)
	return result, nil
}

// resolveConfig assembles the effective run configuration from all six
// precedence layers and normalizes it. Environment overlays are evaluated
// once, here; later env mutations have no effect on the run.
func (m *Manager) resolveConfig(name string, runCfg *config.RunConfig, opts []RunOption, logger *slog.Logger) (*config.RunConfig, error) {
	pcfg, proj, err := config.LoadEffective(name, config.LoadOptions{BaseDir: m.baseDir})
	if err != nil {
		return nil, err
	}

	effective := pcfg.Run.Copy()
	effective.ProjectAdapterCfg = proj.Adapter.Merge(effective.ProjectAdapterCfg)
	effective.PipelineAdapterCfg = pcfg.Adapter.Merge(effective.PipelineAdapterCfg)

	effective = config.ApplyOverride(effective, runCfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(effective); err != nil {
			return nil, err
		}
	}

	// Deprecation notices for legacy fields emit here, before execution.
	if err := effective.Normalize(logger); err != nil {
		return nil, err
	}
	return effective, nil
}

// wrapRunError maps the terminal retry-loop error to the public taxonomy.
func wrapRunError(name string, attempts int, runErr error) error {
	if errors.Is(runErr, context.Canceled) {
		return &fperrors.CancelledError{Pipeline: name, Cause: runErr}
	}
	return &fperrors.PipelineExecutionError{
		Pipeline: name,
		Attempts: attempts,
		Cause:    runErr,
	}
}

// dispatchSuccess invokes the success callback; callback failures are
// logged and never alter the run's outcome.
func dispatchSuccess(logger *slog.Logger, fn func(engine.Result), result engine.Result) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("success callback panicked", "panic", r)
		}
	}()
	fn(result)
}

// dispatchFailure invokes the failure callback under the same protection.
func dispatchFailure(logger *slog.Logger, fn func(error), runErr error) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("failure callback panicked", "panic", r)
		}
	}()
	fn(runErr)
}
