package pipeline

import (
	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
)

// RunOption is a per-call override. Options form the highest-priority
// configuration layer: they apply after the file, environment, and
// RunConfig layers have merged.
type RunOption func(*config.RunConfig) error

// WithInputs deep-merges override inputs for the DAG.
func WithInputs(inputs map[string]any) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.Inputs = config.MergeMaps(cfg.Inputs, inputs)
		return nil
	}
}

// WithFinalVars replaces the requested output variables. Calling it with
// no arguments requests the empty list, which is distinct from leaving the
// field unset.
func WithFinalVars(vars ...string) RunOption {
	return func(cfg *config.RunConfig) error {
		if vars == nil {
			vars = []string{}
		}
		cfg.FinalVars = vars
		return nil
	}
}

// WithEngineConfig deep-merges engine-side configuration.
func WithEngineConfig(values map[string]any) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.Config = config.MergeMaps(cfg.Config, values)
		return nil
	}
}

// WithCache sets the opaque cache policy (mapping, bool, or nil).
func WithCache(cache any) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.Cache = cache
		return nil
	}
}

// WithExecutor accepts a backend name, a mapping, or an ExecutorConfig.
func WithExecutor(v any) RunOption {
	return func(cfg *config.RunConfig) error {
		coerced, err := config.CoerceExecutor(v)
		if err != nil {
			return err
		}
		cfg.Executor = coerced
		return nil
	}
}

// WithAdapterFlag enables or disables one adapter kind for this run.
func WithAdapterFlag(kind string, on bool) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.WithAdapter.Set(kind, on)
		return nil
	}
}

// WithAdapters supplies custom adapter instances keyed by role name.
func WithAdapters(adapters map[string]engine.Adapter) RunOption {
	return func(cfg *config.RunConfig) error {
		if cfg.Adapter == nil {
			cfg.Adapter = make(map[string]engine.Adapter, len(adapters))
		}
		for name, adapter := range adapters {
			cfg.Adapter[name] = adapter
		}
		return nil
	}
}

// WithRetry replaces the retry policy.
func WithRetry(policy config.RetryPolicy) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.Retry = policy
		return nil
	}
}

// WithRetryExceptions sets the legacy top-level retryable error classes,
// which replace (never union) the policy's classes.
//
// Deprecated: set Retry.RetryExceptions (or use WithRetry).
func WithRetryExceptions(names ...string) RunOption {
	return func(cfg *config.RunConfig) error {
		if names == nil {
			names = []string{}
		}
		cfg.RetryExceptions = names
		return nil
	}
}

// WithLogLevel overrides the log level for this run only.
func WithLogLevel(level string) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.LogLevel = level
		return nil
	}
}

// WithReload forces re-import of the user module.
func WithReload() RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.Reload = true
		return nil
	}
}

// OnSuccess registers the success callback, dispatched once after context
// release.
func OnSuccess(fn func(engine.Result)) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.OnSuccess = fn
		return nil
	}
}

// OnFailure registers the failure callback, dispatched once after the
// final failure and context release.
func OnFailure(fn func(error)) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.OnFailure = fn
		return nil
	}
}

// WithMaxRetries sets the legacy top-level retry count.
//
// Deprecated: set Retry.MaxRetries (or use WithRetry). A deprecation
// notice is emitted once per process.
func WithMaxRetries(n int) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.MaxRetries = &n
		return nil
	}
}

// WithRetryDelay sets the legacy top-level retry delay in seconds.
//
// Deprecated: set Retry.RetryDelay (or use WithRetry).
func WithRetryDelay(seconds float64) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.RetryDelay = &seconds
		return nil
	}
}

// WithJitterFactor sets the legacy top-level jitter factor.
//
// Deprecated: set Retry.JitterFactor (or use WithRetry).
func WithJitterFactor(factor float64) RunOption {
	return func(cfg *config.RunConfig) error {
		cfg.JitterFactor = &factor
		return nil
	}
}
