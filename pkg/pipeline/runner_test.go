package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// fakeEngine fails a configurable number of times, then returns result.
type fakeEngine struct {
	mu       sync.Mutex
	failures int
	failWith error
	result   engine.Result
	requests []engine.Request
	block    chan struct{} // when set, Execute blocks until ctx is done
}

func (e *fakeEngine) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	shouldFail := e.failures > 0
	if shouldFail {
		e.failures--
	}
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if shouldFail {
		return nil, e.failWith
	}
	return e.result, nil
}

func (e *fakeEngine) attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// releaseTracker observes adapter lifecycle relative to callbacks.
type releaseTracker struct {
	mu       sync.Mutex
	closed   int
	closedAt []time.Time
}

func (a *releaseTracker) Name() string                                                  { return "release_tracker" }
func (a *releaseTracker) Init(ctx context.Context) error                                { return nil }
func (a *releaseTracker) RunStarted(ctx context.Context, info engine.RunInfo)           {}
func (a *releaseTracker) NodeStarted(ctx context.Context, info engine.NodeInfo)         {}
func (a *releaseTracker) NodeFinished(ctx context.Context, info engine.NodeInfo, e error) {}
func (a *releaseTracker) RunFinished(ctx context.Context, info engine.RunInfo, e error) {}
func (a *releaseTracker) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	a.closedAt = append(a.closedAt, time.Now())
	return nil
}

func (a *releaseTracker) closeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func newManager(t *testing.T, eng engine.Engine, baseDir string) *Manager {
	t.Helper()
	m, err := New(
		WithEngine(eng),
		WithBaseDir(baseDir),
		WithModule("p1", func() (engine.Module, error) {
			return stubModule("p1"), nil
		}),
	)
	require.NoError(t, err)
	return m
}

type stubModule string

func (m stubModule) Name() string { return string(m) }

func writeConfig(t *testing.T, baseDir, name, content string) {
	t.Helper()
	dir := filepath.Join(baseDir, "conf", "pipelines")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0o644))
}

func TestBasicSyncRun(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", "run:\n  log_level: INFO\n  executor:\n    type: synchronous\n")

	eng := &fakeEngine{result: engine.Result{"y": 4}}
	m := newManager(t, eng, base)

	tracker := &releaseTracker{}
	result, err := m.Run(context.Background(), "p1", nil,
		WithInputs(map[string]any{"x": 2}),
		WithAdapters(map[string]engine.Adapter{"tracker": tracker}),
	)
	require.NoError(t, err)

	assert.Equal(t, engine.Result{"y": 4}, result)
	assert.Equal(t, 1, eng.attempts())
	assert.Equal(t, 1, tracker.closeCount())

	req := eng.requests[0]
	assert.Equal(t, map[string]any{"x": 2}, req.Inputs)
	assert.Equal(t, "p1", req.Module.Name())
	assert.Equal(t, "synchronous", req.Executor.Kind())
	assert.NotEmpty(t, req.RunID)
}

func TestInvalidPipelineName(t *testing.T) {
	m := newManager(t, &fakeEngine{}, t.TempDir())

	_, err := m.Run(context.Background(), "not a name!", nil)
	var cfgErr *fperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestUnknownModuleIsImportError(t *testing.T) {
	m := newManager(t, &fakeEngine{}, t.TempDir())

	_, err := m.Run(context.Background(), "missing", nil)
	var importErr *fperrors.PipelineImportError
	require.ErrorAs(t, err, &importErr)
}

func TestRetryEventualSuccess(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", `
run:
  retry:
    max_retries: 2
    retry_delay: 0.02
    jitter_factor: 0.0
    retry_exceptions: [Exception]
`)

	eng := &fakeEngine{failures: 2, failWith: errors.New("transient"), result: engine.Result{"v": 1}}
	m := newManager(t, eng, base)

	tracker := &releaseTracker{}
	var successResult engine.Result
	var successAt time.Time

	result, err := m.Run(context.Background(), "p1", nil,
		WithAdapters(map[string]engine.Adapter{"t": tracker}),
		OnSuccess(func(r engine.Result) {
			successResult = r
			successAt = time.Now()
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, engine.Result{"v": 1}, result)
	assert.Equal(t, 3, eng.attempts())
	assert.Equal(t, engine.Result{"v": 1}, successResult)

	// The success callback fires after context release.
	require.Equal(t, 1, tracker.closeCount())
	assert.False(t, successAt.Before(tracker.closedAt[0]))
}

func TestRetryExhausted(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", `
run:
  retry:
    max_retries: 2
    retry_delay: 0.01
    retry_exceptions: [Exception]
`)

	cause := errors.New("permanently broken")
	eng := &fakeEngine{failures: 99, failWith: cause}
	m := newManager(t, eng, base)

	tracker := &releaseTracker{}
	var failureErr error

	_, err := m.Run(context.Background(), "p1", nil,
		WithAdapters(map[string]engine.Adapter{"t": tracker}),
		OnFailure(func(e error) { failureErr = e }),
	)

	var execErr *fperrors.PipelineExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, execErr.Attempts)
	assert.Equal(t, 3, eng.attempts())

	// Failure callback fired once with the wrapped error; context released
	// exactly once.
	assert.Equal(t, err, failureErr)
	assert.Equal(t, 1, tracker.closeCount())
}

func TestEmptyRetryExceptionsDisablesRetry(t *testing.T) {
	eng := &fakeEngine{failures: 99, failWith: errors.New("boom")}
	m := newManager(t, eng, t.TempDir())

	_, err := m.Run(context.Background(), "p1", nil,
		WithRetry(config.RetryPolicy{MaxRetries: 5, RetryDelay: 0.01, RetryExceptions: []string{}}),
	)
	require.Error(t, err)
	assert.Equal(t, 1, eng.attempts())
}

func TestKwargsOverrideRunConfig(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", "run:\n  log_level: INFO\n")

	eng := &fakeEngine{result: engine.Result{}}
	m := newManager(t, eng, base)

	runCfg := &config.RunConfig{Inputs: map[string]any{"x": 1, "keep": true}}
	_, err := m.Run(context.Background(), "p1", runCfg,
		WithInputs(map[string]any{"x": 2}),
		WithFinalVars("y"),
	)
	require.NoError(t, err)

	req := eng.requests[0]
	assert.Equal(t, map[string]any{"x": 2, "keep": true}, req.Inputs)
	assert.Equal(t, []string{"y"}, req.FinalVars)
}

func TestFinalVarsPassThroughDistinction(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{}}
	m := newManager(t, eng, t.TempDir())

	_, err := m.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Nil(t, eng.requests[0].FinalVars)

	_, err = m.Run(context.Background(), "p1", nil, WithFinalVars())
	require.NoError(t, err)
	assert.NotNil(t, eng.requests[1].FinalVars)
	assert.Len(t, eng.requests[1].FinalVars, 0)
}

func TestEnvOverlayOverridesFileForRun(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", "run:\n  log_level: INFO\n  inputs:\n    flag: false\n")
	t.Setenv("FP_PIPELINE__RUN__INPUTS__FLAG", "true")

	eng := &fakeEngine{result: engine.Result{}}
	m := newManager(t, eng, base)

	_, err := m.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"flag": true}, eng.requests[0].Inputs)
}

func TestCallbackFailureDoesNotAlterOutcome(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{"ok": true}}
	m := newManager(t, eng, t.TempDir())

	result, err := m.Run(context.Background(), "p1", nil,
		OnSuccess(func(engine.Result) { panic("callback bug") }),
	)
	require.NoError(t, err)
	assert.Equal(t, engine.Result{"ok": true}, result)
}

func TestRunAsyncCancellation(t *testing.T) {
	block := make(chan struct{})
	eng := &fakeEngine{result: engine.Result{}, block: block}
	m := newManager(t, eng, t.TempDir())

	tracker := &releaseTracker{}
	run := m.RunAsync(context.Background(), "p1", nil,
		WithAdapters(map[string]engine.Adapter{"t": tracker}),
		WithRetry(config.RetryPolicy{MaxRetries: 3, RetryDelay: 10}),
	)

	// Let the attempt start, then cancel.
	time.Sleep(20 * time.Millisecond)
	run.Cancel()

	_, err := run.Result()
	var cancelled *fperrors.CancelledError
	require.ErrorAs(t, err, &cancelled)

	// No further retries were scheduled and the context was released.
	assert.Equal(t, 1, eng.attempts())
	assert.Equal(t, 1, tracker.closeCount())
}

func TestRunAsyncSuccess(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{"done": true}}
	m := newManager(t, eng, t.TempDir())

	run := m.RunAsync(context.Background(), "p1", nil)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("async run did not finish")
	}

	result, err := run.Result()
	require.NoError(t, err)
	assert.Equal(t, engine.Result{"done": true}, result)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{"ok": true}}
	m := newManager(t, eng, t.TempDir())

	var failures int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Run(context.Background(), "p1", nil); err != nil {
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt64(&failures))
	assert.Equal(t, 8, eng.attempts())
}

func TestReloadForcesReimport(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{}}
	imports := 0
	m, err := New(
		WithEngine(eng),
		WithModule("p1", func() (engine.Module, error) {
			imports++
			return stubModule("p1"), nil
		}),
	)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, imports)

	_, err = m.Run(context.Background(), "p1", nil, WithReload())
	require.NoError(t, err)
	assert.Equal(t, 2, imports)
}

func TestFileInterpolationFailureStopsBeforeImport(t *testing.T) {
	base := t.TempDir()
	writeConfig(t, base, "p1", "adapter:\n  tracker:\n    api_key: \"${FP_TEST_REQUIRED_KEY:?Missing tracker key}\"\n")

	imports := 0
	m, err := New(
		WithEngine(&fakeEngine{}),
		WithBaseDir(base),
		WithModule("p1", func() (engine.Module, error) {
			imports++
			return stubModule("p1"), nil
		}),
	)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), "p1", nil)
	var cfgErr *fperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "Missing tracker key")
	assert.Zero(t, imports)
}
