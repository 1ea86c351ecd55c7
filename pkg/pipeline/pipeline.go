// Package pipeline is the public entry point of the execution runtime: it
// assembles merged run configuration, builds the execution context, and
// drives the dataflow engine with retry, cancellation, telemetry, and
// callback semantics — synchronously and asynchronously.
package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/legout/flowerpower/internal/log"
	"github.com/legout/flowerpower/internal/modload"
	"github.com/legout/flowerpower/internal/telemetry"
	"github.com/legout/flowerpower/pkg/engine"
)

// Manager executes named pipelines against a dataflow engine.
type Manager struct {
	engine        engine.Engine
	baseDir       string
	logger        *slog.Logger
	registry      *modload.Registry
	telemetryOpts telemetry.Options
	watch         bool

	pendingModules []pendingModule
}

// Option configures a Manager.
type Option func(*Manager) error

// WithEngine sets the dataflow engine. Required.
func WithEngine(e engine.Engine) Option {
	return func(m *Manager) error {
		if e == nil {
			return fmt.Errorf("engine cannot be nil")
		}
		m.engine = e
		return nil
	}
}

// WithBaseDir sets the project root holding conf/ and the pipelines dir.
func WithBaseDir(dir string) Option {
	return func(m *Manager) error {
		m.baseDir = dir
		return nil
	}
}

// WithLogger sets a custom structured logger. If not set, the process
// logger installed by the telemetry layer is used.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithTelemetryOptions overrides telemetry initialization settings. Only
// the first Manager (or caller) to initialize telemetry wins; the call is
// idempotent process-wide.
func WithTelemetryOptions(opts telemetry.Options) Option {
	return func(m *Manager) error {
		m.telemetryOpts = opts
		return nil
	}
}

// WithModule pre-registers a pipeline module factory.
func WithModule(name string, factory modload.ModuleFactory) Option {
	return func(m *Manager) error {
		if factory == nil {
			return fmt.Errorf("module factory cannot be nil")
		}
		m.pendingModules = append(m.pendingModules, pendingModule{name: name, factory: factory})
		return nil
	}
}

// WithFileWatcher invalidates cached modules when pipeline config files
// change on disk.
func WithFileWatcher() Option {
	return func(m *Manager) error {
		m.watch = true
		return nil
	}
}

type pendingModule struct {
	name    string
	factory modload.ModuleFactory
}

// New builds a Manager. Unless WithLogger supplied a logger, logging is
// initialized once per process here; telemetry initializes lazily on the
// first run.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		telemetryOpts: telemetry.Options{ServiceName: "flowerpower"},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.engine == nil {
		return nil, fmt.Errorf("pipeline manager requires an engine (use WithEngine)")
	}

	if m.logger == nil {
		m.logger = log.WithComponent(telemetry.EnsureLogging(log.FromEnv()), "pipeline")
	}

	pipelinesDir := ""
	if m.baseDir != "" {
		pipelinesDir = filepath.Join(m.baseDir, "conf", "pipelines")
	}
	m.registry = modload.NewRegistry(pipelinesDir, m.logger)
	for _, pm := range m.pendingModules {
		m.registry.Register(pm.name, pm.factory)
	}
	m.pendingModules = nil

	if m.watch {
		if err := m.registry.Watch(); err != nil {
			m.logger.Warn("pipeline file watcher unavailable", "error", err)
		}
	}

	return m, nil
}

// RegisterModule installs a pipeline module factory after construction.
func (m *Manager) RegisterModule(name string, factory modload.ModuleFactory) {
	m.registry.Register(name, factory)
}

// Close stops the module file watcher, if running.
func (m *Manager) Close() error {
	return m.registry.Close()
}
