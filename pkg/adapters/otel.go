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

package adapters

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/legout/flowerpower/pkg/engine"
)

// OpenTelemetry emits one span per run with child spans per DAG node,
// through the process tracer provider.
type OpenTelemetry struct {
	tracer trace.Tracer
	logger *slog.Logger

	mu      sync.Mutex
	runCtx  context.Context
	runSpan trace.Span
	nodes   map[string]trace.Span
}

func newOpenTelemetry(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
	scope := settings(cfg).str("scope", "flowerpower.pipeline")
	return &OpenTelemetry{
		tracer: otel.Tracer(scope),
		logger: logger,
		nodes:  make(map[string]trace.Span),
	}, nil
}

// Name returns "opentelemetry".
func (o *OpenTelemetry) Name() string { return "opentelemetry" }

// Init is a no-op; the tracer provider is process-wide.
func (o *OpenTelemetry) Init(ctx context.Context) error { return nil }

// RunStarted opens the run's root span.
func (o *OpenTelemetry) RunStarted(ctx context.Context, info engine.RunInfo) {
	runCtx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline", info.Pipeline),
			attribute.String("run_id", info.RunID),
			attribute.StringSlice("final_vars", info.FinalVars),
		),
	)
	o.mu.Lock()
	o.runCtx = runCtx
	o.runSpan = span
	o.mu.Unlock()
}

// NodeStarted opens a child span for the node.
func (o *OpenTelemetry) NodeStarted(ctx context.Context, info engine.NodeInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.runCtx
	if parent == nil {
		parent = ctx
	}
	_, span := o.tracer.Start(parent, "pipeline.node",
		trace.WithAttributes(attribute.String("node", info.Name)),
	)
	o.nodes[info.Name] = span
}

// NodeFinished closes the node's span with its outcome.
func (o *OpenTelemetry) NodeFinished(ctx context.Context, info engine.NodeInfo, err error) {
	o.mu.Lock()
	span, ok := o.nodes[info.Name]
	delete(o.nodes, info.Name)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RunFinished closes the root span.
func (o *OpenTelemetry) RunFinished(ctx context.Context, info engine.RunInfo, err error) {
	o.mu.Lock()
	span := o.runSpan
	o.runSpan = nil
	o.runCtx = nil
	o.mu.Unlock()
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Close ends any spans left open by an aborted run.
func (o *OpenTelemetry) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, span := range o.nodes {
		span.End()
		delete(o.nodes, name)
	}
	if o.runSpan != nil {
		o.runSpan.End()
		o.runSpan = nil
	}
	return nil
}
