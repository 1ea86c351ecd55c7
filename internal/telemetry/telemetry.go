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

// Package telemetry owns the process-wide observability state: one-time
// OpenTelemetry initialization, the runtime metrics, and the scoped log
// level overrides. This is the only shared mutable state the runtime holds
// besides the module cache.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures one-time telemetry initialization.
type Options struct {
	// ServiceName and ServiceVersion identify this process in traces.
	ServiceName    string
	ServiceVersion string

	// SpanExporter overrides the default stdout trace exporter.
	SpanExporter sdktrace.SpanExporter

	// SampleRatio is the trace sampling ratio; 0 means always sample.
	SampleRatio float64
}

// Provider bundles the process tracer and meter providers.
type Provider struct {
	tp      *sdktrace.TracerProvider
	mp      *metric.MeterProvider
	metrics *Metrics
}

var (
	initOnce sync.Once
	initErr  error
	provider *Provider
)

// Init initializes telemetry exactly once per process. Repeated calls
// return the first result and have no further side effects.
func Init(opts Options) (*Provider, error) {
	initOnce.Do(func() {
		provider, initErr = newProvider(opts)
	})
	return provider, initErr
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	return provider != nil
}

// Active returns the process provider, or nil before Init.
func Active() *Provider { return provider }

func newProvider(opts Options) (*Provider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "flowerpower"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter := opts.SpanExporter
	if exporter == nil {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	metrics, err := newMetrics(mp)
	if err != nil {
		return nil, err
	}

	return &Provider{tp: tp, mp: mp, metrics: metrics}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Metrics returns the runtime metrics recorder.
func (p *Provider) Metrics() *Metrics { return p.metrics }

// MetricsHandler exposes the Prometheus metrics endpoint.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending spans and metrics. Safe to call repeatedly.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
