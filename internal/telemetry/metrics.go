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

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records pipeline run metrics through the process meter provider.
type Metrics struct {
	runsTotal    metric.Int64Counter
	retriesTotal metric.Int64Counter
	runDuration  metric.Float64Histogram

	activeMu   sync.RWMutex
	activeRuns int64
}

func newMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("flowerpower")

	m := &Metrics{}
	var err error

	m.runsTotal, err = meter.Int64Counter(
		"flowerpower_runs_total",
		metric.WithDescription("Total number of pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.retriesTotal, err = meter.Int64Counter(
		"flowerpower_retries_total",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.runDuration, err = meter.Float64Histogram(
		"flowerpower_run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"flowerpower_active_runs",
		metric.WithDescription("Number of currently active pipeline runs"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			m.activeMu.RLock()
			count := m.activeRuns
			m.activeMu.RUnlock()
			observer.Observe(count)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted bumps the active run gauge.
func (m *Metrics) RunStarted() {
	m.activeMu.Lock()
	m.activeRuns++
	m.activeMu.Unlock()
}

// RunFinished records one completed run.
func (m *Metrics) RunFinished(ctx context.Context, pipeline string, success bool, seconds float64, attempts int) {
	m.activeMu.Lock()
	m.activeRuns--
	m.activeMu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.Bool("success", success),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, seconds, attrs)
	if attempts > 1 {
		m.retriesTotal.Add(ctx, int64(attempts-1), metric.WithAttributes(
			attribute.String("pipeline", pipeline),
		))
	}
}
