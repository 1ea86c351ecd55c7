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
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitIdempotent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	first, err := Init(Options{ServiceName: "test", SpanExporter: exporter})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, Initialized())

	// Repeat calls return the same provider with no side effects, even
	// with different options.
	second, err := Init(Options{ServiceName: "other"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, Active())
}

func TestPushLevelScoping(t *testing.T) {
	EnsureLogging(nil)
	base := baseLevel.Level()

	popDebug := PushLevel("DEBUG")
	assert.Equal(t, slog.LevelDebug, dynamicLevel{}.Level())

	// A concurrent, less verbose override does not clobber the first.
	popError := PushLevel("ERROR")
	assert.Equal(t, slog.LevelDebug, dynamicLevel{}.Level())

	// Popping the verbose override leaves the quieter one active; the
	// effective level is never quieter than the base.
	popDebug()
	assert.Equal(t, base, dynamicLevel{}.Level())
	popError()
	assert.Equal(t, base, dynamicLevel{}.Level())

	// Pop is idempotent.
	popDebug()
	assert.Equal(t, base, dynamicLevel{}.Level())
}

func TestPushLevelConcurrent(t *testing.T) {
	EnsureLogging(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pop := PushLevel("DEBUG")
			defer pop()
			_ = dynamicLevel{}.Level()
		}()
	}
	wg.Wait()

	overrideMu.Lock()
	defer overrideMu.Unlock()
	assert.Empty(t, overrides)
}
