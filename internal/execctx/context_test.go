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

package execctx

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// recordingAdapter tracks lifecycle calls for ordering assertions.
type recordingAdapter struct {
	name    string
	events  *[]string
	initErr error
}

func (a *recordingAdapter) Name() string { return a.name }
func (a *recordingAdapter) Init(ctx context.Context) error {
	*a.events = append(*a.events, "init:"+a.name)
	return a.initErr
}
func (a *recordingAdapter) RunStarted(ctx context.Context, info engine.RunInfo)  {}
func (a *recordingAdapter) NodeStarted(ctx context.Context, info engine.NodeInfo) {}
func (a *recordingAdapter) NodeFinished(ctx context.Context, info engine.NodeInfo, err error) {
}
func (a *recordingAdapter) RunFinished(ctx context.Context, info engine.RunInfo, err error) {}
func (a *recordingAdapter) Close(ctx context.Context) error {
	*a.events = append(*a.events, "close:"+a.name)
	return nil
}

func TestBuildCustomAdaptersAndReverseRelease(t *testing.T) {
	var events []string
	cfg := config.DefaultRunConfig()
	cfg.Adapter = map[string]engine.Adapter{
		"b_second": &recordingAdapter{name: "b_second", events: &events},
		"a_first":  &recordingAdapter{name: "a_first", events: &events},
	}

	ec, err := Build(context.Background(), cfg, discard())
	require.NoError(t, err)
	require.Len(t, ec.Adapters, 2)

	// Custom adapters attach in deterministic (sorted) order.
	assert.Equal(t, []string{"init:a_first", "init:b_second"}, events)

	ec.Release(context.Background())
	assert.Equal(t, []string{"init:a_first", "init:b_second", "close:b_second", "close:a_first"}, events)
	assert.True(t, ec.Released())

	// Release is exactly-once.
	ec.Release(context.Background())
	assert.Len(t, events, 4)
}

func TestBuildAdapterInitFailureReleasesPartial(t *testing.T) {
	var events []string
	boom := errors.New("no backend")
	cfg := config.DefaultRunConfig()
	cfg.Adapter = map[string]engine.Adapter{
		"a_ok":   &recordingAdapter{name: "a_ok", events: &events},
		"b_bad":  &recordingAdapter{name: "b_bad", events: &events, initErr: boom},
		"c_never": &recordingAdapter{name: "c_never", events: &events},
	}

	_, err := Build(context.Background(), cfg, discard())
	var adapterErr *fperrors.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "b_bad", adapterErr.Adapter)

	// a_ok was initialized and then released; c_never was never touched.
	assert.Equal(t, []string{"init:a_ok", "init:b_bad", "close:a_ok"}, events)
}

func TestBuildUnknownAdapterKind(t *testing.T) {
	cfg := config.DefaultRunConfig()
	cfg.WithAdapter.Set("ray", true)

	_, err := Build(context.Background(), cfg, discard())
	var adapterErr *fperrors.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, adapterErr.Error(), "optional dependency")
}

func TestBuildExecutorFromConfig(t *testing.T) {
	cfg := config.DefaultRunConfig()
	cfg.Executor = config.ExecutorConfig{Type: config.ExecutorThreadpool, MaxWorkers: 2}

	ec, err := Build(context.Background(), cfg, discard())
	require.NoError(t, err)
	assert.Equal(t, config.ExecutorThreadpool, ec.Executor.Kind())
	ec.Release(context.Background())
}
