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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestBuildUnknownKind(t *testing.T) {
	_, err := Build("ray", nil, discard())
	var adapterErr *fperrors.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, adapterErr.Error(), "ray adapter requires optional dependency")
}

func TestBuildBuiltins(t *testing.T) {
	for _, kind := range []string{"tracker", "opentelemetry", "progressbar"} {
		adapter, err := Build(kind, nil, discard())
		require.NoError(t, err, kind)
		assert.Equal(t, kind, adapter.Name())
	}
}

func TestBuildMLflowRequiresTrackingURI(t *testing.T) {
	_, err := Build("mlflow", nil, discard())
	var adapterErr *fperrors.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, adapterErr.Reason, "tracking_uri")

	adapter, err := Build("mlflow", map[string]any{"tracking_uri": "http://localhost:5000"}, discard())
	require.NoError(t, err)
	assert.Equal(t, "mlflow", adapter.Name())
}

func TestTrackerRecordsRunLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	adapter, err := Build("tracker", map[string]any{"path": path}, discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Init(ctx))

	info := engine.RunInfo{RunID: "run-1", Pipeline: "p1"}
	adapter.RunStarted(ctx, info)
	adapter.NodeStarted(ctx, engine.NodeInfo{Name: "load"})
	adapter.NodeFinished(ctx, engine.NodeInfo{Name: "load"}, nil)
	adapter.RunFinished(ctx, info, nil)
	require.NoError(t, adapter.Close(ctx))

	tracker := adapter.(*Tracker)
	assert.Equal(t, path, tracker.path)
}

func TestRegisterCustomFactory(t *testing.T) {
	Register("noop_test", func(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
		return newTracker(map[string]any{"path": ":memory:"}, logger)
	})
	adapter, err := Build("noop_test", nil, discard())
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestSettingsAccessors(t *testing.T) {
	s := settings{"path": "/tmp/x", "events_per_second": 5, "ratio": 0.5}
	assert.Equal(t, "/tmp/x", s.str("path", "default"))
	assert.Equal(t, "default", s.str("missing", "default"))
	assert.Equal(t, float64(5), s.num("events_per_second", 1))
	assert.Equal(t, 0.5, s.num("ratio", 1))
	assert.Equal(t, float64(1), s.num("missing", 1))
}
