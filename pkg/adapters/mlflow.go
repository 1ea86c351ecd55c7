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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/legout/flowerpower/internal/httpclient"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// MLflow mirrors runs into an MLflow tracking server over its REST API.
type MLflow struct {
	trackingURI string
	experiment  string
	token       string
	client      *http.Client
	logger      *slog.Logger

	mu           sync.Mutex
	experimentID string
	mlflowRunID  string
}

func newMLflow(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
	s := settings(cfg)
	uri := s.str("tracking_uri", "")
	if uri == "" {
		return nil, &fperrors.AdapterError{
			Adapter: "mlflow",
			Reason:  "tracking_uri is required",
		}
	}
	return &MLflow{
		trackingURI: strings.TrimRight(uri, "/"),
		experiment:  s.str("experiment_name", "flowerpower"),
		token:       s.str("token", ""),
		client:      httpclient.New(httpclient.DefaultConfig()),
		logger:      logger,
	}, nil
}

// Name returns "mlflow".
func (m *MLflow) Name() string { return "mlflow" }

// Init resolves (or creates) the tracking experiment.
func (m *MLflow) Init(ctx context.Context) error {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := m.call(ctx, "GET", "/api/2.0/mlflow/experiments/get-by-name",
		map[string]any{"experiment_name": m.experiment}, &got)
	if err == nil && got.Experiment.ExperimentID != "" {
		m.experimentID = got.Experiment.ExperimentID
		return nil
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := m.call(ctx, "POST", "/api/2.0/mlflow/experiments/create",
		map[string]any{"name": m.experiment}, &created); err != nil {
		return &fperrors.AdapterError{
			Adapter: "mlflow",
			Reason:  fmt.Sprintf("cannot resolve experiment %q", m.experiment),
			Cause:   err,
		}
	}
	m.experimentID = created.ExperimentID
	return nil
}

// RunStarted creates the MLflow run.
func (m *MLflow) RunStarted(ctx context.Context, info engine.RunInfo) {
	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	err := m.call(ctx, "POST", "/api/2.0/mlflow/runs/create", map[string]any{
		"experiment_id": m.experimentID,
		"run_name":      info.Pipeline,
		"start_time":    time.Now().UnixMilli(),
		"tags": []map[string]string{
			{"key": "flowerpower.run_id", "value": info.RunID},
			{"key": "flowerpower.pipeline", "value": info.Pipeline},
		},
	}, &created)
	if err != nil {
		m.logger.Warn("mlflow run creation failed", "pipeline", info.Pipeline, "error", err)
		return
	}
	m.mu.Lock()
	m.mlflowRunID = created.Run.Info.RunID
	m.mu.Unlock()
}

// NodeStarted is a no-op for MLflow.
func (m *MLflow) NodeStarted(ctx context.Context, info engine.NodeInfo) {}

// NodeFinished logs the node outcome as a tag batch.
func (m *MLflow) NodeFinished(ctx context.Context, info engine.NodeInfo, err error) {
	m.mu.Lock()
	runID := m.mlflowRunID
	m.mu.Unlock()
	if runID == "" {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	if logErr := m.call(ctx, "POST", "/api/2.0/mlflow/runs/log-batch", map[string]any{
		"run_id": runID,
		"tags": []map[string]string{
			{"key": "node." + info.Name, "value": status},
		},
	}, nil); logErr != nil {
		m.logger.Warn("mlflow node log failed", "node", info.Name, "error", logErr)
	}
}

// RunFinished closes out the MLflow run.
func (m *MLflow) RunFinished(ctx context.Context, info engine.RunInfo, runErr error) {
	m.mu.Lock()
	runID := m.mlflowRunID
	m.mu.Unlock()
	if runID == "" {
		return
	}
	status := "FINISHED"
	if runErr != nil {
		status = "FAILED"
	}
	if err := m.call(ctx, "POST", "/api/2.0/mlflow/runs/update", map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	}, nil); err != nil {
		m.logger.Warn("mlflow run update failed", "run_id", info.RunID, "error", err)
	}
}

// Close is a no-op; the HTTP client holds no per-run state.
func (m *MLflow) Close(ctx context.Context) error { return nil }

func (m *MLflow) call(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if method == "GET" {
		// MLflow GET endpoints take query parameters.
		query := make([]string, 0, 2)
		if params, ok := body.(map[string]any); ok {
			for k, v := range params {
				query = append(query, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(query) > 0 {
			path += "?" + strings.Join(query, "&")
		}
	} else if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.trackingURI+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mlflow %s %s: HTTP %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
