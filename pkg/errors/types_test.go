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

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindTags(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name string
		err  Error
		kind Kind
	}{
		{"config", &ConfigError{Key: "run.executor.type", Reason: "bad"}, KindConfig},
		{"import", &PipelineImportError{Pipeline: "p1", Cause: cause}, KindImport},
		{"adapter", &AdapterError{Adapter: "tracker", Reason: "no db"}, KindAdapter},
		{"executor", &ExecutorError{Backend: "threadpool", Reason: "down"}, KindExecutor},
		{"execution", &PipelineExecutionError{Pipeline: "p1", Attempts: 3, Cause: cause}, KindExecution},
		{"cancelled", &CancelledError{Pipeline: "p1", Cause: context.Canceled}, KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind())
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", &ConfigError{Reason: "inner"})
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("engine blew up")
	err := &PipelineExecutionError{Pipeline: "p1", Attempts: 2, Cause: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestConfigErrorLayerAttribution(t *testing.T) {
	err := &ConfigError{Key: "FP_MAX_RETRIES", Layer: "shim", Reason: "expected integer"}
	assert.Contains(t, err.Error(), "FP_MAX_RETRIES")
	assert.Contains(t, err.Error(), "shim")
}
