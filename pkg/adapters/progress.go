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
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"github.com/legout/flowerpower/pkg/engine"
)

// ProgressBar renders a terminal spinner tracking node completion.
type ProgressBar struct {
	spin   *spinner.Spinner
	logger *slog.Logger

	mu       sync.Mutex
	pipeline string
	done     int
	total    int
}

func newProgressBar(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
	interval := time.Duration(settings(cfg).num("interval_ms", 100)) * time.Millisecond
	return &ProgressBar{
		spin:   spinner.New(spinner.CharSets[14], interval, spinner.WithWriter(os.Stderr)),
		logger: logger,
	}, nil
}

// Name returns "progressbar".
func (p *ProgressBar) Name() string { return "progressbar" }

// Init is a no-op.
func (p *ProgressBar) Init(ctx context.Context) error { return nil }

// RunStarted starts the spinner.
func (p *ProgressBar) RunStarted(ctx context.Context, info engine.RunInfo) {
	p.mu.Lock()
	p.pipeline = info.Pipeline
	p.done = 0
	p.total = 0
	p.mu.Unlock()
	p.spin.Suffix = fmt.Sprintf(" %s: running", info.Pipeline)
	p.spin.Start()
}

// NodeStarted notes the node in the spinner suffix.
func (p *ProgressBar) NodeStarted(ctx context.Context, info engine.NodeInfo) {
	p.mu.Lock()
	if info.Total > 0 {
		p.total = info.Total
	}
	pipeline, done, total := p.pipeline, p.done, p.total
	p.mu.Unlock()
	p.spin.Suffix = progressSuffix(pipeline, info.Name, done, total)
}

// NodeFinished advances the completion count.
func (p *ProgressBar) NodeFinished(ctx context.Context, info engine.NodeInfo, err error) {
	p.mu.Lock()
	p.done++
	pipeline, done, total := p.pipeline, p.done, p.total
	p.mu.Unlock()
	p.spin.Suffix = progressSuffix(pipeline, info.Name, done, total)
}

func progressSuffix(pipeline, node string, done, total int) string {
	if total > 0 {
		return fmt.Sprintf(" %s: %d/%d (%s)", pipeline, done, total, node)
	}
	return fmt.Sprintf(" %s: %d nodes (%s)", pipeline, done, node)
}

// RunFinished stops the spinner with the outcome.
func (p *ProgressBar) RunFinished(ctx context.Context, info engine.RunInfo, err error) {
	if err != nil {
		p.spin.FinalMSG = fmt.Sprintf("✗ %s failed\n", info.Pipeline)
	} else {
		p.spin.FinalMSG = fmt.Sprintf("✓ %s done\n", info.Pipeline)
	}
	p.spin.Stop()
}

// Close stops the spinner if an aborted run left it running.
func (p *ProgressBar) Close(ctx context.Context) error {
	if p.spin.Active() {
		p.spin.Stop()
	}
	return nil
}
