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
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Tracker persists run and node events to a SQLite database. Node events
// are rate-limited; events over the budget are dropped, never blocking the
// pipeline.
type Tracker struct {
	path    string
	db      *sql.DB
	limiter *rate.Limiter
	logger  *slog.Logger

	mu  sync.Mutex
	run engine.RunInfo
}

func newTracker(cfg map[string]any, logger *slog.Logger) (engine.Adapter, error) {
	s := settings(cfg)
	eventsPerSecond := s.num("events_per_second", 100)
	return &Tracker{
		path:    s.str("path", ".flowerpower/tracker.db"),
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), int(eventsPerSecond)),
		logger:  logger,
	}, nil
}

// Name returns "tracker".
func (t *Tracker) Name() string { return "tracker" }

// Init opens the database and creates the schema.
func (t *Tracker) Init(ctx context.Context) error {
	connStr := t.path
	if t.path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return &fperrors.AdapterError{Adapter: "tracker", Reason: "cannot open run store", Cause: err}
	}
	db.SetMaxOpenConns(1)

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE TABLE IF NOT EXISTS node_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			node TEXT NOT NULL,
			event TEXT NOT NULL,
			at INTEGER NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_events_run ON node_events(run_id)`,
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return &fperrors.AdapterError{Adapter: "tracker", Reason: "cannot migrate run store", Cause: err}
		}
	}

	t.db = db
	return nil
}

// RunStarted records the run row.
func (t *Tracker) RunStarted(ctx context.Context, info engine.RunInfo) {
	t.mu.Lock()
	t.run = info
	t.mu.Unlock()

	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, pipeline, started_at, status) VALUES (?, ?, ?, ?)`,
		info.RunID, info.Pipeline, time.Now().UnixNano(), "running",
	)
	if err != nil {
		t.logger.Warn("tracker failed to record run start", "run_id", info.RunID, "error", err)
	}
}

// NodeStarted records a node start event, subject to the rate budget.
func (t *Tracker) NodeStarted(ctx context.Context, info engine.NodeInfo) {
	t.recordNode(ctx, info.Name, "started", nil)
}

// NodeFinished records a node completion event, subject to the rate budget.
func (t *Tracker) NodeFinished(ctx context.Context, info engine.NodeInfo, err error) {
	event := "succeeded"
	if err != nil {
		event = "failed"
	}
	t.recordNode(ctx, info.Name, event, err)
}

func (t *Tracker) recordNode(ctx context.Context, node, event string, cause error) {
	if !t.limiter.Allow() {
		t.logger.Debug("tracker event dropped over rate budget", "node", node, "event", event)
		return
	}
	t.mu.Lock()
	runID := t.run.RunID
	t.mu.Unlock()

	var errText any
	if cause != nil {
		errText = cause.Error()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO node_events (run_id, node, event, at, error) VALUES (?, ?, ?, ?, ?)`,
		runID, node, event, time.Now().UnixNano(), errText,
	)
	if err != nil {
		t.logger.Warn("tracker failed to record node event", "node", node, "error", err)
	}
}

// RunFinished closes out the run row.
func (t *Tracker) RunFinished(ctx context.Context, info engine.RunInfo, runErr error) {
	status := "succeeded"
	var errText any
	if runErr != nil {
		status = "failed"
		errText = runErr.Error()
	}
	_, err := t.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, status = ?, error = ? WHERE run_id = ?`,
		time.Now().UnixNano(), status, errText, info.RunID,
	)
	if err != nil {
		t.logger.Warn("tracker failed to record run end", "run_id", info.RunID, "error", err)
	}
}

// Close releases the database handle.
func (t *Tracker) Close(ctx context.Context) error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}
