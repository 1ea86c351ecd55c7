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

package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// workerEnv marks a subprocess as a pipeline worker.
const workerEnv = "FLOWERPOWER_WORKER"

// newWorkerCommand builds the worker subprocess command. Overridable for
// tests.
var newWorkerCommand = func() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	return cmd, nil
}

// ProcessPool distributes node work to worker subprocesses of the current
// binary. The user pipeline module must be linked into the worker binary so
// workers can resolve it; closures are rejected at submit time because they
// cannot cross the process boundary.
type ProcessPool struct {
	workers chan *worker
	all     []*worker
	logger  *slog.Logger

	wg sync.WaitGroup
	mu sync.Mutex

	firstErr     error
	shutdownOnce sync.Once
}

type worker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
}

// NewProcessPool spawns size worker subprocesses.
func NewProcessPool(ctx context.Context, size int, logger *slog.Logger) (*ProcessPool, error) {
	if size < 1 {
		size = 1
	}
	p := &ProcessPool{
		workers: make(chan *worker, size),
		logger:  logger,
	}
	for i := 0; i < size; i++ {
		w, err := spawnWorker()
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, &fperrors.ExecutorError{
				Backend: config.ExecutorProcesspool,
				Reason:  "failed to start worker process",
				Cause:   err,
			}
		}
		p.all = append(p.all, w)
		p.workers <- w
	}
	return p, nil
}

func spawnWorker() (*worker, error) {
	cmd, err := newWorkerCommand()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &worker{cmd: cmd, stdin: stdin, out: bufio.NewReader(stdout)}, nil
}

// Kind returns "processpool".
func (p *ProcessPool) Kind() string { return config.ExecutorProcesspool }

// Go rejects closures: they cannot run in another process. Engines submit
// process-runnable work through GoSpec instead.
func (p *ProcessPool) Go(ctx context.Context, task engine.Task) error {
	return &fperrors.ExecutorError{
		Backend: config.ExecutorProcesspool,
		Reason:  "tasks must be process-runnable; submit a TaskSpec via GoSpec",
	}
}

// GoSpec dispatches a spec to a free worker. It returns once the spec is
// scheduled; completion is observed through Wait.
func (p *ProcessPool) GoSpec(ctx context.Context, spec engine.TaskSpec) error {
	var w *worker
	select {
	case w = <-p.workers:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { p.workers <- w }()
		if err := w.run(spec); err != nil {
			p.recordErr(err)
		}
	}()
	return nil
}

// workerResponse is the single-line reply of a worker per task.
type workerResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (w *worker) run(spec engine.TaskSpec) error {
	line, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode task spec: %w", err)
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send task to worker: %w", err)
	}
	reply, err := w.out.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read worker reply: %w", err)
	}
	var resp workerResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return fmt.Errorf("decode worker reply: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("worker task %s.%s failed: %s", spec.Module, spec.Node, resp.Error)
	}
	return nil
}

func (p *ProcessPool) recordErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr == nil {
		p.firstErr = err
	}
}

// Wait blocks until all dispatched specs have completed.
func (p *ProcessPool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Shutdown closes worker stdin and reaps the subprocesses. Workers that
// ignore stdin closure are killed when ctx expires.
func (p *ProcessPool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.wg.Wait()
		for _, w := range p.all {
			_ = w.stdin.Close()
			done := make(chan error, 1)
			go func(w *worker) { done <- w.cmd.Wait() }(w)
			select {
			case werr := <-done:
				if werr != nil && err == nil {
					err = werr
				}
			case <-ctx.Done():
				_ = w.cmd.Process.Kill()
				<-done
				if err == nil {
					err = ctx.Err()
				}
			}
		}
	})
	return err
}

// ServeWorker is the worker-side loop: it reads task specs from stdin,
// runs them through handler, and writes one reply line per task. Binaries
// embedding the runtime call this when the worker environment marker is set.
func ServeWorker(ctx context.Context, handler func(ctx context.Context, spec engine.TaskSpec) error) error {
	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var spec engine.TaskSpec
		resp := workerResponse{OK: true}
		if err := json.Unmarshal(scanner.Bytes(), &spec); err != nil {
			resp = workerResponse{Error: fmt.Sprintf("decode task: %v", err)}
		} else if err := handler(ctx, spec); err != nil {
			resp = workerResponse{Error: err.Error()}
		}
		line, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if _, err := out.Write(append(line, '\n')); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// IsWorkerProcess reports whether this process was spawned as a pool worker.
func IsWorkerProcess() bool {
	return os.Getenv(workerEnv) == "1"
}
