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
	"errors"
	"sync"
)

// Predicate reports whether an error belongs to a named error class.
type Predicate func(error) bool

// classRegistry maps class names to predicates. Retry policies reference
// classes by name in configuration files; names resolve here at config load.
var classRegistry = struct {
	mu      sync.RWMutex
	classes map[string]Predicate
}{classes: map[string]Predicate{}}

func init() {
	// Exception matches any non-nil error. It is also the fallback for
	// class names that never got registered.
	RegisterClass("Exception", func(err error) bool { return err != nil })
	RegisterClass("TimeoutError", func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded)
	})
	RegisterClass("CancelledError", func(err error) bool {
		var ce *CancelledError
		return errors.As(err, &ce) || errors.Is(err, context.Canceled)
	})
	RegisterClass("ConfigError", func(err error) bool {
		var e *ConfigError
		return errors.As(err, &e)
	})
	RegisterClass("AdapterError", func(err error) bool {
		var e *AdapterError
		return errors.As(err, &e)
	})
	RegisterClass("ExecutorError", func(err error) bool {
		var e *ExecutorError
		return errors.As(err, &e)
	})
	RegisterClass("PipelineExecutionError", func(err error) bool {
		var e *PipelineExecutionError
		return errors.As(err, &e)
	})
}

// RegisterClass registers a named error class for retry matching.
// Re-registering a name replaces the previous predicate.
func RegisterClass(name string, pred Predicate) {
	classRegistry.mu.Lock()
	defer classRegistry.mu.Unlock()
	classRegistry.classes[name] = pred
}

// Class resolves a class name to its predicate. Unknown names resolve to
// the Exception class (match anything), mirroring permissive resolution of
// exception names at config load.
func Class(name string) Predicate {
	classRegistry.mu.RLock()
	defer classRegistry.mu.RUnlock()
	if pred, ok := classRegistry.classes[name]; ok {
		return pred
	}
	return classRegistry.classes["Exception"]
}

// Matcher resolves a list of class names into a single predicate that
// reports whether an error matches any of them.
//
// The nil list means "use the default" and matches any error; the empty,
// non-nil list matches nothing, which disables retries entirely.
func Matcher(names []string) Predicate {
	if names == nil {
		return Class("Exception")
	}
	if len(names) == 0 {
		return func(error) bool { return false }
	}
	preds := make([]Predicate, len(names))
	for i, name := range names {
		preds[i] = Class(name)
	}
	return func(err error) bool {
		for _, pred := range preds {
			if pred(err) {
				return true
			}
		}
		return false
	}
}
