// Package service wires the domain, ingestion, providers, and persistence
// into the application's use cases: ingestion jobs, export, analysis, and
// natural language querying.
package service

import (
	"context"
	"fmt"
	"sync"
)

// RunnerRegistry tracks in-flight background jobs by job id. A job can
// have at most one active runner; Wait blocks until a runner finishes,
// which tests use instead of polling.
type RunnerRegistry struct {
	mu      sync.Mutex
	running map[string]chan struct{}
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{running: make(map[string]chan struct{})}
}

// Start launches fn in a goroutine registered under the job id. It fails
// when a runner for the id is already active.
func (r *RunnerRegistry) Start(ctx context.Context, id string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[id]; ok {
		return fmt.Errorf("job %s is already running", id)
	}

	done := make(chan struct{})
	r.running[id] = done

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, id)
			r.mu.Unlock()
			close(done)
		}()
		fn(ctx)
	}()

	return nil
}

// Running reports whether a runner for the job id is active.
func (r *RunnerRegistry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// Wait blocks until the runner for the job id finishes. It returns
// immediately when no runner is active.
func (r *RunnerRegistry) Wait(id string) {
	r.mu.Lock()
	done, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		<-done
	}
}
