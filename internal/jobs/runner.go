// Package jobs runs background import tasks, one goroutine per job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrClosed    = errors.New("runner is stopped")
	ErrRunning   = errors.New("job is already running")
	ErrCancelled = errors.New("cancelled")
)

// Task is the body of a background job. It must return once ctx is done;
// context.Cause(ctx) is ErrCancelled or ErrClosed.
type Task func(ctx context.Context)

// Runner tracks live tasks by job id and is safe for concurrent use.
type Runner struct {
	log zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
	closed  bool
	base    context.Context
	stopAll context.CancelCauseFunc
}

func NewRunner(log zerolog.Logger) *Runner {
	base, cancel := context.WithCancelCause(context.Background())
	return &Runner{
		log:     log,
		cancels: make(map[string]context.CancelCauseFunc),
		base:    base,
		stopAll: cancel,
	}
}

// Submit starts fn for jobID in its own goroutine. A job id can only have
// one live task.
func (r *Runner) Submit(jobID string, fn Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.cancels[jobID]; ok {
		return fmt.Errorf("job %s: %w", jobID, ErrRunning)
	}

	ctx, cancel := context.WithCancelCause(r.base)
	r.cancels[jobID] = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.forget(jobID)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("job_id", jobID).Interface("panic", p).Msg("background job panicked")
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Cancel asks the task of jobID to stop. It reports whether a task was live.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

func (r *Runner) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[jobID]
	return ok
}

// Live returns the ids of all live tasks.
func (r *Runner) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.cancels))
	for id := range r.cancels {
		ids = append(ids, id)
	}
	return ids
}

// Stop rejects new work, cancels every live task and waits for them to
// return or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.stopAll(ErrClosed)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[jobID]; ok {
		cancel(nil)
		delete(r.cancels, jobID)
	}
}
