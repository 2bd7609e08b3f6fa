// Package jobs provides the background job queue abstraction: named
// units of work submitted with arguments, executed by a worker pool,
// observable through polled status with incremental progress.
//
// Two queue implementations share the same semantics. The Redis queue
// distributes work across instances; the memory queue runs the worker
// pool in-process for environments without a broker. The implementation
// is chosen once at startup, never per submission.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the externally visible lifecycle of a job.
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Terminal reports whether the state is final. Terminal states are
// immutable once reached.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Progress is the incremental progress payload attached to a running job.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Status is the polled view of a job.
type Status struct {
	TaskID   string          `json:"taskId"`
	State    State           `json:"status"`
	Progress *Progress       `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProgressFunc reports handler progress. Implementations clamp the
// percent so the observed value never decreases.
type ProgressFunc func(percent int, message string)

// Handler executes one named unit of work.
type Handler func(ctx context.Context, args json.RawMessage, report ProgressFunc) (interface{}, error)

// Queue is the job queue contract. Submit never blocks on completion;
// Status is safe to poll concurrently from many callers.
type Queue interface {
	Submit(ctx context.Context, task string, args interface{}) (string, error)
	Status(ctx context.Context, taskID string) (*Status, error)
}

var (
	// ErrJobNotFound means the task ID is unknown or past its retention window.
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownTask means no handler is registered for the task name.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTimeout means a bounded wait for a job result expired.
	ErrTimeout = errors.New("timed out waiting for job result")
	// ErrQueueFull means the pending queue cannot accept more work.
	ErrQueueFull = errors.New("job queue is full")
)

// Registry maps task names to handlers. Registration happens during
// startup; lookup is concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task name, replacing any previous binding.
func (r *Registry) Register(task string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[task] = h
}

// handler looks up the handler for a task name.
func (r *Registry) handler(task string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[task]
	return h, ok
}

// runHandler executes a handler, converting panics into errors so a
// crashing job always reaches FAILURE instead of killing the worker.
func runHandler(ctx context.Context, h Handler, args json.RawMessage, report ProgressFunc) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, args, report)
}

// WaitForResult polls the queue until the job reaches a terminal state
// or the timeout elapses. It is the only blocking wait the queue
// supports; submission itself never blocks on completion.
func WaitForResult(ctx context.Context, q Queue, taskID string, timeout, interval time.Duration) (json.RawMessage, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		status, err := q.Status(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch status.State {
		case StateSuccess:
			return status.Result, nil
		case StateFailure:
			return nil, fmt.Errorf("job %s failed: %s", taskID, status.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: job %s after %s", ErrTimeout, taskID, timeout)
		case <-tick.C:
		}
	}
}
