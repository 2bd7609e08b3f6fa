package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/landhub-tz/backend/internal/logger"
)

// queuedJob is one pending unit of work on the in-process queue.
type queuedJob struct {
	id   string
	task string
	args json.RawMessage
}

// memEntry pairs a job status with its completion time so finished
// jobs age out of the map after the retention window.
type memEntry struct {
	status *Status
	doneAt time.Time
}

// MemoryQueue runs the worker pool inside the current process. It backs
// the startup-selected inline execution mode and the test suite; its
// submit/poll semantics are identical to the Redis queue, including
// garbage collection of finished jobs after the retention window.
type MemoryQueue struct {
	reg *Registry
	log *logger.Logger

	mu   sync.Mutex
	jobs map[string]*memEntry

	pending   chan queuedJob
	workers   int
	retention time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewMemoryQueue creates an in-process queue with the given worker pool
// size, pending-queue capacity, and retention window for finished jobs.
// A non-positive retention keeps outcomes for the process lifetime.
func NewMemoryQueue(reg *Registry, workers, queueSize int, retention time.Duration, log *logger.Logger) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &MemoryQueue{
		reg:       reg,
		log:       log,
		jobs:      make(map[string]*memEntry),
		pending:   make(chan queuedJob, queueSize),
		workers:   workers,
		retention: retention,
		now:       time.Now,
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled or
// Close is called.
func (q *MemoryQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.pending:
					q.execute(ctx, job)
				}
			}
		}()
	}
}

// Close stops the workers and waits for in-flight jobs to finish.
// Pending jobs that were never claimed stay PENDING.
func (q *MemoryQueue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit enqueues a unit of work and returns its task ID without
// waiting for execution.
func (q *MemoryQueue) Submit(ctx context.Context, task string, args interface{}) (string, error) {
	if _, ok := q.reg.handler(task); !ok {
		return "", ErrUnknownTask
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	q.mu.Lock()
	q.sweepLocked()
	q.jobs[id] = &memEntry{status: &Status{TaskID: id, State: StatePending}}
	q.mu.Unlock()

	select {
	case q.pending <- queuedJob{id: id, task: task, args: raw}:
		return id, nil
	default:
		q.mu.Lock()
		delete(q.jobs, id)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Status returns a copy of the job's current status. Jobs finished
// longer than the retention window ago are gone, like an expired Redis
// status key.
func (q *MemoryQueue) Status(ctx context.Context, taskID string) (*Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked()

	entry, ok := q.jobs[taskID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *entry.status
	if entry.status.Progress != nil {
		p := *entry.status.Progress
		copied.Progress = &p
	}
	return &copied, nil
}

// sweepLocked drops finished jobs older than the retention window.
// Caller holds q.mu. Running jobs never expire; they have no doneAt.
func (q *MemoryQueue) sweepLocked() {
	if q.retention <= 0 {
		return
	}
	cutoff := q.now().Add(-q.retention)
	for id, entry := range q.jobs {
		if !entry.doneAt.IsZero() && entry.doneAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

// execute runs one claimed job to completion.
func (q *MemoryQueue) execute(ctx context.Context, job queuedJob) {
	handler, ok := q.reg.handler(job.task)
	if !ok {
		q.update(job.id, func(s *Status) {
			s.State = StateFailure
			s.Error = ErrUnknownTask.Error()
		})
		return
	}

	q.update(job.id, func(s *Status) {
		s.State = StateProgress
		s.Progress = &Progress{Percent: 0, Message: "starting"}
	})

	report := func(percent int, message string) {
		q.update(job.id, func(s *Status) {
			if s.State.Terminal() {
				return
			}
			if s.Progress != nil && percent < s.Progress.Percent {
				percent = s.Progress.Percent
			}
			s.State = StateProgress
			s.Progress = &Progress{Percent: percent, Message: message}
		})
	}

	result, err := runHandler(ctx, handler, job.args, report)
	if err != nil {
		q.log.Error("Job failed", err, map[string]interface{}{
			"task_id": job.id,
			"task":    job.task,
		})
		q.update(job.id, func(s *Status) {
			s.State = StateFailure
			s.Error = err.Error()
		})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		q.update(job.id, func(s *Status) {
			s.State = StateFailure
			s.Error = "job result not serializable: " + err.Error()
		})
		return
	}

	q.update(job.id, func(s *Status) {
		s.State = StateSuccess
		s.Result = raw
		if s.Progress != nil {
			s.Progress.Percent = 100
		}
	})
}

// update applies fn to a job's status under lock. Terminal states are
// never overwritten; reaching one stamps the retention clock.
func (q *MemoryQueue) update(taskID string, fn func(*Status)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.jobs[taskID]
	if !ok || entry.status.State.Terminal() {
		return
	}
	fn(entry.status)
	if entry.status.State.Terminal() {
		entry.doneAt = q.now()
	}
}
