package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/landhub-tz/backend/internal/logger"
)

const (
	pendingListKey  = "jobs:pending"
	statusKeyPrefix = "jobs:status:"
	aliveKeyPrefix  = "jobs:alive:"

	// claimTimeout bounds each blocking pop so workers notice shutdown.
	claimTimeout = 2 * time.Second
)

// envelope is the wire form of a queued job.
type envelope struct {
	ID   string          `json:"id"`
	Task string          `json:"task"`
	Args json.RawMessage `json:"args"`
}

// RedisQueue distributes jobs across instances through a Redis list.
// Job status lives under a retention TTL, which doubles as garbage
// collection for finished jobs. Each running job keeps a heartbeat key
// alive; a status poll that finds a running job without a heartbeat
// reports it as failed, so a crashed worker never leaves a job hanging.
type RedisQueue struct {
	rdb *redis.Client
	reg *Registry
	log *logger.Logger

	workers      int
	retention    time.Duration
	heartbeatTTL time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisQueueOptions configures a RedisQueue.
type RedisQueueOptions struct {
	Workers      int
	Retention    time.Duration
	HeartbeatTTL time.Duration
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(rdb *redis.Client, reg *Registry, opts RedisQueueOptions, log *logger.Logger) *RedisQueue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 15 * time.Second
	}
	return &RedisQueue{
		rdb:          rdb,
		reg:          reg,
		log:          log,
		workers:      opts.Workers,
		retention:    opts.Retention,
		heartbeatTTL: opts.HeartbeatTTL,
	}
}

// Start launches the worker pool.
func (q *RedisQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.workLoop(ctx)
		}()
	}
}

// Close stops the workers and waits for in-flight jobs to finish.
func (q *RedisQueue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit writes a PENDING status and pushes the job onto the shared
// list. It returns as soon as the job is queued.
func (q *RedisQueue) Submit(ctx context.Context, task string, args interface{}) (string, error) {
	if _, ok := q.reg.handler(task); !ok {
		return "", ErrUnknownTask
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	if err := q.writeStatus(ctx, &Status{TaskID: id, State: StatePending}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(envelope{ID: id, Task: task, Args: raw})
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, pendingListKey, payload).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Status reads the job status. A job observed mid-run without a live
// heartbeat is reported as FAILURE: its worker died.
func (q *RedisQueue) Status(ctx context.Context, taskID string) (*Status, error) {
	raw, err := q.rdb.Get(ctx, statusKeyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var status Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, err
	}

	if status.State == StateProgress {
		alive, err := q.rdb.Exists(ctx, aliveKeyPrefix+taskID).Result()
		if err == nil && alive == 0 {
			status.State = StateFailure
			status.Error = "worker lost: no heartbeat"
			// Persist the downgrade so later polls agree.
			_ = q.writeStatus(ctx, &status)
		}
	}

	return &status, nil
}

// workLoop claims and executes jobs until the context is cancelled.
func (q *RedisQueue) workLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.rdb.BRPop(ctx, claimTimeout, pendingListKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("Job claim failed, backing off", map[string]interface{}{
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var job envelope
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.log.Error("Dropping undecodable job payload", err, nil)
			continue
		}

		q.execute(ctx, job)
	}
}

// execute runs one claimed job, keeping its heartbeat alive for the
// duration.
func (q *RedisQueue) execute(ctx context.Context, job envelope) {
	handler, ok := q.reg.handler(job.Task)
	if !ok {
		q.finish(ctx, &Status{TaskID: job.ID, State: StateFailure, Error: ErrUnknownTask.Error()})
		return
	}

	status := &Status{
		TaskID:   job.ID,
		State:    StateProgress,
		Progress: &Progress{Percent: 0, Message: "starting"},
	}
	_ = q.writeStatus(ctx, status)
	q.rdb.Set(ctx, aliveKeyPrefix+job.ID, "1", q.heartbeatTTL)

	beatCtx, stopBeat := context.WithCancel(ctx)
	defer stopBeat()
	go q.heartbeat(beatCtx, job.ID)

	lastPercent := 0
	report := func(percent int, message string) {
		if percent < lastPercent {
			percent = lastPercent
		}
		lastPercent = percent
		_ = q.writeStatus(ctx, &Status{
			TaskID:   job.ID,
			State:    StateProgress,
			Progress: &Progress{Percent: percent, Message: message},
		})
	}

	result, err := runHandler(ctx, handler, job.Args, report)
	stopBeat()
	q.rdb.Del(ctx, aliveKeyPrefix+job.ID)

	if err != nil {
		q.log.Error("Job failed", err, map[string]interface{}{
			"task_id": job.ID,
			"task":    job.Task,
		})
		q.finish(ctx, &Status{TaskID: job.ID, State: StateFailure, Error: err.Error()})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		q.finish(ctx, &Status{TaskID: job.ID, State: StateFailure, Error: "job result not serializable: " + err.Error()})
		return
	}
	q.finish(ctx, &Status{
		TaskID:   job.ID,
		State:    StateSuccess,
		Progress: &Progress{Percent: 100, Message: "done"},
		Result:   raw,
	})
}

// heartbeat refreshes the liveness key at a third of its TTL.
func (q *RedisQueue) heartbeat(ctx context.Context, taskID string) {
	interval := q.heartbeatTTL / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.rdb.Expire(ctx, aliveKeyPrefix+taskID, q.heartbeatTTL)
		}
	}
}

// finish writes a terminal status. Uses a background context so
// shutdown does not lose the final state of an in-flight job.
func (q *RedisQueue) finish(ctx context.Context, status *Status) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := q.writeStatus(ctx, status); err != nil {
		q.log.Error("Failed to persist terminal job status", err, map[string]interface{}{
			"task_id": status.TaskID,
		})
	}
}

// statusWriteScript refuses to overwrite a terminal status. The check
// runs server-side so a worker finishing late cannot race the
// heartbeat-miss downgrade into flipping FAILURE back to SUCCESS.
var statusWriteScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and (decoded['status'] == 'SUCCESS' or decoded['status'] == 'FAILURE') then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// writeStatus persists a status snapshot under the retention TTL.
// Terminal states are never overwritten.
func (q *RedisQueue) writeStatus(ctx context.Context, status *Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return statusWriteScript.Run(ctx, q.rdb,
		[]string{statusKeyPrefix + status.TaskID},
		string(raw), q.retention.Milliseconds(),
	).Err()
}
