// Package queue reads and feeds job queues stored in Redis using the key
// layout of BullMQ, which the platform's background workers consume.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/property-service/internal/domain"
)

// RedisQueue addresses one named queue.
type RedisQueue struct {
	client redis.Cmdable
	prefix string
	name   string
}

// NewRedisQueue builds a queue handle. prefix is usually "bull".
func NewRedisQueue(client redis.Cmdable, prefix, name string) *RedisQueue {
	if prefix == "" {
		prefix = "bull"
	}
	return &RedisQueue{client: client, prefix: prefix, name: name}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) key(suffix string) string {
	return q.prefix + ":" + q.name + ":" + suffix
}

// ListJobs returns jobs in state. limit bounds the sorted-set backed states
// (completed, failed) to their most recent entries; zero means unbounded.
func (q *RedisQueue) ListJobs(ctx context.Context, state domain.JobState, limit int) ([]domain.QueueJob, error) {
	ids, err := q.jobIDs(ctx, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s %s: %w", q.name, state, err)
	}
	if len(ids) == 0 {
		return []domain.QueueJob{}, nil
	}

	cmds, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HGetAll(ctx, q.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s jobs: %w", q.name, err)
	}

	jobs := make([]domain.QueueJob, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s job %s: %w", q.name, ids[i], err)
		}
		if !isJobHash(fields) {
			// removed between listing and loading
			continue
		}
		detail := parseJob(q.name, ids[i], state, fields)
		jobs = append(jobs, detail.QueueJob)
	}
	return jobs, nil
}

func (q *RedisQueue) jobIDs(ctx context.Context, state domain.JobState, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	switch state {
	case domain.JobWaiting:
		return q.client.LRange(ctx, q.key("wait"), 0, -1).Result()
	case domain.JobActive:
		return q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	case domain.JobCompleted:
		return q.client.ZRevRange(ctx, q.key("completed"), 0, stop).Result()
	case domain.JobFailed:
		return q.client.ZRevRange(ctx, q.key("failed"), 0, stop).Result()
	case domain.JobDelayed:
		return q.client.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	}
	return nil, fmt.Errorf("unknown job state %q", state)
}

// reservedKeys are queue bookkeeping keys that share the job key namespace.
var reservedKeys = map[string]struct{}{
	"wait": {}, "active": {}, "paused": {}, "completed": {}, "failed": {},
	"delayed": {}, "prioritized": {}, "waiting-children": {}, "meta": {},
	"id": {}, "events": {}, "stalled": {}, "stalled-check": {}, "limiter": {},
	"marker": {}, "repeat": {}, "pc": {}, "de": {}, "metrics": {},
}

// isJobHash reports whether fields look like a stored job rather than some
// other hash under the queue prefix.
func isJobHash(fields map[string]string) bool {
	_, hasName := fields["name"]
	_, hasTimestamp := fields["timestamp"]
	return hasName && hasTimestamp
}

// GetJob loads one job with its execution detail. A missing job, or an id that
// names queue bookkeeping, yields nil.
func (q *RedisQueue) GetJob(ctx context.Context, id string) (*domain.JobDetail, error) {
	if _, reserved := reservedKeys[id]; reserved || id == "" {
		return nil, nil
	}
	fields, err := q.client.HGetAll(ctx, q.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s job %s: %w", q.name, id, err)
	}
	if !isJobHash(fields) {
		return nil, nil
	}
	state, err := q.stateOf(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := parseJob(q.name, id, state, fields)
	return &detail, nil
}

func (q *RedisQueue) stateOf(ctx context.Context, id string) (domain.JobState, error) {
	var completed, failed, delayed *redis.FloatCmd
	var waiting, active *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		completed = p.ZScore(ctx, q.key("completed"), id)
		failed = p.ZScore(ctx, q.key("failed"), id)
		delayed = p.ZScore(ctx, q.key("delayed"), id)
		active = p.LPos(ctx, q.key("active"), id, redis.LPosArgs{})
		waiting = p.LPos(ctx, q.key("wait"), id, redis.LPosArgs{})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("resolve %s job %s state: %w", q.name, id, err)
	}
	switch {
	case completed.Err() == nil:
		return domain.JobCompleted, nil
	case failed.Err() == nil:
		return domain.JobFailed, nil
	case delayed.Err() == nil:
		return domain.JobDelayed, nil
	case active.Err() == nil:
		return domain.JobActive, nil
	case waiting.Err() == nil:
		return domain.JobWaiting, nil
	}
	// Job hash exists but is in none of the tracked sets (e.g. paused queue).
	return domain.JobWaiting, nil
}

// Enqueue adds a job to the wait list and returns its id.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode job data: %w", err)
	}
	seq, err := q.client.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return "", fmt.Errorf("allocate %s job id: %w", q.name, err)
	}
	id := strconv.FormatInt(seq, 10)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.key(id),
			"name", name,
			"data", string(payload),
			"opts", "{}",
			"timestamp", now,
			"delay", "0",
			"priority", "0",
		)
		p.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", q.name, err)
	}
	return id, nil
}

func parseJob(queueName, id string, state domain.JobState, fields map[string]string) domain.JobDetail {
	detail := domain.JobDetail{
		QueueJob: domain.QueueJob{
			ID:     id,
			Name:   fields["name"],
			Queue:  queueName,
			Status: state,
			Data:   rawJSON(fields["data"]),
		},
		Progress:    rawJSON(fields["progress"]),
		ReturnValue: rawJSON(fields["returnvalue"]),
		Stacktrace:  []string{},
	}
	if ts := millis(fields["timestamp"]); ts != nil {
		detail.CreatedAt = *ts
	}
	detail.ProcessedAt = millis(fields["processedOn"])
	if state == domain.JobCompleted || state == domain.JobFailed {
		detail.CompletedAt = millis(fields["finishedOn"])
	}
	if reason, ok := fields["failedReason"]; ok && reason != "" {
		detail.FailedReason = &reason
	}
	if raw := fields["stacktrace"]; raw != "" {
		var frames []string
		if err := json.Unmarshal([]byte(raw), &frames); err == nil {
			detail.Stacktrace = frames
		}
	}
	return detail
}

// rawJSON passes stored JSON through untouched and quotes anything else, so
// the field always serializes as valid JSON.
func rawJSON(val string) json.RawMessage {
	if val == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(val)) {
		return json.RawMessage(val)
	}
	quoted, _ := json.Marshal(val)
	return quoted
}

func millis(val string) *time.Time {
	if val == "" {
		return nil
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
