package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// queueScore folds (effective priority, queued-at) into a single ZSET score.
// Lower scores pop first: priority dominates, arrival time breaks ties.
func queueScore(priority int, queuedAt time.Time) float64 {
	return float64(priority)*1e10 + float64(queuedAt.Unix())
}

// effectivePriority applies age-based promotion: every interval spent queued
// decrements the priority by one, down to PriorityHighest.
func effectivePriority(task *types.Task, interval time.Duration, now time.Time) int {
	if interval <= 0 {
		return types.ClampPriority(task.Priority)
	}
	steps := int(now.Sub(task.QueuedAt) / interval)
	return types.ClampPriority(task.Priority - steps)
}

// PushTask adds a task to the durable priority queue and returns its 1-based
// position. Re-pushing an existing job updates its payload and score. A
// waiting task is not processing, so any handoff entry left by PopHighest is
// cleared in the same transaction.
func (s *Store) PushTask(ctx context.Context, task *types.Task) (int64, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("marshal task: %w", err)
	}

	score := queueScore(types.ClampPriority(task.Priority), task.QueuedAt)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyQueueData, task.JobID, payload)
	pipe.ZAdd(ctx, keyQueue, redis.Z{Score: score, Member: task.JobID})
	pipe.HDel(ctx, keyProcessing, task.JobID)
	pipe.Del(ctx, keyHeartbeat(task.JobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("push task: %w", err)
	}

	rank, err := s.rdb.ZRank(ctx, keyQueue, task.JobID).Result()
	if err != nil {
		// Position is advisory; the push itself succeeded.
		return 0, nil
	}
	return rank + 1, nil
}

// handoffTTL is the heartbeat the pop script seeds for a task in flight
// between the dispatcher and a worker. The worker refreshes it with the
// stuck-job threshold once it starts; a crash before that leaves the key to
// expire and the sweep requeues the task.
const handoffTTL = time.Minute

// popScript moves the queue head into the processing hash in one atomic
// step. The task is durably either queued or processing at every instant, so
// a crash mid-handoff cannot lose it.
var popScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
	return false
end
local jobID = popped[1]
local payload = redis.call('HGET', KEYS[2], jobID)
redis.call('HDEL', KEYS[2], jobID)
if not payload then
	return {jobID}
end
redis.call('HSET', KEYS[3], jobID, payload)
redis.call('SET', KEYS[4] .. jobID, ARGV[1], 'EX', tonumber(ARGV[2]))
return {jobID, payload}
`)

// PopHighest removes and returns the highest-priority task, or nil when the
// queue is empty. The popped task is registered in the processing hash with
// a short handoff heartbeat before this call returns.
func (s *Store) PopHighest(ctx context.Context) (*types.Task, error) {
	keys := []string{keyQueue, keyQueueData, keyProcessing, heartbeatPrefix}
	res, err := popScript.Run(ctx, s.rdb, keys,
		time.Now().UTC().Format(time.RFC3339), int(handoffTTL.Seconds())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop queue: %w", err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) == 0 {
		return nil, fmt.Errorf("pop queue: unexpected reply %T", res)
	}
	jobID, _ := vals[0].(string)
	if len(vals) < 2 {
		s.logger.Warn("queued job has no payload, dropping", "job_id", jobID)
		return nil, nil
	}
	payload, _ := vals[1].(string)

	var task types.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", jobID, err)
	}
	return &task, nil
}

// Position returns the 1-based queue rank for a job, or 0 if it is not
// queued. The value may be approximate under concurrent modification.
func (s *Store) Position(ctx context.Context, jobID string) (int64, error) {
	rank, err := s.rdb.ZRank(ctx, keyQueue, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return rank + 1, nil
}

// RemoveTask deletes a job from the queue. Used on cancellation.
func (s *Store) RemoveTask(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, keyQueue, jobID)
	pipe.HDel(ctx, keyQueueData, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}

// QueueLen returns the number of waiting tasks.
func (s *Store) QueueLen(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	return n, nil
}

// PromoteAged rescans the queue and rewrites scores so that tasks queued
// longer than the promotion interval move up. Safe to run repeatedly: scores
// are recomputed from the immutable payload, not decremented in place.
func (s *Store) PromoteAged(ctx context.Context, interval time.Duration, now time.Time) error {
	jobIDs, err := s.rdb.ZRange(ctx, keyQueue, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("promotion scan: %w", err)
	}
	if len(jobIDs) == 0 {
		return nil
	}

	payloads, err := s.rdb.HMGet(ctx, keyQueueData, jobIDs...).Result()
	if err != nil {
		return fmt.Errorf("promotion payloads: %w", err)
	}

	for i, jobID := range jobIDs {
		raw, _ := payloads[i].(string)
		if raw == "" {
			continue
		}
		var task types.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		eff := effectivePriority(&task, interval, now)
		if eff == types.ClampPriority(task.Priority) {
			continue
		}
		score := queueScore(eff, task.QueuedAt)
		// XX: only update members still present
		if err := s.rdb.ZAddXX(ctx, keyQueue, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
			s.logger.Warn("promotion update failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// MarkProcessing records the task in the processing hash and seeds its
// heartbeat. The entry stays until Ack: late acknowledgement is what gives
// the queue its at-least-once guarantee.
func (s *Store) MarkProcessing(ctx context.Context, task *types.Task, heartbeatTTL time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyProcessing, task.JobID, payload)
	pipe.Set(ctx, keyHeartbeat(task.JobID), time.Now().UTC().Format(time.RFC3339), heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// Ack removes the task from the processing hash after its work committed.
func (s *Store) Ack(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, keyProcessing, jobID)
	pipe.Del(ctx, keyHeartbeat(jobID))
	pipe.Del(ctx, keyCancel(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// StaleProcessing returns tasks whose heartbeat key has expired. These are
// jobs abandoned by a dead worker and eligible for requeue.
func (s *Store) StaleProcessing(ctx context.Context) ([]*types.Task, error) {
	entries, err := s.rdb.HGetAll(ctx, keyProcessing).Result()
	if err != nil {
		return nil, fmt.Errorf("processing scan: %w", err)
	}

	var stale []*types.Task
	for jobID, raw := range entries {
		n, err := s.rdb.Exists(ctx, keyHeartbeat(jobID)).Result()
		if err != nil || n > 0 {
			continue
		}
		var task types.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			s.logger.Warn("dropping unreadable processing entry", "job_id", jobID)
			s.rdb.HDel(ctx, keyProcessing, jobID)
			continue
		}
		stale = append(stale, &task)
	}
	return stale, nil
}
