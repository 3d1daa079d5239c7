package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotResult is the outcome of an atomic slot acquisition attempt. The value
// doubles as the structured deny reason.
type SlotResult string

const (
	SlotAcquired       SlotResult = "ok"
	SlotBookActive     SlotResult = "book_active"
	SlotCooldown       SlotResult = "cooldown"
	SlotGlobalCapacity SlotResult = "global_capacity"
	SlotUserQuota      SlotResult = "user_quota"
)

// acquireScript evaluates every coordination gate and claims the slot in one
// atomic step. Gate order matches admission: mutual exclusion, cooldown,
// global capacity, user quota. The cooldown mark is installed on acquisition.
var acquireScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 'book_active'
end
if redis.call('EXISTS', KEYS[3]) == 1 then
	return 'cooldown'
end
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 'global_capacity'
end
if redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[3]) then
	return 'user_quota'
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], '1', 'EX', tonumber(ARGV[4]))
return 'ok'
`)

// AcquireSlot atomically claims a run slot for (book, user). It succeeds only
// if every coordination gate still passes at execution time.
func (s *Store) AcquireSlot(ctx context.Context, bookID, userID string, maxGlobal, maxUser int, cooldown time.Duration) (SlotResult, error) {
	keys := []string{keyActiveTasks, keyUserTasks(userID), keyCooldown(bookID)}
	args := []any{bookID, maxGlobal, maxUser, int(cooldown.Seconds())}

	res, err := acquireScript.Run(ctx, s.rdb, keys, args...).Text()
	if err != nil {
		return "", fmt.Errorf("acquire slot: %w", err)
	}
	return SlotResult(res), nil
}

// ReleaseSlot removes the (book, user) claim. Idempotent: releasing a slot
// that is not held is a no-op. The cooldown mark is left to expire on its own.
func (s *Store) ReleaseSlot(ctx context.Context, bookID, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, keyActiveTasks, bookID)
	pipe.SRem(ctx, keyUserTasks(userID), bookID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// ActiveCount returns the fleet-wide count of running jobs.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, keyActiveTasks).Result()
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return n, nil
}

// UserActiveCount returns the count of running jobs for one user.
func (s *Store) UserActiveCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.SCard(ctx, keyUserTasks(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("user active count: %w", err)
	}
	return n, nil
}

// IsBookActive reports whether the book currently holds a run slot.
func (s *Store) IsBookActive(ctx context.Context, bookID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, keyActiveTasks, bookID).Result()
	if err != nil {
		return false, fmt.Errorf("book active: %w", err)
	}
	return ok, nil
}

// CooldownRemaining returns how long the book's cooldown mark has left.
// Zero means no cooldown is in effect.
func (s *Store) CooldownRemaining(ctx context.Context, bookID string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, keyCooldown(bookID)).Result()
	if err != nil {
		return 0, fmt.Errorf("cooldown ttl: %w", err)
	}
	if ttl < 0 {
		// -2 key missing, -1 no expiry; neither counts as an active cooldown
		return 0, nil
	}
	return ttl, nil
}

// MarkCancelled sets the cooperative cancel flag for a job. Executors check
// the flag at chapter boundaries.
func (s *Store) MarkCancelled(ctx context.Context, jobID string) error {
	if err := s.rdb.Set(ctx, keyCancel(jobID), "1", 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return nil
}

// IsCancelled reports whether a cancel flag is set for the job.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	_, err := s.rdb.Get(ctx, keyCancel(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancel flag: %w", err)
	}
	return true, nil
}

// Heartbeat refreshes the liveness key for a running job. The key's TTL is
// the staleness threshold used by the stuck-job sweep.
func (s *Store) Heartbeat(ctx context.Context, jobID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, keyHeartbeat(jobID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}
