package coord

import (
	"context"
	"fmt"
	"strconv"
)

// Stat counter names recorded in the parsing:stats hash.
const (
	StatAdmitted   = "admitted"
	StatDeferred   = "deferred"
	StatRejected   = "rejected"
	StatDispatched = "dispatched"
	StatCompleted  = "completed"
	StatFailed     = "failed"
	StatCancelled  = "cancelled"
	StatRequeued   = "requeued"
)

// IncrStat bumps a named event counter. Stats are best-effort and ephemeral;
// errors are logged, not propagated.
func (s *Store) IncrStat(ctx context.Context, name string) {
	if err := s.rdb.HIncrBy(ctx, keyStats, name, 1).Err(); err != nil {
		s.logger.Debug("stat increment failed", "stat", name, "error", err)
	}
}

// Stats returns a snapshot of all event counters.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, keyStats).Result()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
