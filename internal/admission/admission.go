// Package admission decides whether a parsing job may start right now. Five
// gates run in order (cooldown, global concurrency, per-user concurrency,
// system resources, hard policy); the first failing gate determines the
// outcome. Coordination gates share the Redis store for cross-process
// atomicity and fail closed when it is unreachable.
package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/config"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/coord"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

// Decision is the admission outcome for a (book, user) pair.
type Decision string

const (
	Admit  Decision = "admit"
	Defer  Decision = "defer"
	Reject Decision = "reject"
)

// Structured reason codes for non-admit outcomes.
const (
	ReasonOK               = "ok"
	ReasonBookActive       = "book_active"
	ReasonCooldown         = "cooldown"
	ReasonGlobalCapacity   = "global_capacity"
	ReasonUserQuota        = "user_quota"
	ReasonMemoryPressure   = "memory_pressure"
	ReasonLowFreeMemory    = "low_free_memory"
	ReasonCPUPressure      = "cpu_pressure"
	ReasonResourceProbe    = "resource_probe_failed"
	ReasonCoordUnavailable = "coordination_unavailable"
)

// Verdict pairs a decision with its structured reason code.
type Verdict struct {
	Decision Decision
	Reason   string
}

// Policy evaluates the hard policy gate, e.g. whether the user's
// subscription permits a book of this size. It returns an empty reason when
// the job is allowed, otherwise a structured reject code.
type Policy func(ctx context.Context, bookID, userID string) (string, error)

// Controller is the admission and rate control front door.
type Controller struct {
	coord  *coord.Store
	probe  ResourceProbe
	policy Policy
	cfg    config.AdmissionConfig
	logger *slog.Logger
}

// New creates an admission controller. A nil probe disables the resource
// gate; a nil policy disables the policy gate.
func New(store *coord.Store, probe ResourceProbe, policy Policy, cfg config.AdmissionConfig, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		coord:  store,
		probe:  probe,
		policy: policy,
		cfg:    cfg,
		logger: logger.With("component", "admission"),
	}
}

// CanStart evaluates every gate in order without claiming anything. The
// verdict is advisory: AcquireSlot re-checks atomically before a job runs.
func (c *Controller) CanStart(ctx context.Context, bookID, userID string) (Verdict, error) {
	// Gate 0: mutual exclusion per book.
	active, err := c.coord.IsBookActive(ctx, bookID)
	if err != nil {
		return c.failClosed(err)
	}
	if active {
		return Verdict{Defer, ReasonBookActive}, nil
	}

	// Gate 1: per-book cooldown.
	remaining, err := c.coord.CooldownRemaining(ctx, bookID)
	if err != nil {
		return c.failClosed(err)
	}
	if remaining > 0 {
		return Verdict{Defer, ReasonCooldown}, nil
	}

	// Gate 2: global concurrency.
	globalActive, err := c.coord.ActiveCount(ctx)
	if err != nil {
		return c.failClosed(err)
	}
	if globalActive >= int64(c.cfg.MaxConcurrentGlobal) {
		return Verdict{Defer, ReasonGlobalCapacity}, nil
	}

	// Gate 3: per-user concurrency.
	userActive, err := c.coord.UserActiveCount(ctx, userID)
	if err != nil {
		return c.failClosed(err)
	}
	if userActive >= int64(c.cfg.MaxConcurrentPerUser) {
		return Verdict{Defer, ReasonUserQuota}, nil
	}

	// Gate 4: system resources.
	if reason := c.resourceGate(ctx); reason != "" {
		return Verdict{Defer, reason}, nil
	}

	// Gate 5: hard policy.
	if c.policy != nil {
		reason, err := c.policy(ctx, bookID, userID)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy gate: %w", err)
		}
		if reason != "" {
			return Verdict{Reject, reason}, nil
		}
	}

	return Verdict{Admit, ReasonOK}, nil
}

// AcquireSlot atomically claims a run slot, re-evaluating the coordination
// gates inside the store. Resource and policy gates are checked first; they
// cannot be part of the atomic step but a stale pass only costs one deferred
// dispatch attempt.
func (c *Controller) AcquireSlot(ctx context.Context, bookID, userID string) (Verdict, error) {
	if reason := c.resourceGate(ctx); reason != "" {
		return Verdict{Defer, reason}, nil
	}
	if c.policy != nil {
		reason, err := c.policy(ctx, bookID, userID)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy gate: %w", err)
		}
		if reason != "" {
			return Verdict{Reject, reason}, nil
		}
	}

	res, err := c.coord.AcquireSlot(ctx, bookID, userID,
		c.cfg.MaxConcurrentGlobal, c.cfg.MaxConcurrentPerUser, c.cfg.Cooldown())
	if err != nil {
		return c.failClosed(err)
	}
	if res != coord.SlotAcquired {
		return Verdict{Defer, string(res)}, nil
	}

	c.coord.IncrStat(ctx, coord.StatAdmitted)
	c.logger.Info("slot acquired", "book_id", bookID, "user_id", userID)
	return Verdict{Admit, ReasonOK}, nil
}

// ReleaseSlot returns the (book, user) slot. Idempotent.
func (c *Controller) ReleaseSlot(ctx context.Context, bookID, userID string) error {
	if err := c.coord.ReleaseSlot(ctx, bookID, userID); err != nil {
		return err
	}
	c.logger.Info("slot released", "book_id", bookID, "user_id", userID)
	return nil
}

// Enqueue adds a deferred job to the durable priority queue and returns its
// 1-based position.
func (c *Controller) Enqueue(ctx context.Context, task *types.Task) (int64, error) {
	pos, err := c.coord.PushTask(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	c.coord.IncrStat(ctx, coord.StatDeferred)
	c.logger.Info("job queued", "job_id", task.JobID, "priority", task.Priority, "position", pos)
	return pos, nil
}

// Snapshot is the admission stats view: live gauges plus event counters.
type Snapshot struct {
	Active   int64            `json:"active"`
	Queued   int64            `json:"queued"`
	Counters map[string]int64 `json:"counters"`
}

// Stats returns current active/queued counts and the event counters.
func (c *Controller) Stats(ctx context.Context) (*Snapshot, error) {
	active, err := c.coord.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := c.coord.QueueLen(ctx)
	if err != nil {
		return nil, err
	}
	counters, err := c.coord.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Active: active, Queued: queued, Counters: counters}, nil
}

// resourceGate returns a defer reason when the host is under pressure, or ""
// when clear. Probe failures defer: an unknown host state is not a safe one.
func (c *Controller) resourceGate(ctx context.Context) string {
	if c.probe == nil {
		return ""
	}
	snap, err := c.probe.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("resource probe failed", "error", err)
		return ReasonResourceProbe
	}
	if c.cfg.MaxMemoryPercent > 0 && snap.MemoryPercent > c.cfg.MaxMemoryPercent {
		return ReasonMemoryPressure
	}
	if c.cfg.MinFreeMemoryMB > 0 && snap.AvailableMB < c.cfg.MinFreeMemoryMB {
		return ReasonLowFreeMemory
	}
	if c.cfg.MaxCPUPercent > 0 && snap.CPUPercent > c.cfg.MaxCPUPercent {
		return ReasonCPUPressure
	}
	return ""
}

// failClosed maps a coordination store error to a deny verdict. Admission
// never fails open.
func (c *Controller) failClosed(err error) (Verdict, error) {
	c.logger.Error("coordination store unavailable, failing closed", "error", err)
	return Verdict{Defer, ReasonCoordUnavailable}, nil
}
