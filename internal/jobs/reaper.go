// Package jobs hosts scheduled background work. The only scheduled
// process in the custody core is the audit-retention reaper.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	audit "custodia/pkg/platform/audit"
	"custodia/pkg/requestcontext"
)

const (
	reaperActor    = "system:reaper"
	reaperLockKey  = "custodia:reaper:lock"
	reaperLockTTL  = 10 * time.Minute
	reaperDeadline = 5 * time.Minute
)

// Reaper purges audit entries older than the retention window. It is
// idempotent: a run that finds nothing eligible is a no-op, and the
// Redis lock keeps overlapping runs across instances from racing.
type Reaper struct {
	store     audit.Store
	retention time.Duration
	locker    *redis.Client
	logger    *slog.Logger
}

// NewReaper builds a reaper with the given retention window. locker may
// be nil for single-instance deployments; the purge itself is safe to
// run concurrently, the lock only avoids duplicate work.
func NewReaper(store audit.Store, retention time.Duration, locker *redis.Client, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     store,
		retention: retention,
		locker:    locker,
		logger:    logger,
	}
}

// Run executes one purge pass. The purge itself is logged as a fresh
// audit entry so even the reaper leaves a trail.
func (r *Reaper) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reaperDeadline)
	defer cancel()

	if r.locker != nil {
		acquired, err := r.locker.SetNX(ctx, reaperLockKey, "1", reaperLockTTL).Result()
		if err != nil {
			return err
		}
		if !acquired {
			r.logger.InfoContext(ctx, "reaper already running elsewhere, skipping")
			return nil
		}
		defer r.locker.Del(context.WithoutCancel(ctx), reaperLockKey)
	}

	cutoff := time.Now().Add(-r.retention)
	purged, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if purged == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "audit retention purge",
		"purged", purged,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
	)
	return r.store.Append(ctx, audit.Entry{
		EntityType: audit.EntityAudit,
		EntityID:   "retention",
		Action:     audit.ActionAuditPurged,
		Actor:      reaperActor,
		Decision:   audit.DecisionSuccess,
		Reason:     "purged entries older than " + cutoff.UTC().Format(time.RFC3339),
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  time.Now(),
	})
}
