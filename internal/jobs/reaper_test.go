package jobs_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/jobs"
	audit "custodia/pkg/platform/audit"
	auditmem "custodia/pkg/platform/audit/store/memory"
)

func TestReaper(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	seed := func(store *auditmem.InMemoryStore, ages ...time.Duration) {
		for _, age := range ages {
			require.NoError(t, store.Append(ctx, audit.Entry{
				EntityType: audit.EntityPackage,
				EntityID:   "pkg",
				Action:     audit.ActionPackageCreated,
				Timestamp:  time.Now().Add(-age),
			}))
		}
	}

	t.Run("purges entries beyond retention and logs the purge", func(t *testing.T) {
		store := auditmem.New()
		seed(store, 100*24*time.Hour, 95*24*time.Hour, time.Hour)

		reaper := jobs.NewReaper(store, 90*24*time.Hour, nil, logger)
		require.NoError(t, reaper.Run(ctx))

		remaining, err := store.Query(ctx, audit.Filter{})
		require.NoError(t, err)
		// One recent entry survives plus the purge record itself.
		require.Len(t, remaining, 2)
		assert.Equal(t, audit.ActionAuditPurged, remaining[0].Action)
		assert.Equal(t, "system:reaper", remaining[0].Actor)
	})

	t.Run("no-op when nothing is eligible", func(t *testing.T) {
		store := auditmem.New()
		seed(store, time.Hour)

		reaper := jobs.NewReaper(store, 90*24*time.Hour, nil, logger)
		require.NoError(t, reaper.Run(ctx))

		remaining, err := store.Query(ctx, audit.Filter{})
		require.NoError(t, err)
		assert.Len(t, remaining, 1, "no purge record on a no-op run")
	})

	t.Run("idempotent across repeated runs", func(t *testing.T) {
		store := auditmem.New()
		seed(store, 100*24*time.Hour)

		reaper := jobs.NewReaper(store, 90*24*time.Hour, nil, logger)
		require.NoError(t, reaper.Run(ctx))
		require.NoError(t, reaper.Run(ctx))

		remaining, err := store.Query(ctx, audit.Filter{Action: audit.ActionAuditPurged})
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}
