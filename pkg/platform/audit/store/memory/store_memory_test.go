package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "custodia/pkg/platform/audit"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = New()
}

func (s *InMemoryStoreSuite) appendEntry(entityID, action, actor, decision string, at time.Time) {
	err := s.store.Append(context.Background(), audit.Entry{
		EntityType: audit.EntityPackage,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Decision:   decision,
		Timestamp:  at,
	})
	s.Require().NoError(err)
}

func (s *InMemoryStoreSuite) TestAppendAssignsIDAndTimestamp() {
	ctx := context.Background()
	err := s.store.Append(ctx, audit.Entry{EntityType: audit.EntityShipment, EntityID: "s1"})
	s.Require().NoError(err)

	entries, err := s.store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.NotZero(entries[0].ID)
	s.False(entries[0].Timestamp.IsZero())
}

func (s *InMemoryStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.appendEntry("p1", audit.ActionPackageTransitioned, "ops:lena", audit.DecisionSuccess, base)
	s.appendEntry("p1", audit.ActionVerificationAttempt, "desk:jon", audit.DecisionFailure, base.Add(time.Minute))
	s.appendEntry("p2", audit.ActionVerificationAttempt, "desk:ana", audit.DecisionSuccess, base.Add(2*time.Minute))

	s.Run("by entity", func() {
		entries, err := s.store.Query(ctx, audit.Filter{EntityID: "p1"})
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("by action and decision", func() {
		entries, err := s.store.Query(ctx, audit.Filter{
			Action:   audit.ActionVerificationAttempt,
			Decision: audit.DecisionFailure,
		})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("p1", entries[0].EntityID)
	})

	s.Run("by time range", func() {
		entries, err := s.store.Query(ctx, audit.Filter{
			From: base.Add(30 * time.Second),
			To:   base.Add(90 * time.Second),
		})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionVerificationAttempt, entries[0].Action)
	})

	s.Run("newest first with limit", func() {
		entries, err := s.store.Query(ctx, audit.Filter{Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("p2", entries[0].EntityID)
		s.Equal("p1", entries[1].EntityID)
	})
}

func (s *InMemoryStoreSuite) TestPurgeOlderThan() {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.appendEntry("p1", audit.ActionPackageCreated, "ops:lena", "", base)
	s.appendEntry("p2", audit.ActionPackageCreated, "ops:lena", "", base.Add(48*time.Hour))

	purged, err := s.store.PurgeOlderThan(ctx, base.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), purged)

	entries, err := s.store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("p2", entries[0].EntityID)

	s.Run("purge is idempotent", func() {
		purged, err := s.store.PurgeOlderThan(ctx, base.Add(24*time.Hour))
		s.Require().NoError(err)
		s.Zero(purged)
	})
}
