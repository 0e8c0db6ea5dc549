//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/lifecycle/models"
	"custodia/internal/lifecycle/store"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/testutil/containers"
)

type PostgresPackageStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresPackageStore
	runner   *tx.PostgresRunner
	ctx      context.Context
}

func TestPostgresPackageStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresPackageStoreSuite))
}

func (s *PostgresPackageStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.runner = tx.NewPostgresRunner(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresPackageStoreSuite) TearDownSuite() {
	_ = s.postgres.DB.Close()
	_ = s.postgres.Container.Terminate(s.ctx)
}

func (s *PostgresPackageStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx))
}

func (s *PostgresPackageStoreSuite) newPackage() *models.Package {
	pkg, err := models.NewPackage(id.NewCustomerID(), "STE-5001", "books", 900, 3000)
	s.Require().NoError(err)
	return pkg
}

func (s *PostgresPackageStoreSuite) TestCreateAndGet() {
	pkg := s.newPackage()
	s.Require().NoError(s.store.Create(s.ctx, pkg))

	got, err := s.store.Get(s.ctx, pkg.ID)
	s.Require().NoError(err)
	s.Equal(pkg.TrackingCode, got.TrackingCode)
	s.Equal(models.StatusAwaitingPickup, got.Status)
	s.Equal(pkg.CustomerID, got.CustomerID)
	s.Nil(got.ShipmentID)
	s.Nil(got.HeldStatus)
}

func (s *PostgresPackageStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, id.NewPackageID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresPackageStoreSuite) TestDuplicateTrackingCode() {
	pkg := s.newPackage()
	s.Require().NoError(s.store.Create(s.ctx, pkg))

	dup := s.newPackage()
	dup.TrackingCode = pkg.TrackingCode
	s.Require().ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
}

func (s *PostgresPackageStoreSuite) TestUpdateRoundTrip() {
	pkg := s.newPackage()
	s.Require().NoError(s.store.Create(s.ctx, pkg))

	now := time.Now().UTC().Truncate(time.Microsecond)
	expires := now.Add(30 * 24 * time.Hour)
	held := models.StatusReceived
	shipmentID := id.NewShipmentID()

	pkg.Status = models.StatusException
	pkg.HeldStatus = &held
	pkg.ShipmentID = &shipmentID
	pkg.CodeHash = "$2a$10$fakehashfakehashfakehash"
	pkg.CodeFingerprint = "fp-1"
	pkg.CodeIssuedAt = &now
	pkg.CodeExpiresAt = &expires
	pkg.FailedAttempts = 2
	s.Require().NoError(s.store.Update(s.ctx, pkg))

	got, err := s.store.Get(s.ctx, pkg.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusException, got.Status)
	s.Require().NotNil(got.HeldStatus)
	s.Equal(models.StatusReceived, *got.HeldStatus)
	s.Require().NotNil(got.ShipmentID)
	s.Equal(shipmentID, *got.ShipmentID)
	s.Equal("fp-1", got.CodeFingerprint)
	s.Equal(2, got.FailedAttempts)
	s.Require().NotNil(got.CodeExpiresAt)
	s.WithinDuration(expires, *got.CodeExpiresAt, time.Millisecond)
}

func (s *PostgresPackageStoreSuite) TestUpdateUnknown() {
	pkg := s.newPackage()
	s.Require().ErrorIs(s.store.Update(s.ctx, pkg), sentinel.ErrNotFound)
}

func (s *PostgresPackageStoreSuite) TestListByShipment() {
	shipmentID := id.NewShipmentID()
	for i := 0; i < 3; i++ {
		pkg := s.newPackage()
		if i < 2 {
			pkg.ShipmentID = &shipmentID
		}
		s.Require().NoError(s.store.Create(s.ctx, pkg))
	}

	members, err := s.store.ListByShipment(s.ctx, shipmentID)
	s.Require().NoError(err)
	s.Len(members, 2)
}

func (s *PostgresPackageStoreSuite) TestActiveFingerprintExists() {
	now := time.Now().UTC()
	expires := now.Add(time.Hour)
	used := now.Add(-time.Minute)

	active := s.newPackage()
	active.CodeFingerprint = "fp-active"
	active.CodeExpiresAt = &expires
	s.Require().NoError(s.store.Create(s.ctx, active))

	spent := s.newPackage()
	spent.CodeFingerprint = "fp-spent"
	spent.CodeExpiresAt = &expires
	spent.CodeUsedAt = &used
	s.Require().NoError(s.store.Create(s.ctx, spent))

	exists, err := s.store.ActiveFingerprintExists(s.ctx, "fp-active", now)
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.store.ActiveFingerprintExists(s.ctx, "fp-spent", now)
	s.Require().NoError(err)
	s.False(exists, "used codes are not active")

	exists, err = s.store.ActiveFingerprintExists(s.ctx, "fp-active", now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.False(exists, "expired codes are not active")
}

func (s *PostgresPackageStoreSuite) TestGetForUpdateInTx() {
	pkg := s.newPackage()
	s.Require().NoError(s.store.Create(s.ctx, pkg))

	err := s.runner.InTx(s.ctx, func(ctx context.Context) error {
		locked, err := s.store.GetForUpdate(ctx, pkg.ID)
		if err != nil {
			return err
		}
		locked.FailedAttempts = 1
		return s.store.Update(ctx, locked)
	})
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, pkg.ID)
	s.Require().NoError(err)
	s.Equal(1, got.FailedAttempts)
}
