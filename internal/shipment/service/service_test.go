package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	lifecyclemodels "custodia/internal/lifecycle/models"
	lifecycleservice "custodia/internal/lifecycle/service"
	lifecyclestore "custodia/internal/lifecycle/store"
	"custodia/internal/shipment/service"
	"custodia/internal/shipment/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	auditmem "custodia/pkg/platform/audit/store/memory"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// stubIssuer satisfies the CodeIssuer dependency without real code
// policy; issuance itself is covered by the release service tests.
type stubIssuer struct {
	calls []id.PackageID
}

func (i *stubIssuer) Issue(_ context.Context, pkgID id.PackageID, _ string) (string, time.Time, error) {
	i.calls = append(i.calls, pkgID)
	return "123456", time.Now().Add(30 * 24 * time.Hour), nil
}

type ShipmentServiceSuite struct {
	suite.Suite
	packages  *lifecyclestore.InMemoryPackageStore
	shipments *store.InMemoryShipmentStore
	audits    *auditmem.InMemoryStore
	issuer    *stubIssuer
	lifecycle *lifecycleservice.Service
	svc       *service.Service
	ctx       context.Context
}

func TestShipmentServiceSuite(t *testing.T) {
	suite.Run(t, new(ShipmentServiceSuite))
}

func (s *ShipmentServiceSuite) SetupTest() {
	s.packages = lifecyclestore.NewInMemory()
	s.shipments = store.NewInMemory()
	s.audits = auditmem.New()
	s.issuer = &stubIssuer{}
	runner := tx.NewMemoryRunner()

	var err error
	s.lifecycle, err = lifecycleservice.New(s.packages, s.audits, runner)
	s.Require().NoError(err)
	s.svc, err = service.New(s.shipments, s.packages, s.lifecycle, s.audits, runner, s.issuer)
	s.Require().NoError(err)

	ctx := requestcontext.WithActor(context.Background(), "warehouse:lena")
	s.ctx = requestcontext.WithRequestID(ctx, "req-shipment")
}

// processedPackage creates a package and advances it to processed.
func (s *ShipmentServiceSuite) processedPackage(weight, value int64) *lifecyclemodels.Package {
	pkg, err := s.lifecycle.Intake(s.ctx, lifecycleservice.IntakeRequest{
		CustomerID:         id.NewCustomerID(),
		SuiteCode:          "STE-3100",
		WeightGrams:        weight,
		DeclaredValueCents: value,
	}, "warehouse:lena")
	s.Require().NoError(err)

	for _, target := range []lifecyclemodels.Status{
		lifecyclemodels.StatusReceived,
		lifecyclemodels.StatusProcessing,
		lifecyclemodels.StatusProcessed,
	} {
		pkg, err = s.lifecycle.Transition(s.ctx, pkg.ID, target, "warehouse:lena", "")
		s.Require().NoError(err)
	}
	return pkg
}

func (s *ShipmentServiceSuite) consolidate(pkgs ...*lifecyclemodels.Package) *service.View {
	ids := make([]id.PackageID, len(pkgs))
	for i, pkg := range pkgs {
		ids[i] = pkg.ID
	}
	view, err := s.svc.Create(s.ctx, service.CreateRequest{
		PackageIDs:   ids,
		Destination:  "Batumi",
		ServiceLevel: "standard",
	}, "warehouse:lena")
	s.Require().NoError(err)
	return view
}

func (s *ShipmentServiceSuite) TestCreate() {
	s.Run("consolidates processed packages and computes aggregates", func() {
		a := s.processedPackage(1000, 5000)
		b := s.processedPackage(250, 700)

		view := s.consolidate(a, b)

		s.Equal(2, view.Shipment.PackageCount)
		s.Equal(int64(1250), view.Shipment.TotalWeightGrams)
		s.Equal(int64(5700), view.Shipment.TotalValueCents)
		s.Equal(lifecyclemodels.StatusGrouped, view.Status)
		for _, member := range view.Members {
			s.Equal(lifecyclemodels.StatusGrouped, member.Status)
		}

		entries, err := s.audits.Query(s.ctx, audit.Filter{Action: audit.ActionShipmentCreated})
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("fails when any package is not processed", func() {
		ready := s.processedPackage(500, 0)
		notReady, err := s.lifecycle.Intake(s.ctx, lifecycleservice.IntakeRequest{
			CustomerID:  id.NewCustomerID(),
			SuiteCode:   "STE-3100",
			WeightGrams: 100,
		}, "warehouse:lena")
		s.Require().NoError(err)

		_, err = s.svc.Create(s.ctx, service.CreateRequest{
			PackageIDs:   []id.PackageID{ready.ID, notReady.ID},
			Destination:  "Batumi",
			ServiceLevel: "standard",
		}, "warehouse:lena")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePackageNotReady))
	})

	s.Run("fails when a package is already assigned elsewhere", func() {
		pkg := s.processedPackage(500, 0)
		s.consolidate(pkg)

		other := s.processedPackage(200, 0)
		_, err := s.svc.Create(s.ctx, service.CreateRequest{
			PackageIDs:   []id.PackageID{pkg.ID, other.ID},
			Destination:  "Batumi",
			ServiceLevel: "standard",
		}, "warehouse:lena")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePackageNotReady))
	})

	s.Run("rejects an empty package list", func() {
		_, err := s.svc.Create(s.ctx, service.CreateRequest{
			Destination:  "Batumi",
			ServiceLevel: "standard",
		}, "warehouse:lena")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects duplicate package ids", func() {
		pkg := s.processedPackage(500, 0)
		_, err := s.svc.Create(s.ctx, service.CreateRequest{
			PackageIDs:   []id.PackageID{pkg.ID, pkg.ID},
			Destination:  "Batumi",
			ServiceLevel: "standard",
		}, "warehouse:lena")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ShipmentServiceSuite) TestDepart() {
	s.Run("moves every member to in_transit", func() {
		view := s.consolidate(s.processedPackage(100, 0), s.processedPackage(200, 0))

		departed, err := s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)
		s.Equal(lifecyclemodels.StatusInTransit, departed.Status)
		for _, member := range departed.Members {
			s.Equal(lifecyclemodels.StatusInTransit, member.Status)
		}

		entries, err := s.audits.Query(s.ctx, audit.Filter{Action: audit.ActionShipmentDeparted})
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("rejects a second departure", func() {
		view := s.consolidate(s.processedPackage(100, 0))
		_, err := s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)

		_, err = s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown shipment", func() {
		_, err := s.svc.Depart(s.ctx, id.NewShipmentID(), "ops:igor")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeShipmentNotFound))
	})
}

func (s *ShipmentServiceSuite) TestArrive() {
	s.Run("marks members arrived and issues a code per member", func() {
		view := s.consolidate(s.processedPackage(100, 0), s.processedPackage(200, 0))
		_, err := s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)

		arrived, err := s.svc.Arrive(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)
		s.Equal(lifecyclemodels.StatusArrived, arrived.Status)
		s.Len(s.issuer.calls, 2)

		entries, err := s.audits.Query(s.ctx, audit.Filter{Action: audit.ActionShipmentArrived})
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("rejects arrival before departure", func() {
		view := s.consolidate(s.processedPackage(100, 0))
		issuedBefore := len(s.issuer.calls)

		_, err := s.svc.Arrive(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.Len(s.issuer.calls, issuedBefore)
	})
}

func (s *ShipmentServiceSuite) TestUnlink() {
	s.Run("removes a member and recomputes aggregates", func() {
		a := s.processedPackage(1000, 5000)
		b := s.processedPackage(250, 700)
		view := s.consolidate(a, b)

		updated, err := s.svc.Unlink(s.ctx, view.Shipment.ID, a.ID, "warehouse:lena", "left behind at cutoff")
		s.Require().NoError(err)
		s.Equal(1, updated.Shipment.PackageCount)
		s.Equal(int64(250), updated.Shipment.TotalWeightGrams)
		s.Equal(int64(700), updated.Shipment.TotalValueCents)

		reloaded, err := s.packages.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(lifecyclemodels.StatusProcessed, reloaded.Status)
		s.Nil(reloaded.ShipmentID)
	})

	s.Run("rejected once the shipment has departed", func() {
		a := s.processedPackage(100, 0)
		view := s.consolidate(a)
		_, err := s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)

		_, err = s.svc.Unlink(s.ctx, view.Shipment.ID, a.ID, "warehouse:lena", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeShipmentInTransit))
	})

	s.Run("rejects a package outside the shipment", func() {
		view := s.consolidate(s.processedPackage(100, 0))
		stranger := s.processedPackage(100, 0)

		_, err := s.svc.Unlink(s.ctx, view.Shipment.ID, stranger.ID, "warehouse:lena", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePackageNotFound))
	})

	s.Run("an emptied shipment reads as grouped and cannot depart", func() {
		a := s.processedPackage(100, 0)
		view := s.consolidate(a)

		updated, err := s.svc.Unlink(s.ctx, view.Shipment.ID, a.ID, "warehouse:lena", "")
		s.Require().NoError(err)
		s.Equal(lifecyclemodels.StatusGrouped, updated.Status)
		s.Zero(updated.Shipment.PackageCount)

		_, err = s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ShipmentServiceSuite) TestGetAndList() {
	s.Run("derived status follows members", func() {
		view := s.consolidate(s.processedPackage(100, 0))
		_, err := s.svc.Depart(s.ctx, view.Shipment.ID, "ops:igor")
		s.Require().NoError(err)

		got, err := s.svc.Get(s.ctx, view.Shipment.ID)
		s.Require().NoError(err)
		s.Equal(lifecyclemodels.StatusInTransit, got.Status)
	})

	s.Run("unknown shipment", func() {
		_, err := s.svc.Get(s.ctx, id.NewShipmentID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeShipmentNotFound))
	})

	s.Run("list returns every open shipment", func() {
		before, err := s.svc.List(s.ctx, false)
		s.Require().NoError(err)

		s.consolidate(s.processedPackage(100, 0))
		s.consolidate(s.processedPackage(200, 0))

		views, err := s.svc.List(s.ctx, false)
		s.Require().NoError(err)
		s.Len(views, len(before)+2)
	})
}
