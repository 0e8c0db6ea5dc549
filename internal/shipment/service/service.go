// Package service implements shipment consolidation: grouping processed
// packages under a shipment, keeping aggregates consistent, deriving
// shipment status from members, and driving departure and arrival.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lifecyclemodels "custodia/internal/lifecycle/models"
	lifecycleservice "custodia/internal/lifecycle/service"
	lifecyclestore "custodia/internal/lifecycle/store"
	"custodia/internal/notify"
	"custodia/internal/shipment/metrics"
	"custodia/internal/shipment/models"
	"custodia/internal/shipment/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// CodeIssuer issues a release code for a package inside the caller's
// transaction and returns the plaintext exactly once. Implemented by
// the release service.
type CodeIssuer interface {
	Issue(ctx context.Context, pkgID id.PackageID, actor string) (code string, expiresAt time.Time, err error)
}

// Service owns shipments. Member package status changes are delegated
// to the lifecycle service so every change carries its audit entry;
// this service adds the shipment-level invariants on top.
type Service struct {
	shipments store.ShipmentStore
	packages  lifecyclestore.PackageStore
	lifecycle *lifecycleservice.Service
	audit     audit.Store
	runner    tx.Runner
	issuer    CodeIssuer
	notifier  notify.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func New(
	shipments store.ShipmentStore,
	packages lifecyclestore.PackageStore,
	lifecycle *lifecycleservice.Service,
	auditStore audit.Store,
	runner tx.Runner,
	issuer CodeIssuer,
	opts ...Option,
) (*Service, error) {
	if shipments == nil {
		return nil, errors.New("shipment store is required")
	}
	if packages == nil {
		return nil, errors.New("package store is required")
	}
	if lifecycle == nil {
		return nil, errors.New("lifecycle service is required")
	}
	if auditStore == nil {
		return nil, errors.New("audit store is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	if issuer == nil {
		return nil, errors.New("code issuer is required")
	}
	svc := &Service{
		shipments: shipments,
		packages:  packages,
		lifecycle: lifecycle,
		audit:     auditStore,
		runner:    runner,
		issuer:    issuer,
		notifier:  notify.Noop{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("custodia/shipment"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// View is a shipment with its derived status and member packages.
// Status is computed here on every read; it is never stored.
type View struct {
	Shipment *models.Shipment
	Status   lifecyclemodels.Status
	Members  []*lifecyclemodels.Package
}

// CreateRequest describes a consolidation.
type CreateRequest struct {
	PackageIDs   []id.PackageID
	Destination  string
	ServiceLevel string
}

// Create consolidates processed, unassigned packages into a new
// shipment. Any package not ready fails the whole consolidation.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor string) (*View, error) {
	ctx, span := s.tracer.Start(ctx, "shipment.Create",
		trace.WithAttributes(attribute.Int("shipment.members", len(req.PackageIDs))))
	defer span.End()

	if len(req.PackageIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one package is required")
	}
	seen := make(map[id.PackageID]struct{}, len(req.PackageIDs))
	for _, pkgID := range req.PackageIDs {
		if _, dup := seen[pkgID]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "package %s listed twice", pkgID)
		}
		seen[pkgID] = struct{}{}
	}

	shp, err := models.NewShipment(req.Destination, req.ServiceLevel)
	if err != nil {
		return nil, err
	}

	var view *View
	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.shipments.Create(ctx, shp); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "tracking code collision")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create shipment")
		}

		members := make([]*lifecyclemodels.Package, 0, len(req.PackageIDs))
		for _, pkgID := range req.PackageIDs {
			pkg, err := s.lifecycle.Group(ctx, pkgID, shp.ID, actor)
			if err != nil {
				return err
			}
			members = append(members, pkg)
		}

		shp.Recompute(members)
		if err := s.shipments.Update(ctx, shp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update shipment aggregates")
		}
		if err := s.appendAudit(ctx, shp, audit.ActionShipmentCreated, "", lifecyclemodels.StatusGrouped, actor,
			"consolidated "+shp.TrackingCode); err != nil {
			return err
		}

		view = &View{Shipment: shp, Status: models.DeriveStatus(models.Statuses(members)), Members: members}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ShipmentsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "shipment created",
		"shipment_id", shp.ID,
		"tracking_code", shp.TrackingCode,
		"packages", shp.PackageCount,
		"actor", actor,
	)
	return view, nil
}

// Get loads a shipment with derived status and members.
func (s *Service) Get(ctx context.Context, shipmentID id.ShipmentID) (*View, error) {
	shp, err := s.loadShipment(ctx, shipmentID, false)
	if err != nil {
		return nil, err
	}
	members, err := s.members(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return &View{Shipment: shp, Status: models.DeriveStatus(models.Statuses(members)), Members: members}, nil
}

// List returns shipments with derived statuses.
func (s *Service) List(ctx context.Context, includeArchived bool) ([]*View, error) {
	shipments, err := s.shipments.List(ctx, includeArchived)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list shipments")
	}
	views := make([]*View, 0, len(shipments))
	for _, shp := range shipments {
		members, err := s.members(ctx, shp.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, &View{
			Shipment: shp,
			Status:   models.DeriveStatus(models.Statuses(members)),
			Members:  members,
		})
	}
	return views, nil
}

// Depart marks physical departure: every member moves grouped ->
// shipped -> in_transit in one atomic unit.
func (s *Service) Depart(ctx context.Context, shipmentID id.ShipmentID, actor string) (*View, error) {
	var view *View
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		shp, err := s.loadShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return err
		}
		members, err := s.members(ctx, shipmentID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return dErrors.New(dErrors.CodeInvalidTransition, "shipment has no packages")
		}
		if st := models.DeriveStatus(models.Statuses(members)); st != lifecyclemodels.StatusGrouped {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "shipment is %s, not grouped", st)
		}

		updated := make([]*lifecyclemodels.Package, 0, len(members))
		for _, pkg := range members {
			if _, err := s.lifecycle.Transition(ctx, pkg.ID, lifecyclemodels.StatusShipped, actor, "shipment departed"); err != nil {
				return err
			}
			moved, err := s.lifecycle.Transition(ctx, pkg.ID, lifecyclemodels.StatusInTransit, actor, "shipment departed")
			if err != nil {
				return err
			}
			updated = append(updated, moved)
		}

		if err := s.shipments.Update(ctx, shp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update shipment")
		}
		if err := s.appendAudit(ctx, shp, audit.ActionShipmentDeparted,
			lifecyclemodels.StatusGrouped, lifecyclemodels.StatusInTransit, actor, ""); err != nil {
			return err
		}

		view = &View{Shipment: shp, Status: lifecyclemodels.StatusInTransit, Members: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Departures.Inc()
	}
	return view, nil
}

// Arrive marks physical arrival: every member moves to arrived and gets
// a release code issued in the same transaction. Plaintext codes go to
// the notifier after commit and nowhere else.
func (s *Service) Arrive(ctx context.Context, shipmentID id.ShipmentID, actor string) (*View, error) {
	var view *View
	var issued []notify.CodeIssued

	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		shp, err := s.loadShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return err
		}
		members, err := s.members(ctx, shipmentID)
		if err != nil {
			return err
		}
		if st := models.DeriveStatus(models.Statuses(members)); st != lifecyclemodels.StatusInTransit {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "shipment is %s, not in_transit", st)
		}

		updated := make([]*lifecyclemodels.Package, 0, len(members))
		for _, pkg := range members {
			if _, err := s.lifecycle.Transition(ctx, pkg.ID, lifecyclemodels.StatusArrived, actor, "shipment arrived"); err != nil {
				return err
			}
			code, expiresAt, err := s.issuer.Issue(ctx, pkg.ID, actor)
			if err != nil {
				return err
			}
			issued = append(issued, notify.CodeIssued{
				PackageID: pkg.ID.String(),
				Code:      code,
				ExpiresAt: expiresAt,
			})
			fresh, err := s.packages.Get(ctx, pkg.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload package")
			}
			updated = append(updated, fresh)
		}

		if err := s.shipments.Update(ctx, shp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update shipment")
		}
		if err := s.appendAudit(ctx, shp, audit.ActionShipmentArrived,
			lifecyclemodels.StatusInTransit, lifecyclemodels.StatusArrived, actor, ""); err != nil {
			return err
		}

		view = &View{Shipment: shp, Status: lifecyclemodels.StatusArrived, Members: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Arrivals.Inc()
	}
	s.dispatchIssued(ctx, issued)
	return view, nil
}

// Unlink removes a package from a shipment before departure and
// recomputes the aggregates. The package returns to processed.
func (s *Service) Unlink(ctx context.Context, shipmentID id.ShipmentID, pkgID id.PackageID, actor, reason string) (*View, error) {
	var view *View
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		shp, err := s.loadShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return err
		}
		members, err := s.members(ctx, shipmentID)
		if err != nil {
			return err
		}
		var target *lifecyclemodels.Package
		for _, pkg := range members {
			if pkg.ID == pkgID {
				target = pkg
			}
			if pkg.Status.Rank() >= lifecyclemodels.StatusShipped.Rank() {
				return dErrors.New(dErrors.CodeShipmentInTransit, "shipment has already departed")
			}
		}
		if target == nil {
			return dErrors.Newf(dErrors.CodePackageNotFound, "package %s is not in this shipment", pkgID)
		}

		if _, err := s.lifecycle.Ungroup(ctx, pkgID, actor, reason); err != nil {
			return err
		}

		remaining := make([]*lifecyclemodels.Package, 0, len(members)-1)
		for _, pkg := range members {
			if pkg.ID != pkgID {
				remaining = append(remaining, pkg)
			}
		}
		shp.Recompute(remaining)
		if err := s.shipments.Update(ctx, shp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update shipment aggregates")
		}

		view = &View{Shipment: shp, Status: models.DeriveStatus(models.Statuses(remaining)), Members: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Unlinks.Inc()
	}
	return view, nil
}

// ArchiveIfDelivered closes out a shipment once every member has been
// delivered. Called by the verification service after a delivery; a
// shipment with undelivered members is left untouched.
func (s *Service) ArchiveIfDelivered(ctx context.Context, shipmentID id.ShipmentID, actor string) error {
	return s.runner.InTx(ctx, func(ctx context.Context) error {
		shp, err := s.loadShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return err
		}
		if shp.Archived() {
			return nil
		}
		members, err := s.members(ctx, shipmentID)
		if err != nil {
			return err
		}
		if len(members) == 0 || models.DeriveStatus(models.Statuses(members)) != lifecyclemodels.StatusDelivered {
			return nil
		}

		now := requestcontext.Now(ctx)
		shp.ArchivedAt = &now
		if err := s.shipments.Update(ctx, shp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive shipment")
		}
		return s.appendAudit(ctx, shp, audit.ActionShipmentArchived,
			lifecyclemodels.StatusDelivered, lifecyclemodels.StatusDelivered, actor, "all packages delivered")
	})
}

// dispatchIssued hands plaintext codes to the notification collaborator
// after the transaction has committed. Failures are logged, never
// propagated; the codes can always be reissued.
func (s *Service) dispatchIssued(ctx context.Context, issued []notify.CodeIssued) {
	for _, payload := range issued {
		if err := s.notifier.CodeIssued(ctx, payload); err != nil {
			s.logger.ErrorContext(ctx, "code notification failed",
				"package_id", payload.PackageID,
				"error", err,
			)
		}
	}
}

func (s *Service) members(ctx context.Context, shipmentID id.ShipmentID) ([]*lifecyclemodels.Package, error) {
	members, err := s.packages.ListByShipment(ctx, shipmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shipment members")
	}
	return members, nil
}

func (s *Service) loadShipment(ctx context.Context, shipmentID id.ShipmentID, forUpdate bool) (*models.Shipment, error) {
	var (
		shp *models.Shipment
		err error
	)
	if forUpdate {
		shp, err = s.shipments.GetForUpdate(ctx, shipmentID)
	} else {
		shp, err = s.shipments.Get(ctx, shipmentID)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeShipmentNotFound, "shipment does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shipment")
	}
	return shp, nil
}

func (s *Service) loadShipmentForUpdate(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error) {
	return s.loadShipment(ctx, shipmentID, true)
}

func (s *Service) appendAudit(ctx context.Context, shp *models.Shipment, action string, prev, next lifecyclemodels.Status, actor, reason string) error {
	err := s.audit.Append(ctx, audit.Entry{
		EntityType: audit.EntityShipment,
		EntityID:   shp.ID.String(),
		Action:     action,
		PrevState:  string(prev),
		NewState:   string(next),
		Actor:      actor,
		Decision:   audit.DecisionSuccess,
		Reason:     reason,
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}
