// Package service implements the package lifecycle state machine. All
// status changes in the system flow through this service; every change
// commits atomically with its audit entry.
package service

import (
	"context"
	"errors"
	"log/slog"

	"custodia/internal/lifecycle/metrics"
	"custodia/internal/lifecycle/models"
	"custodia/internal/lifecycle/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// Service owns package status. Status moves only forward, one state at
// a time; the exception path is explicit; delivery happens exclusively
// through the verification service's Deliver call.
type Service struct {
	packages store.PackageStore
	audit    audit.Store
	runner   tx.Runner
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(packages store.PackageStore, auditStore audit.Store, runner tx.Runner, opts ...Option) (*Service, error) {
	if packages == nil {
		return nil, errors.New("package store is required")
	}
	if auditStore == nil {
		return nil, errors.New("audit store is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	svc := &Service{
		packages: packages,
		audit:    auditStore,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IntakeRequest describes a package entering warehouse custody.
type IntakeRequest struct {
	CustomerID         id.CustomerID
	SuiteCode          string
	Description        string
	WeightGrams        int64
	DeclaredValueCents int64
}

// Intake creates a package in awaiting_pickup and audits its creation.
func (s *Service) Intake(ctx context.Context, req IntakeRequest, actor string) (*models.Package, error) {
	pkg, err := models.NewPackage(req.CustomerID, req.SuiteCode, req.Description, req.WeightGrams, req.DeclaredValueCents)
	if err != nil {
		return nil, err
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.packages.Create(ctx, pkg); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "tracking code collision")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionPackageCreated, "", pkg.Status, actor, "intake approved")
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PackagesCreated.Inc()
	}
	s.logger.InfoContext(ctx, "package created",
		"package_id", pkg.ID,
		"tracking_code", pkg.TrackingCode,
		"actor", actor,
	)
	return pkg, nil
}

// Get loads a package by ID.
func (s *Service) Get(ctx context.Context, pkgID id.PackageID) (*models.Package, error) {
	pkg, err := s.packages.Get(ctx, pkgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodePackageNotFound, "package does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load package")
	}
	return pkg, nil
}

// Transition moves a package to the immediate successor of its current
// state. This is the only sanctioned way to change status; delivered is
// reachable only through Deliver, and exception through MarkException.
func (s *Service) Transition(ctx context.Context, pkgID id.PackageID, target models.Status, actor, reason string) (*models.Package, error) {
	if !target.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown target status %q", target)
	}
	if target == models.StatusException {
		return s.MarkException(ctx, pkgID, actor, reason)
	}
	if target == models.StatusDelivered {
		return nil, dErrors.New(dErrors.CodeInvalidTransition,
			"delivered is reachable only through code verification")
	}

	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if !pkg.Status.CanAdvanceTo(target) {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"cannot transition from %s to %s", pkg.Status, target)
		}
		prev := pkg.Status
		pkg.Status = target
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionPackageTransitioned, prev, target, actor, reason)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(target)).Inc()
	}
	return pkg, nil
}

// MarkException moves a package from any non-terminal state into
// exception, remembering the state it held for later resolution.
func (s *Service) MarkException(ctx context.Context, pkgID id.PackageID, actor, reason string) (*models.Package, error) {
	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status.Terminal() {
			return dErrors.New(dErrors.CodeInvalidTransition, "delivered packages cannot be marked exception")
		}
		if pkg.Status == models.StatusException {
			return dErrors.New(dErrors.CodeInvalidTransition, "package is already in exception")
		}
		prev := pkg.Status
		pkg.HeldStatus = &prev
		pkg.Status = models.StatusException
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionExceptionMarked, prev, models.StatusException, actor, reason)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Exceptions.Inc()
	}
	s.logger.WarnContext(ctx, "package marked exception",
		"package_id", pkgID,
		"actor", actor,
		"reason", reason,
	)
	return pkg, nil
}

// ResolveException returns a package from exception into the forward
// sequence. The target must not precede the state the package held
// before the exception, so completed work is never replayed.
func (s *Service) ResolveException(ctx context.Context, pkgID id.PackageID, target models.Status, actor, reason string) (*models.Package, error) {
	if target.Rank() < 0 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "resolution target %q is not in the forward sequence", target)
	}
	if target == models.StatusDelivered {
		return nil, dErrors.New(dErrors.CodeInvalidTransition,
			"delivered is reachable only through code verification")
	}

	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status != models.StatusException {
			return dErrors.New(dErrors.CodeInvalidTransition, "package is not in exception")
		}
		if pkg.HeldStatus != nil && target.Rank() < pkg.HeldStatus.Rank() {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"cannot resolve to %s: package already reached %s", target, *pkg.HeldStatus)
		}
		pkg.Status = target
		pkg.HeldStatus = nil
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionExceptionResolved, models.StatusException, target, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// Deliver marks an arrived package delivered. Reserved for the
// verification service; transports must never expose it directly.
func (s *Service) Deliver(ctx context.Context, pkgID id.PackageID, actor, reason string) (*models.Package, error) {
	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status != models.StatusArrived {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"cannot deliver from %s", pkg.Status)
		}
		pkg.Status = models.StatusDelivered
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionPackageTransitioned, models.StatusArrived, models.StatusDelivered, actor, reason)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(models.StatusDelivered)).Inc()
	}
	return pkg, nil
}

// Group assigns a processed, unassigned package to a shipment and moves
// it to grouped. Driven by the consolidation service.
func (s *Service) Group(ctx context.Context, pkgID id.PackageID, shipmentID id.ShipmentID, actor string) (*models.Package, error) {
	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status != models.StatusProcessed {
			return dErrors.Newf(dErrors.CodePackageNotReady,
				"package %s is %s, not processed", pkg.TrackingCode, pkg.Status)
		}
		if pkg.ShipmentID != nil {
			return dErrors.Newf(dErrors.CodePackageNotReady,
				"package %s is already assigned to a shipment", pkg.TrackingCode)
		}
		pkg.ShipmentID = &shipmentID
		pkg.Status = models.StatusGrouped
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionPackageTransitioned, models.StatusProcessed, models.StatusGrouped, actor, "consolidated into "+shipmentID.String())
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(models.StatusGrouped)).Inc()
	}
	return pkg, nil
}

// Ungroup detaches a grouped package from its shipment and returns it
// to processed. Driven by the consolidation service before departure.
func (s *Service) Ungroup(ctx context.Context, pkgID id.PackageID, actor, reason string) (*models.Package, error) {
	var pkg *models.Package
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status != models.StatusGrouped || pkg.ShipmentID == nil {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"package %s is not grouped", pkg.TrackingCode)
		}
		pkg.ShipmentID = nil
		pkg.Status = models.StatusProcessed
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update package")
		}
		return s.appendAudit(ctx, pkg, audit.ActionPackageUnlinked, models.StatusGrouped, models.StatusProcessed, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *Service) loadForUpdate(ctx context.Context, pkgID id.PackageID) (*models.Package, error) {
	pkg, err := s.packages.GetForUpdate(ctx, pkgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodePackageNotFound, "package does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load package")
	}
	return pkg, nil
}

func (s *Service) appendAudit(ctx context.Context, pkg *models.Package, action string, prev, next models.Status, actor, reason string) error {
	err := s.audit.Append(ctx, audit.Entry{
		EntityType: audit.EntityPackage,
		EntityID:   pkg.ID.String(),
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
