// Package service implements release-code issuance and verification,
// the gate on the final custody transfer. A package is never delivered
// without a matching code and identity claim, and every attempt leaves
// an audit record whether it succeeds or not.
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
	"custodia/internal/release/codes"
	"custodia/internal/release/metrics"
	shipmentmodels "custodia/internal/shipment/models"
	shipmentstore "custodia/internal/shipment/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// Issuance policy defaults. Overridable through options.
const (
	DefaultCodeTTL          = 30 * 24 * time.Hour
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 30 * time.Minute

	// maxIssueAttempts bounds the collision retry loop. Exhaustion
	// means the 6-digit space is saturated warehouse-wide, which is an
	// operational alert, not a caller mistake.
	maxIssueAttempts = 100
)

// Service issues and verifies one-time release codes.
type Service struct {
	packages  lifecyclestore.PackageStore
	shipments shipmentstore.ShipmentStore
	lifecycle *lifecycleservice.Service
	audit     audit.Store
	runner    tx.Runner
	notifier  notify.Notifier

	pepper           []byte
	codeTTL          time.Duration
	lockoutThreshold int
	lockoutWindow    time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
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

func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) { s.codeTTL = ttl }
}

func WithLockoutPolicy(threshold int, window time.Duration) Option {
	return func(s *Service) {
		s.lockoutThreshold = threshold
		s.lockoutWindow = window
	}
}

func New(
	packages lifecyclestore.PackageStore,
	shipments shipmentstore.ShipmentStore,
	lifecycle *lifecycleservice.Service,
	auditStore audit.Store,
	runner tx.Runner,
	pepper []byte,
	opts ...Option,
) (*Service, error) {
	if packages == nil {
		return nil, errors.New("package store is required")
	}
	if shipments == nil {
		return nil, errors.New("shipment store is required")
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
	if len(pepper) == 0 {
		return nil, errors.New("fingerprint pepper is required")
	}
	svc := &Service{
		packages:         packages,
		shipments:        shipments,
		lifecycle:        lifecycle,
		audit:            auditStore,
		runner:           runner,
		notifier:         notify.Noop{},
		pepper:           pepper,
		codeTTL:          DefaultCodeTTL,
		lockoutThreshold: DefaultLockoutThreshold,
		lockoutWindow:    DefaultLockoutWindow,
		logger:           slog.Default(),
		tracer:           otel.Tracer("custodia/release"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue generates a fresh code for an arrived package, stores its hash
// and expiry, resets the failure counters, and returns the plaintext
// exactly once. Runs inside the caller's transaction when one is open,
// so arrival processing commits packages and codes together.
func (s *Service) Issue(ctx context.Context, pkgID id.PackageID, actor string) (string, time.Time, error) {
	var (
		plaintext string
		expiresAt time.Time
	)
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		pkg, err := s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		if pkg.Status != lifecyclemodels.StatusArrived {
			return dErrors.Newf(dErrors.CodeNotArrived,
				"codes are issued for arrived packages only, package is %s", pkg.Status)
		}
		plaintext, expiresAt, err = s.issueLocked(ctx, pkg, actor, audit.ActionCodeIssued)
		return err
	})
	if err != nil {
		return "", time.Time{}, err
	}

	if s.metrics != nil {
		s.metrics.CodesIssued.Inc()
	}
	return plaintext, expiresAt, nil
}

// Reissue invalidates any existing code, used or not, and issues a
// fresh one. Administrative override; the privilege check sits in the
// transport layer. The new plaintext goes to the notifier, never to the
// caller.
func (s *Service) Reissue(ctx context.Context, pkgID id.PackageID, actor string) (time.Time, error) {
	var (
		plaintext string
		expiresAt time.Time
	)
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		pkg, err := s.loadForUpdate(ctx, pkgID)
		if err != nil {
			return err
		}
		switch pkg.Status {
		case lifecyclemodels.StatusArrived:
		case lifecyclemodels.StatusDelivered:
			return dErrors.New(dErrors.CodeAlreadyDelivered, "package has already been delivered")
		default:
			return dErrors.Newf(dErrors.CodeNotArrived,
				"codes are reissued for arrived packages only, package is %s", pkg.Status)
		}
		plaintext, expiresAt, err = s.issueLocked(ctx, pkg, actor, audit.ActionCodeReissued)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}

	if s.metrics != nil {
		s.metrics.CodesReissued.Inc()
	}
	s.logger.InfoContext(ctx, "release code reissued", "package_id", pkgID, "actor", actor)

	if err := s.notifier.CodeIssued(ctx, notify.CodeIssued{
		PackageID: pkgID.String(),
		Code:      plaintext,
		ExpiresAt: expiresAt,
	}); err != nil {
		s.logger.ErrorContext(ctx, "code notification failed", "package_id", pkgID, "error", err)
	}
	return expiresAt, nil
}

// issueLocked writes a new code onto an already locked package row.
// Overwriting the hash invalidates any previous code immediately: the
// old plaintext no longer matches anything stored.
func (s *Service) issueLocked(ctx context.Context, pkg *lifecyclemodels.Package, actor, action string) (string, time.Time, error) {
	now := requestcontext.Now(ctx)

	var plaintext, fingerprint string
	for attempt := 0; ; attempt++ {
		if attempt >= maxIssueAttempts {
			return "", time.Time{}, dErrors.New(dErrors.CodeCodeSpaceExhausted,
				"could not find an unused release code")
		}
		code, err := codes.Generate()
		if err != nil {
			return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
		}
		fp := codes.Fingerprint(s.pepper, code)
		taken, err := s.packages.ActiveFingerprintExists(ctx, fp, now)
		if err != nil {
			return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check code uniqueness")
		}
		if !taken {
			plaintext, fingerprint = code, fp
			break
		}
		if s.metrics != nil {
			s.metrics.IssueCollisions.Inc()
		}
	}

	hash, err := codes.Hash(plaintext)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash code")
	}

	expiresAt := now.Add(s.codeTTL)
	pkg.CodeHash = hash
	pkg.CodeFingerprint = fingerprint
	pkg.CodeIssuedAt = &now
	pkg.CodeExpiresAt = &expiresAt
	pkg.CodeUsedAt = nil
	pkg.FailedAttempts = 0
	pkg.LockedUntil = nil
	if err := s.packages.Update(ctx, pkg); err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store code")
	}

	err = s.audit.Append(ctx, audit.Entry{
		EntityType: audit.EntityPackage,
		EntityID:   pkg.ID.String(),
		Action:     action,
		Actor:      actor,
		Decision:   audit.DecisionSuccess,
		Reason:     "expires " + expiresAt.UTC().Format(time.RFC3339),
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  now,
	})
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return plaintext, expiresAt, nil
}

// Outcome reports a verification result to the transport layer.
type Outcome struct {
	Package *lifecyclemodels.Package
	// AttemptsRemaining is how many failures remain before lockout,
	// for front-desk messaging. Meaningful on InvalidCode failures.
	AttemptsRemaining int
}

// Verify checks a presented code and identity claim against the stored
// state and, on success, marks the package delivered. Checks run in a
// fixed order so the caller always gets the most specific failure.
// Every call writes exactly one verification attempt to the audit
// trail; counter updates and lockouts commit even though the caller
// sees an error.
func (s *Service) Verify(ctx context.Context, pkgID id.PackageID, identityClaim, presentedCode, actor string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "release.Verify",
		trace.WithAttributes(attribute.String("package.id", pkgID.String())))
	defer span.End()

	var (
		outcome   *Outcome
		verifyErr error
	)
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		pkg, err := s.packages.GetForUpdate(ctx, pkgID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				verifyErr = dErrors.New(dErrors.CodePackageNotFound, "package does not exist")
				return s.recordAttempt(ctx, pkgID.String(), identityClaim, actor, verifyErr)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load package")
		}

		now := requestcontext.Now(ctx)
		verifyErr = s.checkAndConsume(ctx, pkg, identityClaim, presentedCode, actor, now)
		if verifyErr != nil && dErrors.HasCode(verifyErr, dErrors.CodeInternal) {
			// Infrastructure failure: roll everything back.
			return verifyErr
		}
		outcome = &Outcome{
			Package:           pkg,
			AttemptsRemaining: pkg.AttemptsRemaining(s.lockoutThreshold),
		}
		return s.recordAttempt(ctx, pkg.ID.String(), identityClaim, actor, verifyErr)
	})
	if err != nil {
		span.SetAttributes(attribute.String("verify.outcome", "internal_error"))
		return nil, err
	}

	outcomeLabel := "success"
	if verifyErr != nil {
		outcomeLabel = string(dErrors.CodeOf(verifyErr))
	}
	span.SetAttributes(attribute.String("verify.outcome", outcomeLabel))
	if s.metrics != nil {
		s.metrics.Verifications.WithLabelValues(outcomeLabel).Inc()
	}

	if verifyErr != nil {
		return outcome, verifyErr
	}

	s.logger.InfoContext(ctx, "package delivered",
		"package_id", pkgID,
		"actor", actor,
	)
	if err := s.notifier.PackageDelivered(ctx, notify.PackageDelivered{
		PackageID:   pkgID.String(),
		DeliveredAt: *outcome.Package.CodeUsedAt,
	}); err != nil {
		s.logger.ErrorContext(ctx, "delivery notification failed", "package_id", pkgID, "error", err)
	}
	return outcome, nil
}

// checkAndConsume runs the ordered verification checks against a locked
// package row. A returned domain error still commits: the failed
// attempt counter and any lockout must survive the rejection.
func (s *Service) checkAndConsume(ctx context.Context, pkg *lifecyclemodels.Package, identityClaim, presentedCode, actor string, now time.Time) error {
	if pkg.Status == lifecyclemodels.StatusDelivered {
		return dErrors.New(dErrors.CodeAlreadyDelivered, "package has already been delivered")
	}
	if pkg.Status != lifecyclemodels.StatusArrived {
		return dErrors.Newf(dErrors.CodeNotArrived, "package is %s, codes are verified on arrival", pkg.Status)
	}
	if pkg.IsLockedAt(now) {
		return dErrors.Newf(dErrors.CodeLocked,
			"verification locked until %s", pkg.LockedUntil.UTC().Format(time.RFC3339))
	}
	if !pkg.OwnedBy(identityClaim) {
		return dErrors.New(dErrors.CodeIdentityMismatch, "identity claim does not match the package owner")
	}
	if pkg.CodeHash == "" || pkg.CodeExpiresAt == nil || !now.Before(*pkg.CodeExpiresAt) {
		return dErrors.New(dErrors.CodeExpired, "no active release code for this package")
	}
	if pkg.CodeUsedAt != nil {
		return dErrors.New(dErrors.CodeAlreadyUsed, "release code has already been used")
	}

	if !codes.Verify(pkg.CodeHash, presentedCode) {
		pkg.FailedAttempts++
		if pkg.FailedAttempts >= s.lockoutThreshold {
			lockedUntil := now.Add(s.lockoutWindow)
			pkg.LockedUntil = &lockedUntil
			if s.metrics != nil {
				s.metrics.Lockouts.Inc()
			}
			s.logger.WarnContext(ctx, "verification lockout triggered",
				"package_id", pkg.ID,
				"failed_attempts", pkg.FailedAttempts,
			)
		}
		if err := s.packages.Update(ctx, pkg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record failed attempt")
		}
		return dErrors.New(dErrors.CodeInvalidCode, "release code does not match")
	}

	pkg.CodeUsedAt = &now
	if err := s.packages.Update(ctx, pkg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume code")
	}

	delivered, err := s.lifecycle.Deliver(ctx, pkg.ID, actor, "code verified")
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delivery transition failed")
	}
	*pkg = *delivered

	if pkg.ShipmentID != nil {
		if err := s.archiveIfDelivered(ctx, *pkg.ShipmentID, actor, now); err != nil {
			return err
		}
	}
	return nil
}

// archiveIfDelivered closes out the shipment once its last member is
// delivered, inside the same transaction as the delivery.
func (s *Service) archiveIfDelivered(ctx context.Context, shipmentID id.ShipmentID, actor string, now time.Time) error {
	shp, err := s.shipments.GetForUpdate(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shipment")
	}
	if shp.Archived() {
		return nil
	}
	members, err := s.packages.ListByShipment(ctx, shipmentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shipment members")
	}
	if len(members) == 0 || shipmentmodels.DeriveStatus(shipmentmodels.Statuses(members)) != lifecyclemodels.StatusDelivered {
		return nil
	}

	shp.ArchivedAt = &now
	if err := s.shipments.Update(ctx, shp); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive shipment")
	}
	err = s.audit.Append(ctx, audit.Entry{
		EntityType: audit.EntityShipment,
		EntityID:   shipmentID.String(),
		Action:     audit.ActionShipmentArchived,
		PrevState:  string(lifecyclemodels.StatusDelivered),
		NewState:   string(lifecyclemodels.StatusDelivered),
		Actor:      actor,
		Decision:   audit.DecisionSuccess,
		Reason:     "all packages delivered",
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  now,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// recordAttempt writes the single verification attempt record every
// branch produces. Verification is never silent.
func (s *Service) recordAttempt(ctx context.Context, entityID, identityClaim, actor string, verifyErr error) error {
	entry := audit.Entry{
		EntityType: audit.EntityPackage,
		EntityID:   entityID,
		Action:     audit.ActionVerificationAttempt,
		Actor:      actor,
		Subject:    identityClaim,
		Decision:   audit.DecisionSuccess,
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  requestcontext.Now(ctx),
	}
	if verifyErr != nil {
		entry.Decision = audit.DecisionFailure
		entry.Reason = string(dErrors.CodeOf(verifyErr))
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append verification attempt")
	}
	return nil
}

func (s *Service) loadForUpdate(ctx context.Context, pkgID id.PackageID) (*lifecyclemodels.Package, error) {
	pkg, err := s.packages.GetForUpdate(ctx, pkgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodePackageNotFound, "package does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load package")
	}
	return pkg, nil
}
