package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custodia/internal/lifecycle/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresPackageStore persists packages in PostgreSQL. This store is
// pure I/O; transition rules and code policy belong in the services.
type PostgresPackageStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed package store.
func NewPostgres(db *sql.DB) *PostgresPackageStore {
	return &PostgresPackageStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresPackageStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const packageColumns = `
	id, tracking_code, status, held_status, customer_id, suite_code,
	description, weight_grams, declared_value_cents, shipment_id,
	code_hash, code_fingerprint, code_issued_at, code_expires_at,
	code_used_at, failed_attempts, locked_until, created_at, updated_at
`

func (s *PostgresPackageStore) Create(ctx context.Context, pkg *models.Package) error {
	query := `
		INSERT INTO packages (` + packageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(pkg.ID),
		pkg.TrackingCode,
		string(pkg.Status),
		statusPtr(pkg.HeldStatus),
		uuid.UUID(pkg.CustomerID),
		pkg.SuiteCode,
		pkg.Description,
		pkg.WeightGrams,
		pkg.DeclaredValueCents,
		shipmentIDPtr(pkg.ShipmentID),
		pkg.CodeHash,
		pkg.CodeFingerprint,
		pkg.CodeIssuedAt,
		pkg.CodeExpiresAt,
		pkg.CodeUsedAt,
		pkg.FailedAttempts,
		pkg.LockedUntil,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("package %s: %w", pkg.TrackingCode, sentinel.ErrConflict)
		}
		return fmt.Errorf("create package: %w", err)
	}
	return nil
}

func (s *PostgresPackageStore) Get(ctx context.Context, pkgID id.PackageID) (*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`
	return s.getRow(ctx, query, pkgID)
}

// GetForUpdate locks the package row for the enclosing transaction so
// two concurrent verification attempts cannot both succeed.
func (s *PostgresPackageStore) GetForUpdate(ctx context.Context, pkgID id.PackageID) (*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1 FOR UPDATE`
	return s.getRow(ctx, query, pkgID)
}

func (s *PostgresPackageStore) getRow(ctx context.Context, query string, pkgID id.PackageID) (*models.Package, error) {
	pkg, err := scanPackage(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(pkgID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", pkgID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

func (s *PostgresPackageStore) Update(ctx context.Context, pkg *models.Package) error {
	query := `
		UPDATE packages SET
			status = $2, held_status = $3, shipment_id = $4,
			code_hash = $5, code_fingerprint = $6, code_issued_at = $7,
			code_expires_at = $8, code_used_at = $9, failed_attempts = $10,
			locked_until = $11, updated_at = $12
		WHERE id = $1
	`
	res, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(pkg.ID),
		string(pkg.Status),
		statusPtr(pkg.HeldStatus),
		shipmentIDPtr(pkg.ShipmentID),
		pkg.CodeHash,
		pkg.CodeFingerprint,
		pkg.CodeIssuedAt,
		pkg.CodeExpiresAt,
		pkg.CodeUsedAt,
		pkg.FailedAttempts,
		pkg.LockedUntil,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update package: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("package %s: %w", pkg.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresPackageStore) ListByShipment(ctx context.Context, shipmentID id.ShipmentID) ([]*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE shipment_id = $1 ORDER BY created_at`
	rows, err := s.querier(ctx).QueryContext(ctx, query, uuid.UUID(shipmentID))
	if err != nil {
		return nil, fmt.Errorf("list packages by shipment: %w", err)
	}
	defer rows.Close()

	var members []*models.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		members = append(members, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list packages by shipment: %w", err)
	}
	return members, nil
}

func (s *PostgresPackageStore) ActiveFingerprintExists(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM packages
			WHERE code_fingerprint = $1
			  AND code_used_at IS NULL
			  AND code_expires_at > $2
		)
	`
	var exists bool
	if err := s.querier(ctx).QueryRowContext(ctx, query, fingerprint, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active fingerprint: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var (
		pkg        models.Package
		pkgID      uuid.UUID
		customerID uuid.UUID
		status     string
		heldStatus sql.NullString
		shipmentID uuid.NullUUID
	)
	err := row.Scan(
		&pkgID, &pkg.TrackingCode, &status, &heldStatus, &customerID, &pkg.SuiteCode,
		&pkg.Description, &pkg.WeightGrams, &pkg.DeclaredValueCents, &shipmentID,
		&pkg.CodeHash, &pkg.CodeFingerprint, &pkg.CodeIssuedAt, &pkg.CodeExpiresAt,
		&pkg.CodeUsedAt, &pkg.FailedAttempts, &pkg.LockedUntil, &pkg.CreatedAt, &pkg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pkg.ID = id.PackageID(pkgID)
	pkg.CustomerID = id.CustomerID(customerID)
	pkg.Status = models.Status(status)
	if heldStatus.Valid {
		held := models.Status(heldStatus.String)
		pkg.HeldStatus = &held
	}
	if shipmentID.Valid {
		sid := id.ShipmentID(shipmentID.UUID)
		pkg.ShipmentID = &sid
	}
	return &pkg, nil
}

func statusPtr(s *models.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func shipmentIDPtr(sid *id.ShipmentID) *uuid.UUID {
	if sid == nil {
		return nil
	}
	v := uuid.UUID(*sid)
	return &v
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
