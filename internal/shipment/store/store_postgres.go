package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custodia/internal/shipment/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresShipmentStore persists shipments in PostgreSQL. Pure I/O;
// consolidation rules belong in the service.
type PostgresShipmentStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed shipment store.
func NewPostgres(db *sql.DB) *PostgresShipmentStore {
	return &PostgresShipmentStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresShipmentStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const shipmentColumns = `
	id, tracking_code, destination, service_level, package_count,
	total_weight_grams, total_value_cents, archived_at, created_at, updated_at
`

func (s *PostgresShipmentStore) Create(ctx context.Context, shp *models.Shipment) error {
	query := `
		INSERT INTO shipments (` + shipmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(shp.ID),
		shp.TrackingCode,
		shp.Destination,
		shp.ServiceLevel,
		shp.PackageCount,
		shp.TotalWeightGrams,
		shp.TotalValueCents,
		shp.ArchivedAt,
		shp.CreatedAt,
		shp.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shipment %s: %w", shp.TrackingCode, sentinel.ErrConflict)
		}
		return fmt.Errorf("create shipment: %w", err)
	}
	return nil
}

func (s *PostgresShipmentStore) Get(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	return s.getRow(ctx, query, shipmentID)
}

// GetForUpdate locks the shipment row for the enclosing transaction so
// membership changes and departures serialize.
func (s *PostgresShipmentStore) GetForUpdate(ctx context.Context, shipmentID id.ShipmentID) (*models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1 FOR UPDATE`
	return s.getRow(ctx, query, shipmentID)
}

func (s *PostgresShipmentStore) getRow(ctx context.Context, query string, shipmentID id.ShipmentID) (*models.Shipment, error) {
	shp, err := scanShipment(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(shipmentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("shipment %s: %w", shipmentID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	return shp, nil
}

func (s *PostgresShipmentStore) Update(ctx context.Context, shp *models.Shipment) error {
	query := `
		UPDATE shipments SET
			destination = $2, service_level = $3, package_count = $4,
			total_weight_grams = $5, total_value_cents = $6,
			archived_at = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(shp.ID),
		shp.Destination,
		shp.ServiceLevel,
		shp.PackageCount,
		shp.TotalWeightGrams,
		shp.TotalValueCents,
		shp.ArchivedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shipment: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("shipment %s: %w", shp.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresShipmentStore) List(ctx context.Context, includeArchived bool) ([]*models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := s.querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	var out []*models.Shipment
	for rows.Next() {
		shp, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		out = append(out, shp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var (
		shp        models.Shipment
		shipmentID uuid.UUID
	)
	err := row.Scan(
		&shipmentID, &shp.TrackingCode, &shp.Destination, &shp.ServiceLevel,
		&shp.PackageCount, &shp.TotalWeightGrams, &shp.TotalValueCents,
		&shp.ArchivedAt, &shp.CreatedAt, &shp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	shp.ID = id.ShipmentID(shipmentID)
	return &shp, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
