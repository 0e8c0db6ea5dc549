package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the full DDL for the custody stores. EnsureSchema applies
// it idempotently at startup and in integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS packages (
	id                   UUID PRIMARY KEY,
	tracking_code        TEXT NOT NULL UNIQUE,
	status               TEXT NOT NULL,
	held_status          TEXT,
	customer_id          UUID NOT NULL,
	suite_code           TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	weight_grams         BIGINT NOT NULL,
	declared_value_cents BIGINT NOT NULL,
	shipment_id          UUID,
	code_hash            TEXT NOT NULL DEFAULT '',
	code_fingerprint     TEXT NOT NULL DEFAULT '',
	code_issued_at       TIMESTAMPTZ,
	code_expires_at      TIMESTAMPTZ,
	code_used_at         TIMESTAMPTZ,
	failed_attempts      INT NOT NULL DEFAULT 0,
	locked_until         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packages_shipment ON packages (shipment_id)
	WHERE shipment_id IS NOT NULL;

-- Uniqueness among *active* codes; used/expired codes do not block reuse.
CREATE INDEX IF NOT EXISTS idx_packages_code_fingerprint ON packages (code_fingerprint)
	WHERE code_fingerprint <> '' AND code_used_at IS NULL;

CREATE TABLE IF NOT EXISTS shipments (
	id                 UUID PRIMARY KEY,
	tracking_code      TEXT NOT NULL UNIQUE,
	destination        TEXT NOT NULL,
	service_level      TEXT NOT NULL,
	total_weight_grams BIGINT NOT NULL DEFAULT 0,
	total_value_cents  BIGINT NOT NULL DEFAULT 0,
	package_count      INT NOT NULL DEFAULT 0,
	archived_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipments_active ON shipments (created_at)
	WHERE archived_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_entries (
	id          UUID PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	prev_state  TEXT NOT NULL DEFAULT '',
	new_state   TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries (created_at);
`

// EnsureSchema applies the DDL. Safe to run repeatedly.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
