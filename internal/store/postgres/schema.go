package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	id                UUID PRIMARY KEY,
	license_key       TEXT NOT NULL UNIQUE,
	user_id           TEXT NOT NULL,
	email             TEXT NOT NULL DEFAULT '',
	tier              TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ,
	last_validated_at TIMESTAMPTZ,
	hardware_id       TEXT NOT NULL DEFAULT '',
	is_floating       BOOLEAN NOT NULL DEFAULT FALSE,
	is_revoked        BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at        TIMESTAMPTZ,
	revoked_reason    TEXT NOT NULL DEFAULT '',
	payment_ref       TEXT NOT NULL DEFAULT '',
	payment_provider  TEXT NOT NULL DEFAULT '',
	auto_renew        BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_sent     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_licenses_user_id ON licenses (user_id);
CREATE INDEX IF NOT EXISTS idx_licenses_payment_ref ON licenses (payment_ref) WHERE payment_ref <> '';
CREATE INDEX IF NOT EXISTS idx_licenses_expires_at ON licenses (expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS device_bindings (
	id            UUID PRIMARY KEY,
	license_id    UUID NOT NULL REFERENCES licenses (id),
	fingerprint   TEXT NOT NULL,
	bound_at      TIMESTAMPTZ NOT NULL,
	unbound_at    TIMESTAMPTZ,
	is_active     BOOLEAN NOT NULL,
	canvas_hash   TEXT NOT NULL DEFAULT '',
	webgl_hash    TEXT NOT NULL DEFAULT '',
	fonts_hash    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	change_reason TEXT NOT NULL DEFAULT '',
	previous_id   UUID
);

-- At most one active binding per license, enforced below any
-- application-level pre-check.
CREATE UNIQUE INDEX IF NOT EXISTS idx_device_bindings_one_active
	ON device_bindings (license_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_device_bindings_license
	ON device_bindings (license_id, bound_at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
	id            UUID PRIMARY KEY,
	license_key   TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	hardware_id   TEXT NOT NULL DEFAULT '',
	result        JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_license_key ON audit_log (license_key);
`

// InitSchema applies the embedded DDL. Idempotent.
func InitSchema(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
