package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"falconlic/internal/license"
)

// BindingStore implements license.BindingStore.
type BindingStore struct {
	db *DB
}

// NewBindingStore returns a Postgres-backed binding store.
func NewBindingStore(db *DB) *BindingStore {
	return &BindingStore{db: db}
}

const bindingColumns = `id, license_id, fingerprint, bound_at, unbound_at, is_active,
	canvas_hash, webgl_hash, fonts_hash, user_agent, change_reason, previous_id`

func (s *BindingStore) ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*license.DeviceBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE license_id = $1
		ORDER BY bound_at DESC
	`, licenseID)
	if err != nil {
		return nil, license.NewStorageError("list bindings", err)
	}
	defer rows.Close()

	var out []*license.DeviceBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, license.NewStorageError("scan binding", err)
		}
		out = append(out, b)
	}
	return out, license.NewStorageError("list bindings", rows.Err())
}

func (s *BindingStore) Active(ctx context.Context, licenseID uuid.UUID) (*license.DeviceBinding, error) {
	b, err := scanBinding(s.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM device_bindings
		WHERE license_id = $1 AND is_active
	`, licenseID))
	if err == sql.ErrNoRows {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, license.NewStorageError("load active binding", err)
	}
	return b, nil
}

// ReplaceActive performs the close-old/insert-new swap in one
// transaction. The row lock on the license serializes concurrent swaps
// for the same license; the partial unique index on (license_id) WHERE
// is_active rejects anything that slips past it.
func (s *BindingStore) ReplaceActive(ctx context.Context, b *license.DeviceBinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return license.NewStorageError("begin bind transaction", err)
	}
	defer tx.Rollback()

	var licenseID uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM licenses WHERE id = $1 FOR UPDATE`, b.LicenseID).Scan(&licenseID)
	if err == sql.ErrNoRows {
		return license.ErrNotFound
	}
	if err != nil {
		return license.NewStorageError("lock license", err)
	}

	var prevID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE device_bindings
		SET is_active = FALSE, unbound_at = $2
		WHERE license_id = $1 AND is_active
		RETURNING id
	`, b.LicenseID, b.BoundAt).Scan(&prevID)
	if err != nil && err != sql.ErrNoRows {
		return license.NewStorageError("close active binding", err)
	}
	if err == nil {
		b.PreviousID = &prevID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_bindings (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.LicenseID, b.Fingerprint, b.BoundAt, b.UnboundAt, b.IsActive,
		b.CanvasHash, b.WebGLHash, b.FontsHash, b.UserAgent, b.ChangeReason, nullUUID(b.PreviousID))
	if err != nil {
		return license.NewStorageError("insert binding", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE licenses SET hardware_id = $2 WHERE id = $1`, b.LicenseID, b.Fingerprint)
	if err != nil {
		return license.NewStorageError("update license hardware id", err)
	}

	if err := tx.Commit(); err != nil {
		return license.NewStorageError("commit bind transaction", err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func scanBinding(row rowScanner) (*license.DeviceBinding, error) {
	var (
		b       license.DeviceBinding
		unbound sql.NullTime
		prev    uuid.NullUUID
	)
	err := row.Scan(
		&b.ID, &b.LicenseID, &b.Fingerprint, &b.BoundAt, &unbound, &b.IsActive,
		&b.CanvasHash, &b.WebGLHash, &b.FontsHash, &b.UserAgent, &b.ChangeReason, &prev,
	)
	if err != nil {
		return nil, err
	}
	if unbound.Valid {
		t := unbound.Time
		b.UnboundAt = &t
	}
	if prev.Valid {
		id := prev.UUID
		b.PreviousID = &id
	}
	return &b, nil
}
