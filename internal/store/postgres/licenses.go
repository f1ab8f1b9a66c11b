package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"falconlic/internal/license"
)

// LicenseStore implements license.LicenseStore.
type LicenseStore struct {
	db *DB
}

// NewLicenseStore returns a Postgres-backed license store.
func NewLicenseStore(db *DB) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, license_key, user_id, email, tier, created_at, expires_at,
	last_validated_at, hardware_id, is_floating, is_revoked, revoked_at,
	revoked_reason, payment_ref, payment_provider, auto_renew, reminder_sent`

func (s *LicenseStore) Create(ctx context.Context, lic *license.License) error {
	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db.ExecContext(ctx, query,
		lic.ID, lic.Key, lic.UserID, lic.Email, string(lic.Tier), lic.CreatedAt,
		lic.ExpiresAt, lic.LastValidatedAt, lic.HardwareID, lic.IsFloating,
		lic.IsRevoked, lic.RevokedAt, lic.RevokedReason, lic.PaymentRef,
		lic.PaymentProvider, lic.AutoRenew, lic.ReminderSent,
	)
	return license.NewStorageError("create license", err)
}

func (s *LicenseStore) ByKey(ctx context.Context, key string) (*license.License, error) {
	return s.one(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, key)
}

func (s *LicenseStore) ByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	return s.one(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
}

func (s *LicenseStore) ByPaymentRef(ctx context.Context, ref string) (*license.License, error) {
	return s.one(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE payment_ref = $1`, ref)
}

func (s *LicenseStore) TouchValidated(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET last_validated_at = $2 WHERE id = $1`, id, at)
	return license.NewStorageError("touch validated", err)
}

func (s *LicenseStore) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = $2, reminder_sent = FALSE WHERE id = $1`, id, expiresAt)
	return license.NewStorageError("extend license", err)
}

func (s *LicenseStore) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	// Guard against un-revoking: only rows not already revoked change.
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND NOT is_revoked
	`, id, at, reason)
	return license.NewStorageError("revoke license", err)
}

func (s *LicenseStore) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*license.License, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE expires_at BETWEEN $1 AND $2
		  AND NOT is_revoked
		  AND NOT reminder_sent
		  AND tier IN ($3, $4)
		ORDER BY expires_at
	`, from, to, string(license.TierPro), string(license.TierElite))
	if err != nil {
		return nil, license.NewStorageError("list expiring licenses", err)
	}
	defer rows.Close()

	var out []*license.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, license.NewStorageError("scan expiring license", err)
		}
		out = append(out, lic)
	}
	return out, license.NewStorageError("list expiring licenses", rows.Err())
}

func (s *LicenseStore) SetReminderSent(ctx context.Context, id uuid.UUID, sent bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET reminder_sent = $2 WHERE id = $1`, id, sent)
	return license.NewStorageError("set reminder flag", err)
}

func (s *LicenseStore) ResetReminders(ctx context.Context, expiringAfter time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET reminder_sent = FALSE
		WHERE reminder_sent AND expires_at > $1
	`, expiringAfter)
	if err != nil {
		return 0, license.NewStorageError("reset reminders", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, license.NewStorageError("reset reminders", err)
	}
	return int(n), nil
}

func (s *LicenseStore) one(ctx context.Context, query string, arg any) (*license.License, error) {
	lic, err := scanLicense(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, license.NewStorageError("load license", err)
	}
	return lic, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*license.License, error) {
	var (
		lic     license.License
		tier    string
		email   sql.NullString
		reason  sql.NullString
		payRef  sql.NullString
		payProv sql.NullString
		hwID    sql.NullString
	)
	err := row.Scan(
		&lic.ID, &lic.Key, &lic.UserID, &email, &tier, &lic.CreatedAt,
		&lic.ExpiresAt, &lic.LastValidatedAt, &hwID, &lic.IsFloating,
		&lic.IsRevoked, &lic.RevokedAt, &reason, &payRef, &payProv,
		&lic.AutoRenew, &lic.ReminderSent,
	)
	if err != nil {
		return nil, err
	}
	lic.Tier = license.ParseTier(tier)
	lic.Email = email.String
	lic.RevokedReason = reason.String
	lic.PaymentRef = payRef.String
	lic.PaymentProvider = payProv.String
	lic.HardwareID = hwID.String
	return &lic, nil
}
