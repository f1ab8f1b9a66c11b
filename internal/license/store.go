package license

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so expiry and cooldown arithmetic is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }

// LicenseStore is the persistence contract for license records.
// Implementations return ErrNotFound for missing rows and wrap every
// other failure in *StorageError.
type LicenseStore interface {
	Create(ctx context.Context, lic *License) error
	ByKey(ctx context.Context, key string) (*License, error)
	ByID(ctx context.Context, id uuid.UUID) (*License, error)
	ByPaymentRef(ctx context.Context, ref string) (*License, error)

	// TouchValidated stamps last_validated_at.
	TouchValidated(ctx context.Context, id uuid.UUID, at time.Time) error

	// Extend moves expires_at to the given instant and clears the
	// renewal reminder flag in the same write.
	Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error

	// Revoke marks the license revoked. Revocation is monotonic:
	// implementations must never clear the flag.
	Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error

	// ExpiringBetween returns non-revoked recurring-tier licenses whose
	// expiry falls inside [from, to] and whose reminder flag is unset.
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]*License, error)

	// SetReminderSent flips the renewal reminder flag.
	SetReminderSent(ctx context.Context, id uuid.UUID, sent bool) error

	// ResetReminders clears the reminder flag on licenses that have
	// been renewed past the given horizon, returning how many rows
	// changed.
	ResetReminders(ctx context.Context, expiringAfter time.Time) (int, error)
}

// BindingStore is the persistence contract for device bindings.
type BindingStore interface {
	// ListByLicense returns all bindings for a license, most recent
	// first.
	ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*DeviceBinding, error)

	// Active returns the currently active binding, or ErrNotFound.
	Active(ctx context.Context, licenseID uuid.UUID) (*DeviceBinding, error)

	// ReplaceActive atomically closes every active binding for the
	// license, inserts b as the single new active binding (setting
	// b.PreviousID to the closed predecessor, if any) and updates the
	// license's denormalized hardware_id — all in one transaction.
	// Partial application must be impossible, and concurrent calls for
	// the same license must serialize so the at-most-one-active
	// invariant holds even when callers race past their pre-checks.
	ReplaceActive(ctx context.Context, b *DeviceBinding) error
}

// AuditSink accepts append-only audit records. Writes are best-effort
// from the caller's perspective: validation never fails because an
// audit write did.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// AuditReader provides indexed read access to the audit log, decoupled
// from the write path.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]*AuditRecord, error)
}
