package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// recurringTermDays is the billing term for tiers with a recurring
// model (the free trial and the monthly tiers). Perpetual tiers are
// issued without an expiry.
const recurringTermDays = 30

// IssueParams are the inputs to license creation.
type IssueParams struct {
	UserID string
	Email  string
	Tier   Tier

	// ExpiresDays overrides the tier's default term when set.
	ExpiresDays *int

	HardwareID      string
	Floating        bool
	PaymentRef      string
	PaymentProvider string
	AutoRenew       bool
}

// Issuer creates, renews and revokes license records. Issuance and
// renewal are distinct operations: re-issuing for a known payment
// reference must go through Renew so no duplicate record is created.
type Issuer struct {
	codec  *Codec
	store  LicenseStore
	audit  AuditSink
	clock  Clock
	logger *slog.Logger
}

// NewIssuer wires the issuer.
func NewIssuer(codec *Codec, store LicenseStore, audit AuditSink, clock Clock, logger *slog.Logger) *Issuer {
	return &Issuer{
		codec:  codec,
		store:  store,
		audit:  audit,
		clock:  clock,
		logger: logger.With(slog.String("component", "issuer")),
	}
}

// Issue encodes a fresh key, computes the expiry from the explicit day
// count or the tier's default term, persists the record and returns it.
func (i *Issuer) Issue(ctx context.Context, p IssueParams) (*License, error) {
	now := i.clock.Now()

	key, err := i.codec.Encode(p.UserID, p.Tier, now)
	if err != nil {
		return nil, fmt.Errorf("encode license key: %w", err)
	}

	var expiresAt *time.Time
	switch {
	case p.ExpiresDays != nil:
		t := now.AddDate(0, 0, *p.ExpiresDays)
		expiresAt = &t
	case !p.Tier.Perpetual():
		t := now.AddDate(0, 0, recurringTermDays)
		expiresAt = &t
	}

	lic := &License{
		ID:              uuid.New(),
		Key:             key,
		UserID:          p.UserID,
		Email:           p.Email,
		Tier:            p.Tier,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		HardwareID:      p.HardwareID,
		IsFloating:      p.Floating,
		PaymentRef:      p.PaymentRef,
		PaymentProvider: p.PaymentProvider,
		AutoRenew:       p.AutoRenew,
	}

	if err := i.store.Create(ctx, lic); err != nil {
		i.record(ctx, lic, false, err.Error(), ActionIssue, nil)
		return nil, err
	}

	i.record(ctx, lic, true, "", ActionIssue, map[string]any{"tier": string(p.Tier)})
	i.logger.InfoContext(ctx, "license issued",
		slog.String("user_id", p.UserID),
		slog.String("tier", string(p.Tier)),
		slog.Bool("perpetual", expiresAt == nil))
	return lic, nil
}

// Renew extends the license identified by its payment reference by one
// billing term from its current expiry and clears the renewal reminder
// flag. Perpetual licenses renew as a no-op.
func (i *Issuer) Renew(ctx context.Context, paymentRef string) (*License, error) {
	lic, err := i.store.ByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}

	if lic.ExpiresAt != nil {
		newExpiry := lic.ExpiresAt.AddDate(0, 0, recurringTermDays)
		if err := i.store.Extend(ctx, lic.ID, newExpiry); err != nil {
			i.record(ctx, lic, false, err.Error(), ActionRenew, nil)
			return nil, err
		}
		lic.ExpiresAt = &newExpiry
		lic.ReminderSent = false
	}

	i.record(ctx, lic, true, "", ActionRenew, map[string]any{"payment_ref": paymentRef})
	i.logger.InfoContext(ctx, "license renewed",
		slog.String("user_id", lic.UserID),
		slog.String("payment_ref", paymentRef))
	return lic, nil
}

// Revoke marks the license revoked with a reason. Revocation is
// monotonic: revoking an already-revoked license is a no-op success and
// the original reason is kept.
func (i *Issuer) Revoke(ctx context.Context, key, reason string) (*License, error) {
	lic, err := i.store.ByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if lic.IsRevoked {
		return lic, nil
	}

	now := i.clock.Now()
	if err := i.store.Revoke(ctx, lic.ID, reason, now); err != nil {
		i.record(ctx, lic, false, err.Error(), ActionRevoke, nil)
		return nil, err
	}
	lic.IsRevoked = true
	lic.RevokedAt = &now
	lic.RevokedReason = reason

	i.record(ctx, lic, true, "", ActionRevoke, map[string]any{"reason": reason})
	i.logger.InfoContext(ctx, "license revoked",
		slog.String("user_id", lic.UserID),
		slog.String("reason", reason))
	return lic, nil
}

func (i *Issuer) record(ctx context.Context, lic *License, success bool, errMsg, action string, result map[string]any) {
	rec := &AuditRecord{
		ID:         uuid.New(),
		LicenseKey: auditKey(lic.Key),
		UserID:     lic.UserID,
		Action:     action,
		Success:    success,
		Result:     result,
		Error:      errMsg,
		Timestamp:  i.clock.Now(),
	}
	if err := i.audit.Append(ctx, rec); err != nil {
		i.logger.WarnContext(ctx, "audit write failed",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}
