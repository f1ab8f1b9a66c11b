package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// deviceChangeCooldownDays is the rolling window for the
// one-change-per-month device policy. The cooldown starts at a
// binding's closure, never at the initial bind, so the first change
// after an initial binding is always free.
const deviceChangeCooldownDays = 30

// ChangeEligibility is the outcome of the device change rate limit
// check, surfaced both on explicit bind attempts and on validation
// hardware mismatches.
type ChangeEligibility struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	DaysRemaining int    `json:"days_remaining,omitempty"`
}

// BindingHistory is the read-only view over a license's bindings.
type BindingHistory struct {
	Bindings        []*DeviceBinding  `json:"bindings"`
	CanChangeDevice ChangeEligibility `json:"can_change_device"`
}

/// Bindings enforces the device binding state machine: unbound →
// active → closed, at most one active binding per license, one device
// change per rolling month.
type Bindings struct {
	store  BindingStore
	audit  AuditSink
	clock  Clock
	logger *slog.Logger
}

// NewBindings wires the binding service.
func NewBindings(store BindingStore, audit AuditSink, clock Clock, logger *slog.Logger) *Bindings {
	return &Bindings{
		store:  store,
		audit:  audit,
		clock:  clock,
		logger: logger.With(slog.String("component", "bindings")),
	}
}

// CanChangeDevice reports whether the license may bind to a new device
// right now. Allowed when no binding exists yet, or when no binding has
// ever been closed, or when the most recent closure is at least 30 days
// old; otherwise denied with the days remaining.
func (b *Bindings) CanChangeDevice(ctx context.Context, licenseID uuid.UUID) (ChangeEligibility, error) {
	history, err := b.store.ListByLicense(ctx, licenseID)
	if err != nil {
		return ChangeEligibility{}, err
	}
	if len(history) == 0 {
		return ChangeEligibility{Allowed: true}, nil
	}

	var lastClosure *time.Time
	hasActive := false
	for _, binding := range history {
		if binding.IsActive {
			hasActive = true
		}
		if binding.UnboundAt != nil && lastClosure == nil {
			lastClosure = binding.UnboundAt
		}
	}

	if hasActive && lastClosure != nil {
		elapsed := floorDays(b.clock.Now().Sub(*lastClosure))
		if elapsed < deviceChangeCooldownDays {
			remaining := deviceChangeCooldownDays - elapsed
			return ChangeEligibility{
				Allowed:       false,
				Reason:        fmt.Sprintf("device change limit reached, next change allowed in %d days", remaining),
				DaysRemaining: remaining,
			}, nil
		}
	}
	return ChangeEligibility{Allowed: true}, nil
}

// Bind binds the license to a device fingerprint. Rebinding the
// currently active fingerprint is an idempotent no-op. Otherwise the
// cooldown is checked (unless force), every active binding is closed
// and exactly one new active binding is created, atomically with the
// license's hardware_id update. A cooldown rejection returns
// *ChangeLimitError without mutating state.
func (b *Bindings) Bind(ctx context.Context, lic *License, fingerprint string, comps FingerprintComponents, meta CallerMeta, force bool) (*DeviceBinding, error) {
	now := b.clock.Now()

	active, err := b.store.Active(ctx, lic.ID)
	switch {
	case err == nil:
		if active.Fingerprint == fingerprint {
			b.record(ctx, lic, meta, true, "", map[string]any{"idempotent": true})
			return active, nil
		}
	case errors.Is(err, ErrNotFound):
		active = nil
	default:
		return nil, err
	}

	if !force {
		elig, err := b.CanChangeDevice(ctx, lic.ID)
		if err != nil {
			return nil, err
		}
		if !elig.Allowed {
			limitErr := &ChangeLimitError{DaysRemaining: elig.DaysRemaining}
			b.record(ctx, lic, meta, false, limitErr.Error(), nil)
			return nil, limitErr
		}
	}

	reason := "initial binding"
	if active != nil {
		reason = "device change"
	}
	binding := &DeviceBinding{
		ID:           uuid.New(),
		LicenseID:    lic.ID,
		Fingerprint:  fingerprint,
		BoundAt:      now,
		IsActive:     true,
		CanvasHash:   comps.CanvasHash,
		WebGLHash:    comps.WebGLHash,
		FontsHash:    comps.FontsHash,
		UserAgent:    comps.UserAgent,
		ChangeReason: reason,
	}

	if err := b.store.ReplaceActive(ctx, binding); err != nil {
		b.record(ctx, lic, meta, false, err.Error(), nil)
		return nil, err
	}
	lic.HardwareID = fingerprint

	b.record(ctx, lic, meta, true, "", map[string]any{
		"fingerprint":   fingerprint,
		"change_reason": reason,
	})
	return binding, nil
}

// BindingsOf returns the binding history, most recent first, together
// with the current change eligibility.
func (b *Bindings) BindingsOf(ctx context.Context, licenseID uuid.UUID) (*BindingHistory, error) {
	history, err := b.store.ListByLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	elig, err := b.CanChangeDevice(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	return &BindingHistory{Bindings: history, CanChangeDevice: elig}, nil
}

func (b *Bindings) record(ctx context.Context, lic *License, meta CallerMeta, success bool, errMsg string, result map[string]any) {
	rec := &AuditRecord{
		ID:         uuid.New(),
		LicenseKey: auditKey(lic.Key),
		UserID:     lic.UserID,
		Action:     ActionBind,
		Success:    success,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		HardwareID: meta.HardwareID,
		Result:     result,
		Error:      errMsg,
		Timestamp:  b.clock.Now(),
	}
	if err := b.audit.Append(ctx, rec); err != nil {
		b.logger.WarnContext(ctx, "audit write failed",
			slog.String("action", ActionBind),
			slog.String("error", err.Error()))
	}
}

// floorDays converts a duration to whole days, flooring toward
// negative infinity so partially elapsed days never count.
func floorDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
