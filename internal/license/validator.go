package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// gracePeriodDays is the bounded window after expiry during which a
// license stays valid at the downgraded tier.
const gracePeriodDays = 7

// Verdict is the full outcome of a validation call. Invalid verdicts
// always report the free tier with an empty feature list; partial or
// ambiguous tier information is never returned.
type Verdict struct {
	Valid bool `json:"valid"`
	Tier  Tier `json:"tier"`

	UserID    string     `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Features      []string `json:"features"`
	Strategies    []string `json:"strategies,omitempty"`
	AllStrategies bool     `json:"all_strategies,omitempty"`
	MaxAgents     int      `json:"max_agents,omitempty"`
	MaxStrategies int      `json:"max_strategies,omitempty"`

	IsGracePeriod   bool `json:"is_grace_period"`
	IsExpired       bool `json:"is_expired"`
	DaysUntilExpiry *int `json:"days_until_expiry,omitempty"`
	AutoRenew       bool `json:"auto_renew,omitempty"`

	Token       string    `json:"token,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
	Error       string    `json:"error,omitempty"`

	CanChangeDevice   *bool  `json:"can_change_device,omitempty"`
	DeviceChangeError string `json:"device_change_error,omitempty"`

	GraceBanner *GraceBanner `json:"grace_period_banner,omitempty"`
}

// GraceBanner is the caller-facing notice shown while a license runs
// in its post-expiry grace window.
type GraceBanner struct {
	Show          bool   `json:"show"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	CTAText       string `json:"cta_text"`
	CTAAction     string `json:"cta_action"`
	OriginalTier  Tier   `json:"original_tier"`
	CurrentTier   Tier   `json:"current_tier"`
	DaysElapsed   int    `json:"days_elapsed"`
	DaysRemaining int    `json:"days_remaining"`
}

// Engine is the validation decision procedure. It orchestrates the key
// codec, the license store, the binding service, the tier catalog and
// the audit sink into a single verdict, auditing every exit path.
type Engine struct {
	codec    *Codec
	licenses LicenseStore
	bindings *Bindings
	audit    AuditSink
	tokens   *TokenMinter
	clock    Clock
	logger   *slog.Logger

	validations metric.Int64Counter
}

// NewEngine wires the validation engine.
func NewEngine(codec *Codec, licenses LicenseStore, bindings *Bindings, audit AuditSink, tokens *TokenMinter, clock Clock, logger *slog.Logger) *Engine {
	validations, err := otel.Meter("falconlic/license").Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validation attempts by outcome"),
	)
	if err != nil {
		logger.Warn("validation counter unavailable", slog.String("error", err.Error()))
	}

	return &Engine{
		codec:       codec,
		licenses:    licenses,
		bindings:    bindings,
		audit:       audit,
		tokens:      tokens,
		clock:       clock,
		logger:      logger.With(slog.String("component", "validator")),
		validations: validations,
	}
}

// Validate runs the decision procedure: decode, lookup, revocation,
// hardware binding, expiry and grace period — in that order, short
// circuiting on the first failure. Domain failures come back as an
// invalid Verdict with a nil error; only storage failures surface as a
// Go error.
func (e *Engine) Validate(ctx context.Context, key, hardwareID string, meta CallerMeta) (*Verdict, error) {
	now := e.clock.Now()
	meta.HardwareID = hardwareID

	payload, err := e.codec.Decode(key)
	if err != nil {
		e.record(ctx, key, "", meta, false, "invalid license key format", nil)
		return e.invalid(now, "invalid license key format", "decode_failed"), nil
	}

	lic, err := e.licenses.ByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		e.record(ctx, key, payload.UserID, meta, false, "license not found", nil)
		return e.invalid(now, "license not found", "not_found"), nil
	}
	if err != nil {
		e.record(ctx, key, payload.UserID, meta, false, err.Error(), nil)
		return nil, err
	}

	if lic.IsRevoked {
		reason := fmt.Sprintf("license revoked: %s", lic.RevokedReason)
		e.record(ctx, key, lic.UserID, meta, false, reason, nil)
		return e.invalid(now, reason, "revoked"), nil
	}

	if v, err := e.checkHardwareBinding(ctx, lic, hardwareID, meta, now); v != nil || err != nil {
		return v, err
	}

	effectiveTier := lic.Tier
	isExpired := false
	isGrace := false
	var daysUntilExpiry *int
	var banner *GraceBanner

	if lic.ExpiresAt != nil {
		d := floorDays(lic.ExpiresAt.Sub(now))
		daysUntilExpiry = &d

		if now.After(*lic.ExpiresAt) {
			isExpired = true
			graceEnd := lic.ExpiresAt.AddDate(0, 0, gracePeriodDays)
			if now.After(graceEnd) {
				e.record(ctx, key, lic.UserID, meta, false, "license expired", nil)
				v := e.invalid(now, "license expired", "expired")
				v.IsExpired = true
				v.ExpiresAt = lic.ExpiresAt
				return v, nil
			}

			isGrace = true
			effectiveTier = Downgrade(lic.Tier)
			elapsed := floorDays(now.Sub(*lic.ExpiresAt))
			remaining := gracePeriodDays - elapsed
			banner = &GraceBanner{
				Show:          true,
				Title:         fmt.Sprintf("License Expired — %d Days Grace Period", gracePeriodDays),
				Message:       fmt.Sprintf("Your license expired %d day(s) ago. You have %d day(s) remaining in grace period with reduced features.", elapsed, remaining),
				CTAText:       "Renew Now",
				CTAAction:     "renew_license",
				OriginalTier:  lic.Tier,
				CurrentTier:   effectiveTier,
				DaysElapsed:   elapsed,
				DaysRemaining: remaining,
			}
		}
	}

	if err := e.licenses.TouchValidated(ctx, lic.ID, now); err != nil {
		e.record(ctx, key, lic.UserID, meta, false, err.Error(), nil)
		return nil, err
	}

	token, err := e.tokens.Mint(lic.UserID, effectiveTier, key, now)
	if err != nil {
		e.record(ctx, key, lic.UserID, meta, false, err.Error(), nil)
		return nil, err
	}

	e.record(ctx, key, lic.UserID, meta, true, "", map[string]any{
		"tier":            string(effectiveTier),
		"is_grace_period": isGrace,
	})
	e.count(ctx, "valid")

	def := FeaturesOf(effectiveTier)
	return &Verdict{
		Valid:           true,
		Tier:            effectiveTier,
		UserID:          lic.UserID,
		Email:           lic.Email,
		ExpiresAt:       lic.ExpiresAt,
		Features:        def.Features,
		Strategies:      def.Strategies,
		AllStrategies:   def.AllStrategies,
		MaxAgents:       def.MaxAgents,
		MaxStrategies:   def.MaxStrategies,
		IsGracePeriod:   isGrace,
		IsExpired:       isExpired,
		DaysUntilExpiry: daysUntilExpiry,
		AutoRenew:       lic.AutoRenew,
		Token:           token,
		ValidatedAt:     now,
		GraceBanner:     banner,
	}, nil
}

// checkHardwareBinding enforces the hardware lock for non-floating
// bound licenses. A mismatch is always invalid for this call — device
// changes go through the explicit bind operation — but the verdict
// surfaces whether such a change is currently allowed.
func (e *Engine) checkHardwareBinding(ctx context.Context, lic *License, hardwareID string, meta CallerMeta, now time.Time) (*Verdict, error) {
	if hardwareID == "" || lic.HardwareID == "" || lic.IsFloating || lic.HardwareID == hardwareID {
		return nil, nil
	}

	elig, err := e.bindings.CanChangeDevice(ctx, lic.ID)
	if err != nil {
		e.record(ctx, lic.Key, lic.UserID, meta, false, err.Error(), nil)
		return nil, err
	}

	var reason string
	if elig.Allowed {
		reason = "license is bound to a different device; use the bind-device operation to switch"
	} else {
		reason = fmt.Sprintf("license is bound to a different device: %s", elig.Reason)
	}
	e.record(ctx, lic.Key, lic.UserID, meta, false, "hardware mismatch: "+reason, nil)

	v := e.invalid(now, reason, "device_mismatch")
	v.CanChangeDevice = &elig.Allowed
	v.DeviceChangeError = elig.Reason
	return v, nil
}

// VerifySessionToken checks a previously minted session token,
// rejecting expired and forged tokens uniformly.
func (e *Engine) VerifySessionToken(token string) (*SessionClaims, error) {
	return e.tokens.Verify(token)
}

func (e *Engine) invalid(now time.Time, reason, outcome string) *Verdict {
	e.count(context.Background(), outcome)
	return &Verdict{
		Valid:       false,
		Tier:        TierFree,
		Features:    []string{},
		Error:       reason,
		ValidatedAt: now,
	}
}

func (e *Engine) count(ctx context.Context, outcome string) {
	if e.validations == nil {
		return
	}
	e.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// record appends one audit entry for a validation exit. Audit failures
// are logged and swallowed: an audit write must never fail a
// validation.
func (e *Engine) record(ctx context.Context, key, userID string, meta CallerMeta, success bool, errMsg string, result map[string]any) {
	rec := &AuditRecord{
		ID:         uuid.New(),
		LicenseKey: auditKey(key),
		UserID:     userID,
		Action:     ActionValidate,
		Success:    success,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		HardwareID: meta.HardwareID,
		Result:     result,
		Error:      errMsg,
		Timestamp:  e.clock.Now(),
	}
	if err := e.audit.Append(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "audit write failed",
			slog.String("action", ActionValidate),
			slog.String("error", err.Error()))
	}
}
