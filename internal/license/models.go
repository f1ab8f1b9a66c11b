package license

import (
	"time"

	"github.com/google/uuid"
)

// License is the persisted record behind an issued key. Records are
// never deleted; revocation and expiry are soft state.
type License struct {
	ID              uuid.UUID  `json:"id"`
	Key             string     `json:"license_key"`
	UserID          string     `json:"user_id"`
	Email           string     `json:"email,omitempty"`
	Tier            Tier       `json:"tier"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`

	// HardwareID is the denormalized fingerprint of the currently
	// active device binding, empty while unbound.
	HardwareID string `json:"hardware_id,omitempty"`
	IsFloating bool   `json:"is_floating"`

	IsRevoked     bool       `json:"is_revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`

	PaymentRef      string `json:"payment_ref,omitempty"`
	PaymentProvider string `json:"payment_provider,omitempty"`
	AutoRenew       bool   `json:"auto_renew"`
	ReminderSent    bool   `json:"-"`
}

// Expired reports whether the license term has passed at the given
// instant. Perpetual licenses never expire.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// DeviceBinding is one (license, device fingerprint) association over
// time. At most one binding per license is active; superseded bindings
// are closed, never deleted, and link back to their predecessor.
type DeviceBinding struct {
	ID          uuid.UUID  `json:"id"`
	LicenseID   uuid.UUID  `json:"license_id"`
	Fingerprint string     `json:"fingerprint"`
	BoundAt     time.Time  `json:"bound_at"`
	UnboundAt   *time.Time `json:"unbound_at,omitempty"`
	IsActive    bool       `json:"is_active"`

	CanvasHash string `json:"-"`
	WebGLHash  string `json:"-"`
	FontsHash  string `json:"-"`
	UserAgent  string `json:"user_agent,omitempty"`

	ChangeReason string     `json:"change_reason,omitempty"`
	PreviousID   *uuid.UUID `json:"previous_id,omitempty"`
}

// AuditRecord is an immutable append-only entry written once per
// validation, issuance, renewal, revocation or bind attempt.
type AuditRecord struct {
	ID         uuid.UUID      `json:"id"`
	LicenseKey string         `json:"license_key,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	Success    bool           `json:"success"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	HardwareID string         `json:"hardware_id,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error_message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Audit actions.
const (
	ActionValidate = "validate"
	ActionIssue    = "issue"
	ActionRenew    = "renew"
	ActionRevoke   = "revoke"
	ActionBind     = "bind"
)

// CallerMeta carries request metadata through to the audit log. The
// core never parses any of it.
type CallerMeta struct {
	IPAddress  string
	UserAgent  string
	HardwareID string
}

// auditKeyMaxLen bounds the key prefix stored in audit rows.
const auditKeyMaxLen = 50

func auditKey(key string) string {
	if len(key) > auditKeyMaxLen {
		return key[:auditKeyMaxLen]
	}
	return key
}
