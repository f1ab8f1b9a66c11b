// Package license implements the core of the license authority: opaque
// key encoding, tier catalog, validation, device binding, issuance and
// session tokens.
//
// The package is storage-agnostic. Persistence is consumed through the
// LicenseStore, BindingStore and AuditSink interfaces; the canonical
// implementation lives in internal/store/postgres. Time is consumed
// through the Clock interface so expiry and cooldown arithmetic is
// testable.
//
// Domain failures (malformed key, not found, revoked, expired, device
// mismatch, change limit) never escape Validate as Go errors: they are
// folded into an invalid Verdict with a human-readable reason. Only
// *StorageError propagates to the caller, so the transport layer can
// distinguish retryable infrastructure failures from definitive
// rejections.
package license
