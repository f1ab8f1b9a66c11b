package http

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"falconlic/internal/license"
)

// fakeClock is a settable clock for deterministic expiry arithmetic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memLicenseStore is an in-memory license.LicenseStore.
type memLicenseStore struct {
	mu       sync.Mutex
	licenses map[uuid.UUID]*license.License
}

func newMemLicenseStore() *memLicenseStore {
	return &memLicenseStore{licenses: make(map[uuid.UUID]*license.License)}
}

func (s *memLicenseStore) Create(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lic
	s.licenses[lic.ID] = &cp
	return nil
}

func (s *memLicenseStore) ByKey(ctx context.Context, key string) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.Key == key {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, license.ErrNotFound
}

func (s *memLicenseStore) ByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		cp := *lic
		return &cp, nil
	}
	return nil, license.ErrNotFound
}

func (s *memLicenseStore) ByPaymentRef(ctx context.Context, ref string) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.PaymentRef == ref && ref != "" {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, license.ErrNotFound
}

func (s *memLicenseStore) TouchValidated(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		t := at
		lic.LastValidatedAt = &t
		return nil
	}
	return license.ErrNotFound
}

func (s *memLicenseStore) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		t := expiresAt
		lic.ExpiresAt = &t
		lic.ReminderSent = false
		return nil
	}
	return license.ErrNotFound
}

func (s *memLicenseStore) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		if !lic.IsRevoked {
			t := at
			lic.IsRevoked = true
			lic.RevokedAt = &t
			lic.RevokedReason = reason
		}
		return nil
	}
	return license.ErrNotFound
}

func (s *memLicenseStore) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*license.License
	for _, lic := range s.licenses {
		if lic.ExpiresAt == nil || lic.IsRevoked || lic.ReminderSent {
			continue
		}
		if lic.Tier != license.TierPro && lic.Tier != license.TierElite {
			continue
		}
		if !lic.ExpiresAt.Before(from) && !lic.ExpiresAt.After(to) {
			cp := *lic
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memLicenseStore) SetReminderSent(ctx context.Context, id uuid.UUID, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		lic.ReminderSent = sent
		return nil
	}
	return license.ErrNotFound
}

func (s *memLicenseStore) ResetReminders(ctx context.Context, expiringAfter time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, lic := range s.licenses {
		if lic.ReminderSent && lic.ExpiresAt != nil && lic.ExpiresAt.After(expiringAfter) {
			lic.ReminderSent = false
			n++
		}
	}
	return n, nil
}

// memBindingStore is an in-memory license.BindingStore honoring the
// single-active-binding contract.
type memBindingStore struct {
	mu       sync.Mutex
	bindings map[uuid.UUID][]*license.DeviceBinding
	licenses *memLicenseStore
}

func newMemBindingStore(licenses *memLicenseStore) *memBindingStore {
	return &memBindingStore{
		bindings: make(map[uuid.UUID][]*license.DeviceBinding),
		licenses: licenses,
	}
}

func (s *memBindingStore) ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*license.DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.bindings[licenseID]
	out := make([]*license.DeviceBinding, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		cp := *history[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memBindingStore) Active(ctx context.Context, licenseID uuid.UUID) (*license.DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings[licenseID] {
		if b.IsActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, license.ErrNotFound
}

func (s *memBindingStore) ReplaceActive(ctx context.Context, b *license.DeviceBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bindings[b.LicenseID] {
		if existing.IsActive {
			existing.IsActive = false
			t := b.BoundAt
			existing.UnboundAt = &t
			id := existing.ID
			b.PreviousID = &id
		}
	}
	cp := *b
	s.bindings[b.LicenseID] = append(s.bindings[b.LicenseID], &cp)

	s.licenses.mu.Lock()
	if lic, ok := s.licenses.licenses[b.LicenseID]; ok {
		lic.HardwareID = b.Fingerprint
	}
	s.licenses.mu.Unlock()
	return nil
}

// memAuditStore implements both license.AuditSink and
// license.AuditReader.
type memAuditStore struct {
	mu      sync.Mutex
	records []*license.AuditRecord
}

func newMemAuditStore() *memAuditStore { return &memAuditStore{} }

func (s *memAuditStore) Append(ctx context.Context, rec *license.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *memAuditStore) Recent(ctx context.Context, limit int) ([]*license.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*license.AuditRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.records[i]
		out = append(out, &cp)
	}
	return out, nil
}
