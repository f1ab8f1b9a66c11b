package license

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Shared test fixtures: a settable clock and in-memory stores.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x5a}, MasterKeySize)
}

// testEpoch anchors the fake clock to the real present so that session
// tokens minted under the fake clock pass wall-clock expiry checks.
var testEpoch = time.Now().UTC().Truncate(time.Second)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

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

type fakeLicenseStore struct {
	mu       sync.Mutex
	licenses map[uuid.UUID]*License
}

func newFakeLicenseStore() *fakeLicenseStore {
	return &fakeLicenseStore{licenses: make(map[uuid.UUID]*License)}
}

func (s *fakeLicenseStore) Create(ctx context.Context, lic *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lic
	s.licenses[lic.ID] = &cp
	return nil
}

func (s *fakeLicenseStore) ByKey(ctx context.Context, key string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.Key == key {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeLicenseStore) ByID(ctx context.Context, id uuid.UUID) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		cp := *lic
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *fakeLicenseStore) ByPaymentRef(ctx context.Context, ref string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if ref != "" && lic.PaymentRef == ref {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeLicenseStore) TouchValidated(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		t := at
		lic.LastValidatedAt = &t
		return nil
	}
	return ErrNotFound
}

func (s *fakeLicenseStore) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		t := expiresAt
		lic.ExpiresAt = &t
		lic.ReminderSent = false
		return nil
	}
	return ErrNotFound
}

func (s *fakeLicenseStore) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
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
	return ErrNotFound
}

func (s *fakeLicenseStore) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*License
	for _, lic := range s.licenses {
		if lic.ExpiresAt == nil || lic.IsRevoked || lic.ReminderSent {
			continue
		}
		if lic.Tier != TierPro && lic.Tier != TierElite {
			continue
		}
		if !lic.ExpiresAt.Before(from) && !lic.ExpiresAt.After(to) {
			cp := *lic
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeLicenseStore) SetReminderSent(ctx context.Context, id uuid.UUID, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		lic.ReminderSent = sent
		return nil
	}
	return ErrNotFound
}

func (s *fakeLicenseStore) ResetReminders(ctx context.Context, expiringAfter time.Time) (int, error) {
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

type fakeBindingStore struct {
	mu       sync.Mutex
	bindings map[uuid.UUID][]*DeviceBinding
}

func newFakeBindingStore() *fakeBindingStore {
	return &fakeBindingStore{bindings: make(map[uuid.UUID][]*DeviceBinding)}
}

func (s *fakeBindingStore) ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.bindings[licenseID]
	out := make([]*DeviceBinding, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		cp := *history[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeBindingStore) Active(ctx context.Context, licenseID uuid.UUID) (*DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings[licenseID] {
		if b.IsActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeBindingStore) ReplaceActive(ctx context.Context, b *DeviceBinding) error {
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
	return nil
}

// activeCount reports how many bindings are active for a license.
func (s *fakeBindingStore) activeCount(licenseID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bindings[licenseID] {
		if b.IsActive {
			n++
		}
	}
	return n
}

type fakeAudit struct {
	mu      sync.Mutex
	records []*AuditRecord
}

func newFakeAudit() *fakeAudit { return &fakeAudit{} }

func (s *fakeAudit) Append(ctx context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *fakeAudit) byAction(action string) []*AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditRecord
	for _, rec := range s.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

func mustCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(testMasterKey())
	require.NoError(t, err)
	return codec
}

func mustMinter(t *testing.T) *TokenMinter {
	t.Helper()
	minter, err := NewTokenMinter(testMasterKey())
	require.NoError(t, err)
	return minter
}
