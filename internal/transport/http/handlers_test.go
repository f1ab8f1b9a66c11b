package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falconlic/internal/config"
	apierrors "falconlic/internal/errors"
	"falconlic/internal/license"
)

const (
	testAdminToken    = "test-admin-token"
	testWebhookSecret = "hook-secret"
)

type testEnv struct {
	router   chi.Router
	clock    *fakeClock
	licenses *memLicenseStore
	bindings *license.Bindings
	issuer   *license.Issuer
	audit    *memAuditStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newFakeClock(time.Now().UTC().Truncate(time.Second))

	masterKey := bytes.Repeat([]byte{0x42}, license.MasterKeySize)
	codec, err := license.NewCodec(masterKey)
	require.NoError(t, err)
	tokens, err := license.NewTokenMinter(masterKey)
	require.NoError(t, err)

	licenses := newMemLicenseStore()
	bindingStore := newMemBindingStore(licenses)
	audit := newMemAuditStore()

	bindings := license.NewBindings(bindingStore, audit, clock, logger)
	issuer := license.NewIssuer(codec, licenses, audit, clock, logger)
	engine := license.NewEngine(codec, licenses, bindings, audit, tokens, clock, logger)

	errs := apierrors.NewErrorHandler(logger, false)
	security := config.SecurityConfig{
		AdminToken: testAdminToken,
		RateLimit:  config.RateLimitConfig{Enabled: false},
	}

	router := NewRouter(RouterDeps{
		License:  NewLicenseHandler(engine, bindings, licenses, errs, logger),
		Admin:    NewAdminHandler(issuer, audit, errs, logger),
		Tiers:    NewTiersHandler(),
		Webhook:  NewWebhookHandler(issuer, licenses, map[string]string{"stripe": testWebhookSecret}, errs, logger),
		Health:   NewHealthHandler(nil, "test"),
		Errors:   errs,
		Security: security,
		Logger:   logger,
	})

	return &testEnv{
		router:   router,
		clock:    clock,
		licenses: licenses,
		bindings: bindings,
		issuer:   issuer,
		audit:    audit,
	}
}

func (e *testEnv) issue(t *testing.T, p license.IssueParams) *license.License {
	t.Helper()
	lic, err := e.issuer.Issue(context.Background(), p)
	require.NoError(t, err)
	return lic
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro})

	w := env.do(t, http.MethodPost, "/api/license/validate",
		map[string]any{"license_key": lic.Key}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "pro", body["tier"])
	assert.NotEmpty(t, body["token"])
}

func TestValidateUnknownKeyStaysHTTP200(t *testing.T) {
	env := newTestEnv(t)

	masterKey := bytes.Repeat([]byte{0x42}, license.MasterKeySize)
	codec, err := license.NewCodec(masterKey)
	require.NoError(t, err)
	key, err := codec.Encode("ghost", license.TierPro, env.clock.Now())
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/license/validate",
		map[string]any{"license_key": key}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "free", body["tier"])
	assert.Equal(t, "license not found", body["error"])
}

func TestValidateMissingKeyIs400(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/license/validate", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindDeviceAndCooldown(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierElite})

	// Initial binding.
	w := env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-a"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// First change is free.
	w = env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-b"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// Second change inside the cooldown is rejected with the days left.
	w = env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-c"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, apierrors.TypeDeviceChangeLimit, body["type"])
	assert.Equal(t, float64(30), body["days_remaining"])

	// After the cooldown it succeeds again.
	env.clock.Advance(31 * 24 * time.Hour)
	w = env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-c"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBindDeviceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro})

	first := env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-a"}, nil)
	require.Equal(t, http.StatusCreated, first.Code)

	again := env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-a"}, nil)
	require.Equal(t, http.StatusCreated, again.Code)

	assert.Equal(t, decodeJSON(t, first)["id"], decodeJSON(t, again)["id"])
}

func TestBindingsAndCanChangeEndpoints(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro})

	env.do(t, http.MethodPost, "/api/license/bind-device",
		map[string]any{"license_key": lic.Key, "hardware_id": "hw-a"}, nil)

	w := env.do(t, http.MethodGet, "/api/license/bindings/"+lic.Key, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Len(t, body["bindings"], 1)

	w = env.do(t, http.MethodGet, "/api/license/can-change/"+lic.Key, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeJSON(t, w)["allowed"])
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro})

	w := env.do(t, http.MethodPost, "/api/license/validate",
		map[string]any{"license_key": lic.Key}, nil)
	token := decodeJSON(t, w)["token"].(string)

	w = env.do(t, http.MethodPost, "/api/license/verify-token",
		map[string]any{"token": token}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "u-1", body["user_id"])

	w = env.do(t, http.MethodPost, "/api/license/verify-token",
		map[string]any{"token": token + "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/license/generate",
		map[string]any{"user_id": "u-1", "tier": "pro"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/audit", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGenerateRenewRevokeFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/license/generate",
		map[string]any{"user_id": "u-1", "tier": "pro", "payment_ref": "pay-1"}, adminHeaders())
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJSON(t, w)
	key := created["license_key"].(string)
	firstExpiry := created["expires_at"].(string)

	w = env.do(t, http.MethodPost, "/api/license/renew",
		map[string]any{"payment_ref": "pay-1"}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	renewed := decodeJSON(t, w)
	assert.NotEqual(t, firstExpiry, renewed["expires_at"])

	w = env.do(t, http.MethodPost, "/api/license/revoke",
		map[string]any{"license_key": key, "reason": "chargeback"}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeJSON(t, w)["is_revoked"])

	// Revoked licenses validate as invalid.
	w = env.do(t, http.MethodPost, "/api/license/validate",
		map[string]any{"license_key": key}, nil)
	body := decodeJSON(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Contains(t, body["error"], "revoked")
}

func TestGenerateRejectsUnknownTier(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/license/generate",
		map[string]any{"user_id": "u-1", "tier": "platinum"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditEndpoint(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro})
	env.do(t, http.MethodPost, "/api/license/validate",
		map[string]any{"license_key": lic.Key}, nil)

	w := env.do(t, http.MethodGet, "/api/audit?limit=10", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.GreaterOrEqual(t, body["count"].(float64), float64(2))
}

func TestTiersEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/tiers", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Len(t, body["tiers"], 6)

	w = env.do(t, http.MethodGet, "/api/tiers/elite", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Elite", decodeJSON(t, w)["name"])

	w = env.do(t, http.MethodGet, "/api/tiers/platinum", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookPurchaseIssuesLicense(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(WebhookEvent{
		Event:      "purchase",
		PaymentRef: "pay-99",
		UserID:     "buyer-1",
		Tier:       "elite",
	})

	r := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	r.Header.Set("X-Webhook-Signature", signWebhook(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "issued", body["status"])
	assert.Contains(t, body["deep_link"], "falcon://activate?key=")
}

func TestWebhookRepeatPaymentRefRenews(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro, PaymentRef: "pay-5"})

	payload, _ := json.Marshal(WebhookEvent{Event: "purchase", PaymentRef: "pay-5"})
	r := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	r.Header.Set("X-Webhook-Signature", signWebhook(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renewed", decodeJSON(t, w)["status"])
}

func TestWebhookRefundRevokes(t *testing.T) {
	env := newTestEnv(t)
	lic := env.issue(t, license.IssueParams{UserID: "u-1", Tier: license.TierPro, PaymentRef: "pay-7"})

	payload, _ := json.Marshal(WebhookEvent{Event: "refund", PaymentRef: "pay-7"})
	r := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	r.Header.Set("X-Webhook-Signature", signWebhook(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "revoked", decodeJSON(t, w)["status"])

	stored, err := env.licenses.ByKey(context.Background(), lic.Key)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(WebhookEvent{Event: "purchase", PaymentRef: "pay-1"})
	r := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	r.Header.Set("X-Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookUnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"event":"purchase","payment_ref":"x"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/webhook/paddle", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeJSON(t, w)["status"])
}
