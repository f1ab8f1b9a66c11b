package license

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// SessionTokenTTL bounds how long a minted session token stays valid.
const SessionTokenTTL = 24 * time.Hour

// tokenKeyLabel domain-separates the token signing secret from the key
// encryption master key it is derived from.
const tokenKeyLabel = "falconlic session token v1"

// SessionClaims is the claim set bound into a session token on
// successful validation.
type SessionClaims struct {
	UserID     string `json:"user_id"`
	Tier       Tier   `json:"tier"`
	LicenseKey string `json:"license_key"`
	jwt.RegisteredClaims
}

// TokenMinter mints and verifies HMAC-signed session tokens. The
// signing secret is derived once from the master key via HKDF-SHA256
// and never mutated, so concurrent use needs no locking.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenMinter derives the signing secret from the master key.
func NewTokenMinter(masterKey []byte) (*TokenMinter, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(masterKey))
	}

	secret := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey[:MasterKeySize], nil, []byte(tokenKeyLabel))
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return nil, fmt.Errorf("derive session token secret: %w", err)
	}
	return &TokenMinter{secret: secret, ttl: SessionTokenTTL}, nil
}

// Mint signs a session token for a successfully validated license.
func (m *TokenMinter) Mint(userID string, tier Tier, licenseKey string, now time.Time) (string, error) {
	claims := SessionClaims{
		UserID:     userID,
		Tier:       tier,
		LicenseKey: licenseKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify parses and checks a session token. Expired and forged tokens
// are rejected uniformly with ErrTokenInvalid: callers must not be able
// to distinguish the two causes.
func (m *TokenMinter) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
