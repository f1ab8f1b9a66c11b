package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// nonceSize is the GCM-standard 96-bit nonce length.
const nonceSize = 12

// KeyPayload is the plaintext carried inside an encoded license key.
type KeyPayload struct {
	UserID   string    `json:"user_id"`
	Tier     Tier      `json:"tier"`
	IssuedAt time.Time `json:"issued_at"`
}

// Codec encrypts license payloads into opaque URL-safe key strings and
// authenticates them back. The format is
// base64url(nonce || ciphertext || tag) under AES-256-GCM with a fresh
// random nonce per encode. The codec holds no mutable state after
// construction and is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec over the given master key. The key must be
// at least MasterKeySize bytes; only the first 32 are used.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(masterKey))
	}

	block, err := aes.NewCipher(masterKey[:MasterKeySize])
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode encrypts (userID, tier, issuedAt) into an opaque license key.
func (c *Codec) Encode(userID string, tier Tier, issuedAt time.Time) (string, error) {
	payload := KeyPayload{
		UserID:   userID,
		Tier:     tier,
		IssuedAt: issuedAt.UTC(),
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal key payload: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode authenticates and decrypts a license key. Every failure mode
// (bad base64, truncated input, failed GCM tag, bad JSON) returns a
// *DecodeError; tampered input is never partially trusted.
func (c *Codec) Decode(key string) (KeyPayload, error) {
	// Padding may or may not survive transport; strip it rather than
	// guessing which variant the client sent.
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return KeyPayload{}, newDecodeError(err)
	}
	if len(raw) < nonceSize+c.aead.Overhead() {
		return KeyPayload{}, newDecodeError(errors.New("key too short"))
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return KeyPayload{}, newDecodeError(err)
	}

	var payload KeyPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return KeyPayload{}, newDecodeError(err)
	}
	return payload, nil
}
