package license

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FingerprintComponents are the raw client-reported signal hashes a
// device fingerprint is derived from. The core treats each value as an
// opaque string.
type FingerprintComponents struct {
	CanvasHash string `json:"canvas_hash,omitempty"`
	WebGLHash  string `json:"webgl_hash,omitempty"`
	FontsHash  string `json:"fonts_hash,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// ComputeFingerprint derives a deterministic device fingerprint from
// client-supplied render hashes and the user agent. Components are
// hashed in canonical key order, so the result is independent of the
// order the caller collected them in.
func ComputeFingerprint(c FingerprintComponents) string {
	canonical := map[string]string{
		"canvas": c.CanvasHash,
		"webgl":  c.WebGLHash,
		"fonts":  c.FontsHash,
		"ua":     c.UserAgent,
	}
	// json.Marshal sorts map keys, which is the canonicalization.
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
