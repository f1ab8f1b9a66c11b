package license

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MasterKeySize is the AES-256 key length. Key files may be longer;
// only the first 32 bytes are used.
const MasterKeySize = 32

// LoadMasterKey reads the process-wide master key from its secret
// file. The key is loaded once at startup and shared read-only by all
// encode/decode calls; a missing file is a fatal initialization error,
// not a per-call one.
func LoadMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("master key file %s not found (generate one with licensegen -keygen): %w", path, err)
		}
		return nil, fmt.Errorf("read master key file %s: %w", path, err)
	}
	if len(data) < MasterKeySize {
		return nil, fmt.Errorf("master key file %s too short: need at least %d bytes, got %d", path, MasterKeySize, len(data))
	}
	return data[:MasterKeySize], nil
}

// GenerateMasterKey creates a fresh random master key file with
// restrictive permissions. It refuses to overwrite an existing key:
// replacing the key invalidates every license ever issued under it.
func GenerateMasterKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create master key directory: %w", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate master key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create master key file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(key); err != nil {
		return fmt.Errorf("write master key file %s: %w", path, err)
	}
	return nil
}
