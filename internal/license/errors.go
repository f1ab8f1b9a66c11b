package license

import (
	"errors"
	"fmt"
)

// Sentinel errors for definitive domain outcomes. These never warrant a
// retry; the transport layer maps them to 4xx responses.
var (
	ErrNotFound       = errors.New("license not found")
	ErrRevoked        = errors.New("license revoked")
	ErrExpired        = errors.New("license expired")
	ErrDeviceMismatch = errors.New("license is bound to a different device")
	ErrTokenInvalid   = errors.New("invalid or expired session token")
)

// DecodeError reports a malformed or tampered license key. Decoding is
// all-or-nothing: any base64, length, GCM authentication or JSON
// failure collapses into this one terminal class.
type DecodeError struct {
	cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid license key format: %v", e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func newDecodeError(cause error) *DecodeError { return &DecodeError{cause: cause} }

// ChangeLimitError rejects an explicit bind attempt inside the 30-day
// device change cooldown.
type ChangeLimitError struct {
	DaysRemaining int
}

func (e *ChangeLimitError) Error() string {
	return fmt.Sprintf("device change limit reached, next change allowed in %d days", e.DaysRemaining)
}

// StorageError wraps a persistence failure. It is the only error class
// eligible for caller-side retry; everything else is terminal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a storage failure for operation op.
// Sentinels pass through so errors.Is(err, ErrNotFound) keeps working
// across the storage boundary.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
