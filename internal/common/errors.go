// Package common defines shared constants and sentinel errors used across
// client and server layers of PassVault. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")

	// Key format vs. key correctness. A malformed key (not base64, wrong
	// length) is a caller mistake; a well-formed key that fails to decrypt
	// is the wrong secret. The two must stay distinguishable.
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrInvalidKey       = errors.New("invalid encryption key")

	// ErrDecryptionFailed covers GCM tag verification failures: tampered
	// ciphertext, a corrupted envelope, or a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrRateLimited is returned when the unlock attempt window is exhausted.
	ErrRateLimited = errors.New("too many attempts")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
