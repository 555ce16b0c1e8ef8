// Package vault implements the zero-knowledge parts of the server: deciding
// whether a caller-supplied key is the right one without ever storing a key,
// and re-encrypting a whole vault when the master password changes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/cryptox"
	"github.com/dzaharov/passvault/internal/logging"
	"github.com/dzaharov/passvault/internal/server/models"
)

// ProbeStore is the slice of the entry repository the validator needs.
type ProbeStore interface {
	Probe(ctx context.Context, userID string) (*models.Entry, error)
}

// Validator checks a supplied key against a user's existing data. It is
// stateless: no key, hash, or verifier is ever stored server-side; the only
// ground truth is whether the key opens a real envelope.
type Validator struct {
	store  ProbeStore
	logger logging.Logger
}

func NewValidator(store ProbeStore, logger logging.Logger) *Validator {
	return &Validator{
		store:  store,
		logger: logger.With("module", "key_validator"),
	}
}

// ValidateKey reports whether keyB64 is the key for userID's vault.
//
// A malformed key fails with common.ErrInvalidKeyFormat, a well-formed key
// that cannot open the probe entry fails with common.ErrInvalidKey. An empty
// vault accepts any well-formed key: with nothing encrypted yet there is
// nothing to check against, and a server-side password verifier would break
// the zero-knowledge property. The key only becomes provably right or wrong
// once the first entry exists.
//
// On success the returned time is the unlock timestamp for the caller's
// session layer; this method itself persists nothing.
func (v *Validator) ValidateKey(ctx context.Context, userID, keyB64 string) (time.Time, error) {
	key, err := cryptox.DecodeKey(keyB64)
	if err != nil {
		return time.Time{}, err
	}

	probe, err := v.store.Probe(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		v.logger.Info(ctx, "empty vault, accepting key without validation", "user_id", userID)
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load probe entry: %w", err)
	}

	env, err := cryptox.UnmarshalEnvelope(probe.Envelope)
	if err != nil {
		return time.Time{}, fmt.Errorf("probe entry %s unreadable: %w", probe.ID, err)
	}

	if _, err := cryptox.Decrypt(env, key); err != nil {
		return time.Time{}, common.ErrInvalidKey
	}

	return time.Now(), nil
}
