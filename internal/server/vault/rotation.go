package vault

import (
	"context"
	"fmt"

	"github.com/dzaharov/passvault/internal/cryptox"
	"github.com/dzaharov/passvault/internal/logging"
	"github.com/dzaharov/passvault/internal/server/locks"
	"github.com/dzaharov/passvault/internal/server/models"
)

// RotationStore is the slice of the entry repository rotation needs.
type RotationStore interface {
	ListAll(ctx context.Context, userID string) ([]*models.Entry, error)
	BatchUpdateEnvelopes(ctx context.Context, userID string, updates []models.EnvelopeUpdate) error
}

// RotationState tracks where a rotation call got to. Failed is only
// reachable from storage errors (load or commit); individual entries that
// cannot be decrypted are skipped, not fatal.
type RotationState string

const (
	StatePending      RotationState = "pending"
	StateDecrypting   RotationState = "decrypting"
	StateReEncrypting RotationState = "re_encrypting"
	StateCommitting   RotationState = "committing"
	StateCompleted    RotationState = "completed"
	StateFailed       RotationState = "failed"
)

// RotationResult reports what a rotation did. Skipped lists the IDs of
// entries still encrypted under the old key; a non-empty list is not an
// error, but it means the vault is split across two keys until rotation is
// re-run or an operator intervenes.
type RotationResult struct {
	Reencrypted int
	Skipped     []string
	Total       int
	State       RotationState
}

// Rotator re-encrypts every entry of a user's vault under a new key.
type Rotator struct {
	store  RotationStore
	locks  *locks.PerUser
	logger logging.Logger
}

func NewRotator(store RotationStore, userLocks *locks.PerUser, logger logging.Logger) *Rotator {
	return &Rotator{
		store:  store,
		locks:  userLocks,
		logger: logger.With("module", "rotation"),
	}
}

// Rotate decrypts each of the user's entries under oldKeyB64, re-encrypts it
// under newKeyB64, and commits all staged envelopes in one transaction.
//
// Every entry transitions atomically: re-encryption completes fully in
// memory before anything is written, and the batch write is transactional,
// so an interrupted rotation leaves the vault entirely under the old key.
// Entries that do not decrypt under the old key are skipped and reported;
// re-running Rotate with the same pair of keys is idempotent — entries
// already under the new key skip, still-old entries migrate.
//
// The per-user write lock serializes rotation against concurrent entry
// writes, so no write can land under the old key after Rotate returns.
func (r *Rotator) Rotate(ctx context.Context, userID, oldKeyB64, newKeyB64 string) (*RotationResult, error) {
	oldKey, err := cryptox.DecodeKey(oldKeyB64)
	if err != nil {
		return nil, err
	}
	newKey, err := cryptox.DecodeKey(newKeyB64)
	if err != nil {
		return nil, err
	}

	lock := r.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	result := &RotationResult{State: StatePending}

	entriesList, err := r.store.ListAll(ctx, userID)
	if err != nil {
		result.State = StateFailed
		return result, fmt.Errorf("failed to load entries: %w", err)
	}
	result.Total = len(entriesList)

	updates := make([]models.EnvelopeUpdate, 0, len(entriesList))
	for _, entry := range entriesList {
		result.State = StateDecrypting
		plaintext, err := r.decryptEnvelope(entry.Envelope, oldKey)
		if err != nil {
			r.logger.Warn(ctx, "entry does not decrypt under old key, skipping",
				"user_id", userID, "entry_id", entry.ID, "error", err.Error())
			result.Skipped = append(result.Skipped, entry.ID)
			continue
		}

		result.State = StateReEncrypting
		env, err := cryptox.Encrypt(plaintext, newKey)
		if err != nil {
			result.State = StateFailed
			return result, fmt.Errorf("failed to re-encrypt entry %s: %w", entry.ID, err)
		}
		blob, err := env.Marshal()
		if err != nil {
			result.State = StateFailed
			return result, fmt.Errorf("failed to serialize envelope for entry %s: %w", entry.ID, err)
		}

		updates = append(updates, models.EnvelopeUpdate{EntryID: entry.ID, Envelope: blob})
	}

	result.State = StateCommitting
	if err := r.store.BatchUpdateEnvelopes(ctx, userID, updates); err != nil {
		result.State = StateFailed
		return result, fmt.Errorf("failed to commit re-encrypted entries: %w", err)
	}

	result.Reencrypted = len(updates)
	result.State = StateCompleted

	if len(result.Skipped) > 0 {
		r.logger.Warn(ctx, "rotation completed with skipped entries",
			"user_id", userID,
			"reencrypted", result.Reencrypted,
			"total", result.Total,
			"skipped_entry_ids", result.Skipped)
	} else {
		r.logger.Info(ctx, "rotation completed",
			"user_id", userID, "reencrypted", result.Reencrypted, "total", result.Total)
	}

	return result, nil
}

func (r *Rotator) decryptEnvelope(blob string, key []byte) ([]byte, error) {
	env, err := cryptox.UnmarshalEnvelope(blob)
	if err != nil {
		return nil, err
	}
	return cryptox.Decrypt(env, key)
}
