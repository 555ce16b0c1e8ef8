package vault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/cryptox"
	"github.com/dzaharov/passvault/internal/server/entries"
	"github.com/dzaharov/passvault/internal/server/locks"
	"github.com/dzaharov/passvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRotator(repo RotationStore) *Rotator {
	return NewRotator(repo, locks.NewPerUser(), testLogger())
}

func decryptRecord(t *testing.T, blob string, key []byte) models.SecretRecord {
	t.Helper()
	env, err := cryptox.UnmarshalEnvelope(blob)
	require.NoError(t, err)
	var rec models.SecretRecord
	require.NoError(t, cryptox.DecryptJSON(env, key, &rec))
	return rec
}

func TestRotate_AllEntriesMigrate(t *testing.T) {
	repo := entries.NewMemoryRepository()
	oldKey, newKey := testKey(0x20), testKey(0x21)

	const n = 7
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e := addEntry(t, repo, "user-1", oldKey, models.SecretRecord{
			Title:    fmt.Sprintf("site-%d", i),
			Password: fmt.Sprintf("pw-%d", i),
			Category: models.CategoryLogin,
		})
		ids = append(ids, e.ID)
	}

	r := newTestRotator(repo)
	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(oldKey), cryptox.EncodeKey(newKey))
	require.NoError(t, err)

	assert.Equal(t, n, res.Reencrypted)
	assert.Equal(t, n, res.Total)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, StateCompleted, res.State)

	for i, id := range ids {
		stored, err := repo.Get(context.Background(), id, "user-1")
		require.NoError(t, err)

		rec := decryptRecord(t, stored.Envelope, newKey)
		assert.Equal(t, fmt.Sprintf("pw-%d", i), rec.Password)

		// nothing remains decryptable under the old key
		env, err := cryptox.UnmarshalEnvelope(stored.Envelope)
		require.NoError(t, err)
		_, err = cryptox.Decrypt(env, oldKey)
		assert.True(t, errors.Is(err, common.ErrDecryptionFailed))
	}
}

func TestRotate_CorruptedEntryIsSkippedAndReported(t *testing.T) {
	repo := entries.NewMemoryRepository()
	oldKey, newKey := testKey(0x22), testKey(0x23)

	good1 := addEntry(t, repo, "user-1", oldKey, models.SecretRecord{Title: "a", Category: models.CategoryNote})
	bad := addEntry(t, repo, "user-1", testKey(0x24), models.SecretRecord{Title: "b", Category: models.CategoryNote})
	good2 := addEntry(t, repo, "user-1", oldKey, models.SecretRecord{Title: "c", Category: models.CategoryNote})

	r := newTestRotator(repo)
	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(oldKey), cryptox.EncodeKey(newKey))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Reencrypted)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{bad.ID}, res.Skipped)
	assert.Equal(t, StateCompleted, res.State)

	for _, id := range []string{good1.ID, good2.ID} {
		stored, err := repo.Get(context.Background(), id, "user-1")
		require.NoError(t, err)
		decryptRecord(t, stored.Envelope, newKey)
	}

	// the skipped entry is untouched
	stored, err := repo.Get(context.Background(), bad.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bad.Envelope, stored.Envelope)
}

func TestRotate_RerunMigratesStragglers(t *testing.T) {
	repo := entries.NewMemoryRepository()
	k0, k1 := testKey(0x25), testKey(0x26)

	// one entry already under the new key, one still under the old key,
	// as after an earlier partial rotation
	addEntry(t, repo, "user-1", k1, models.SecretRecord{Title: "migrated", Category: models.CategoryNote})
	straggler := addEntry(t, repo, "user-1", k0, models.SecretRecord{Title: "stuck", Category: models.CategoryNote})

	r := newTestRotator(repo)
	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(k0), cryptox.EncodeKey(k1))
	require.NoError(t, err)

	// the already-migrated entry skips, the straggler moves
	assert.Equal(t, 1, res.Reencrypted)
	assert.Len(t, res.Skipped, 1)

	stored, err := repo.Get(context.Background(), straggler.ID, "user-1")
	require.NoError(t, err)
	decryptRecord(t, stored.Envelope, k1)
}

func TestRotate_EmptyVault(t *testing.T) {
	repo := entries.NewMemoryRepository()
	r := newTestRotator(repo)

	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(testKey(0x27)), cryptox.EncodeKey(testKey(0x28)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reencrypted)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, StateCompleted, res.State)
}

func TestRotate_MalformedKeys(t *testing.T) {
	repo := entries.NewMemoryRepository()
	r := newTestRotator(repo)

	_, err := r.Rotate(context.Background(), "user-1", "not base64", cryptox.EncodeKey(testKey(0x29)))
	assert.True(t, errors.Is(err, common.ErrInvalidKeyFormat))

	_, err = r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(testKey(0x29)), "also not base64")
	assert.True(t, errors.Is(err, common.ErrInvalidKeyFormat))
}

func TestRotate_LoadFailure(t *testing.T) {
	repo := entries.NewMemoryRepository()
	addEntry(t, repo, "user-1", testKey(0x2a), models.SecretRecord{Title: "x", Category: models.CategoryNote})
	repo.FailStorage(true)

	r := newTestRotator(repo)
	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(testKey(0x2a)), cryptox.EncodeKey(testKey(0x2b)))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
}

type commitFailStore struct {
	*entries.MemoryRepository
}

func (s *commitFailStore) BatchUpdateEnvelopes(ctx context.Context, userID string, updates []models.EnvelopeUpdate) error {
	return common.ErrInternal
}

func TestRotate_CommitFailureLeavesVaultUntouched(t *testing.T) {
	repo := entries.NewMemoryRepository()
	oldKey := testKey(0x2c)
	e := addEntry(t, repo, "user-1", oldKey, models.SecretRecord{Title: "x", Password: "pw", Category: models.CategoryLogin})

	r := newTestRotator(&commitFailStore{repo})
	res, err := r.Rotate(context.Background(), "user-1", cryptox.EncodeKey(oldKey), cryptox.EncodeKey(testKey(0x2d)))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)

	// nothing was written, the vault is still entirely under the old key
	stored, err := repo.Get(context.Background(), e.ID, "user-1")
	require.NoError(t, err)
	rec := decryptRecord(t, stored.Envelope, oldKey)
	assert.Equal(t, "pw", rec.Password)
}
