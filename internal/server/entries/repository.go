package entries

import (
	"context"

	"github.com/dzaharov/passvault/internal/server/models"
)

// ListOptions narrows a List call. Zero value means "everything".
type ListOptions struct {
	Category     models.Category
	FavoriteOnly bool
	// Search matches case-insensitively against the plaintext index
	// metadata (name, username, url).
	Search string
	Limit  int
	Offset int
}

// Repository persists vault entries. Implementations must return
// common.ErrNotFound when an entry does not exist or belongs to another user,
// and must keep List/ListAll order stable (creation order) so rotation
// processes entries in a deterministic sequence.
type Repository interface {
	Create(ctx context.Context, entry *models.Entry) error
	Get(ctx context.Context, id, userID string) (*models.Entry, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]*models.Entry, error)
	Update(ctx context.Context, entry *models.Entry) error
	Delete(ctx context.Context, id, userID string) error

	// Probe returns one arbitrary entry of the user, used to test a key
	// by decryption. common.ErrNotFound means the vault is empty.
	Probe(ctx context.Context, userID string) (*models.Entry, error)

	// ListAll returns every entry of the user, in creation order.
	ListAll(ctx context.Context, userID string) ([]*models.Entry, error)

	// BatchUpdateEnvelopes replaces the envelopes of the given entries in a
	// single transaction: either every staged update lands or none does.
	BatchUpdateEnvelopes(ctx context.Context, userID string, updates []models.EnvelopeUpdate) error

	// SetAttachmentKey records the object-storage key of an entry's
	// encrypted attachment on its index metadata.
	SetAttachmentKey(ctx context.Context, id, userID, key string) error
}
