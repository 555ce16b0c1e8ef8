package entries

import (
	"context"
	"strings"
	"sync"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/server/models"
)

// MemoryRepository is an in-memory Repository used in tests and local
// development. Entries keep creation order per user.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.Entry
	byUser  map[string][]string
	failAll bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.Entry),
		byUser: make(map[string][]string),
	}
}

// FailStorage makes every subsequent call return common.ErrInternal,
// simulating a storage outage.
func (r *MemoryRepository) FailStorage(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = fail
}

func (r *MemoryRepository) Create(ctx context.Context, entry *models.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return common.ErrInternal
	}
	cp := *entry
	r.byID[entry.ID] = &cp
	r.byUser[entry.UserID] = append(r.byUser[entry.UserID], entry.ID)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id, userID string) (*models.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failAll {
		return nil, common.ErrInternal
	}
	return r.get(id, userID)
}

func (r *MemoryRepository) List(ctx context.Context, userID string, opts ListOptions) ([]*models.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failAll {
		return nil, common.ErrInternal
	}

	var result []*models.Entry
	for _, id := range r.byUser[userID] {
		e := r.byID[id]
		if opts.Category != "" && e.Category != opts.Category {
			continue
		}
		if opts.FavoriteOnly && !e.Favorite {
			continue
		}
		if opts.Search != "" && !matchesSearch(e, opts.Search) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, entry *models.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return common.ErrInternal
	}
	stored, err := r.get(entry.ID, entry.UserID)
	if err != nil {
		return err
	}
	cp := *entry
	cp.CreatedAt = stored.CreatedAt
	r.byID[entry.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return common.ErrInternal
	}
	if _, err := r.get(id, userID); err != nil {
		return err
	}
	delete(r.byID, id)
	ids := r.byUser[userID]
	for i, v := range ids {
		if v == id {
			r.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) Probe(ctx context.Context, userID string) (*models.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failAll {
		return nil, common.ErrInternal
	}
	ids := r.byUser[userID]
	if len(ids) == 0 {
		return nil, common.ErrNotFound
	}
	cp := *r.byID[ids[0]]
	return &cp, nil
}

func (r *MemoryRepository) ListAll(ctx context.Context, userID string) ([]*models.Entry, error) {
	return r.List(ctx, userID, ListOptions{})
}

func (r *MemoryRepository) BatchUpdateEnvelopes(ctx context.Context, userID string, updates []models.EnvelopeUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return common.ErrInternal
	}

	// validate the whole batch before touching anything, so the update is
	// all-or-nothing like the transactional Postgres implementation
	for _, u := range updates {
		if _, err := r.get(u.EntryID, userID); err != nil {
			return err
		}
	}
	for _, u := range updates {
		r.byID[u.EntryID].Envelope = u.Envelope
	}
	return nil
}

func (r *MemoryRepository) SetAttachmentKey(ctx context.Context, id, userID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return common.ErrInternal
	}
	e, err := r.get(id, userID)
	if err != nil {
		return err
	}
	e.Index.AttachmentKey = key
	return nil
}

func (r *MemoryRepository) get(id, userID string) (*models.Entry, error) {
	e, ok := r.byID[id]
	if !ok || e.UserID != userID {
		return nil, common.ErrNotFound
	}
	return e, nil
}

func matchesSearch(e *models.Entry, search string) bool {
	s := strings.ToLower(search)
	return strings.Contains(strings.ToLower(e.Index.Name), s) ||
		strings.Contains(strings.ToLower(e.Index.Username), s) ||
		strings.Contains(strings.ToLower(e.Index.URL), s)
}
