package entries

import (
	"context"
	"fmt"
	"time"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/cryptox"
	"github.com/dzaharov/passvault/internal/logging"
	"github.com/dzaharov/passvault/internal/server/locks"
	"github.com/dzaharov/passvault/internal/server/models"
	"github.com/google/uuid"

	sc "github.com/dzaharov/passvault/internal/server/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// KeyValidator decides whether a caller-supplied key matches the user's
// vault. Satisfied by vault.Validator.
type KeyValidator interface {
	ValidateKey(ctx context.Context, userID, keyB64 string) (time.Time, error)
}

// DecryptedEntry is an entry opened for a single response. The Record field
// exists in plaintext only inside the request that supplied the key.
type DecryptedEntry struct {
	ID            string
	Favorite      bool
	Record        models.SecretRecord
	AttachmentKey string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Service implements entry CRUD over the repository: it validates the
// caller's key against the vault, seals records into envelopes on write and
// opens them on read. It holds no key state between calls.
type Service struct {
	repo      Repository
	validator KeyValidator
	locks     *locks.PerUser
	config    *sc.Config
	logger    logging.Logger
}

func NewService(repo Repository, validator KeyValidator, userLocks *locks.PerUser, cfg *sc.Config, logger logging.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		locks:     userLocks,
		config:    cfg,
		logger:    logger.With("module", "entry_service"),
	}
}

// Create seals rec under the caller's key and stores it as a new entry.
// The key is validated against the vault first, so a well-formed but wrong
// key cannot silently add an entry under a second key.
func (s *Service) Create(ctx context.Context, userID, keyB64 string, rec models.SecretRecord, favorite bool) (*models.Entry, error) {
	key, err := s.checkKey(ctx, userID, keyB64)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseCategory(string(rec.Category)); err != nil {
		return nil, err
	}

	lock := s.locks.Get(userID)
	lock.RLock()
	defer lock.RUnlock()

	env, err := cryptox.EncryptJSON(rec, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt entry: %w", err)
	}
	blob, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  rec.Category,
		Index:     indexFor(rec),
		Envelope:  blob,
		Favorite:  favorite,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns the user's entries decrypted under the caller's key. Entries
// whose envelope does not open (corrupted, or stranded under another key
// after a partial rotation) are skipped with a warning rather than failing
// the whole listing.
func (s *Service) List(ctx context.Context, userID, keyB64 string, opts ListOptions) ([]*DecryptedEntry, error) {
	key, err := s.checkKey(ctx, userID, keyB64)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.List(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	result := make([]*DecryptedEntry, 0, len(stored))
	for _, e := range stored {
		dec, err := openEntry(e, key)
		if err != nil {
			s.logger.Warn(ctx, "entry does not decrypt, skipping from listing",
				"user_id", userID, "entry_id", e.ID, "error", err.Error())
			continue
		}
		result = append(result, dec)
	}
	return result, nil
}

// Get returns one entry decrypted under the caller's key.
func (s *Service) Get(ctx context.Context, id, userID, keyB64 string) (*DecryptedEntry, error) {
	key, err := s.checkKey(ctx, userID, keyB64)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return openEntry(entry, key)
}

// Update replaces the entry's envelope wholesale with rec sealed under the
// caller's key. Envelopes are never patched in place.
func (s *Service) Update(ctx context.Context, id, userID, keyB64 string, rec models.SecretRecord, favorite bool) (*models.Entry, error) {
	key, err := s.checkKey(ctx, userID, keyB64)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseCategory(string(rec.Category)); err != nil {
		return nil, err
	}

	lock := s.locks.Get(userID)
	lock.RLock()
	defer lock.RUnlock()

	existing, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	env, err := cryptox.EncryptJSON(rec, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt entry: %w", err)
	}
	blob, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	entry := &models.Entry{
		ID:        id,
		UserID:    userID,
		Category:  rec.Category,
		Index:     indexFor(rec),
		Envelope:  blob,
		Favorite:  favorite,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	entry.Index.AttachmentKey = existing.Index.AttachmentKey

	if err := s.repo.Update(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes an entry outright. No key is required: deletion reveals
// nothing, and ownership is already established by the auth layer.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	lock := s.locks.Get(userID)
	lock.RLock()
	defer lock.RUnlock()

	return s.repo.Delete(ctx, id, userID)
}

// AttachmentUploadURL returns a presigned PUT URL for the entry's encrypted
// attachment and records the storage key on the entry. The attachment is
// encrypted client-side; its bytes never transit this server.
func (s *Service) AttachmentUploadURL(ctx context.Context, id, userID string) (string, string, error) {
	if _, err := s.repo.Get(ctx, id, userID); err != nil {
		return "", "", err
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := fmt.Sprintf("attachments/%s/%s", userID, uuid.NewString())

	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", "", fmt.Errorf("failed to presign upload: %w", err)
	}

	if err := s.repo.SetAttachmentKey(ctx, id, userID, key); err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// AttachmentDownloadURL returns a presigned GET URL for the entry's
// attachment, if one was uploaded.
func (s *Service) AttachmentDownloadURL(ctx context.Context, id, userID string) (string, error) {
	entry, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if entry.Index.AttachmentKey == "" {
		return "", fmt.Errorf("entry %s has no attachment: %w", id, common.ErrNotFound)
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &entry.Index.AttachmentKey,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}

	return req.URL, nil
}

func (s *Service) checkKey(ctx context.Context, userID, keyB64 string) ([]byte, error) {
	if _, err := s.validator.ValidateKey(ctx, userID, keyB64); err != nil {
		return nil, err
	}
	return cryptox.DecodeKey(keyB64)
}

func (s *Service) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return s3.NewPresignClient(client), nil
}

func indexFor(rec models.SecretRecord) models.IndexMetadata {
	// the plaintext index copy never carries the password
	return models.IndexMetadata{
		Name:     rec.Title,
		Username: rec.Username,
		URL:      rec.Website,
	}
}

func openEntry(e *models.Entry, key []byte) (*DecryptedEntry, error) {
	env, err := cryptox.UnmarshalEnvelope(e.Envelope)
	if err != nil {
		return nil, err
	}
	var rec models.SecretRecord
	if err := cryptox.DecryptJSON(env, key, &rec); err != nil {
		return nil, err
	}
	return &DecryptedEntry{
		ID:            e.ID,
		Favorite:      e.Favorite,
		Record:        rec,
		AttachmentKey: e.Index.AttachmentKey,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}, nil
}
