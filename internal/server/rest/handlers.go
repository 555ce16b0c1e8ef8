package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/server/entries"
	"github.com/dzaharov/passvault/internal/server/models"
)

type unlockRequest struct {
	EncryptionKey string `json:"encryptionKey"`
}

type unlockResponse struct {
	Valid             bool      `json:"valid"`
	UnlockedAt        time.Time `json:"unlockedAt"`
	AttemptsRemaining int       `json:"attemptsRemaining"`
}

type entryRequest struct {
	EncryptionKey string `json:"encryptionKey"`
	Title         string `json:"title"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	Website       string `json:"website"`
	Notes         string `json:"notes"`
	Category      string `json:"category"`
	Favorite      bool   `json:"favorite"`
}

type entryResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Password      string    `json:"password"`
	Website       string    `json:"website"`
	Notes         string    `json:"notes"`
	Category      string    `json:"category"`
	Favorite      bool      `json:"favorite"`
	AttachmentKey string    `json:"attachmentKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type createEntryResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type listEntriesRequest struct {
	EncryptionKey string `json:"encryptionKey"`
	Category      string `json:"category"`
	Search        string `json:"search"`
	FavoriteOnly  bool   `json:"favoriteOnly"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
}

type listEntriesResponse struct {
	Entries []entryResponse `json:"entries"`
}

type changeMasterPasswordRequest struct {
	CurrentEncryptionKey string `json:"currentEncryptionKey"`
	NewEncryptionKey     string `json:"newEncryptionKey"`
}

type changeMasterPasswordResponse struct {
	ReencryptedEntries int      `json:"reencryptedEntries"`
	SkippedEntries     []string `json:"skippedEntries"`
	TotalEntries       int      `json:"totalEntries"`
}

type attachmentUploadResponse struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl"`
}

type attachmentDownloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// handleUnlock implements the stateless unlock: every attempt, right or
// wrong, consumes one slot of the sliding window before the key is checked.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := s.limiter.Allow(userID, unlockOperation)
	if !res.Allowed {
		retryAfter := res.RetryAfter(time.Now())
		s.logger.Warn(r.Context(), "unlock rate limit exceeded", "user_id", userID, "retry_after", retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      common.ErrRateLimited.Error(),
			"retryAfter": retryAfter,
		})
		return
	}

	unlockedAt, err := s.validator.ValidateKey(r.Context(), userID, req.EncryptionKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, unlockResponse{
			Valid:             true,
			UnlockedAt:        unlockedAt,
			AttemptsRemaining: res.Remaining,
		})
	case errors.Is(err, common.ErrInvalidKeyFormat):
		writeError(w, http.StatusBadRequest, "encryption key must be base64")
	case errors.Is(err, common.ErrInvalidKey):
		writeError(w, http.StatusUnauthorized, "invalid encryption key")
	default:
		s.logger.Error(r.Context(), "unlock failed", "user_id", userID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := recordFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.entries.Create(r.Context(), userID, req.EncryptionKey, rec, req.Favorite)
	if err != nil {
		writeKeyError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createEntryResponse{ID: entry.ID, CreatedAt: entry.CreatedAt})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req listEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := entries.ListOptions{
		FavoriteOnly: req.FavoriteOnly,
		Search:       req.Search,
		Limit:        req.Limit,
		Offset:       req.Offset,
	}
	if req.Category != "" {
		category, err := models.ParseCategory(req.Category)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Category = category
	}

	decrypted, err := s.entries.List(r.Context(), userID, req.EncryptionKey, opts)
	if err != nil {
		writeKeyError(w, err)
		return
	}

	resp := listEntriesResponse{Entries: make([]entryResponse, 0, len(decrypted))}
	for _, d := range decrypted {
		resp.Entries = append(resp.Entries, toEntryResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decrypted, err := s.entries.Get(r.Context(), chi.URLParam(r, "id"), userID, req.EncryptionKey)
	if err != nil {
		writeKeyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryResponse(decrypted))
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := recordFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.entries.Update(r.Context(), chi.URLParam(r, "id"), userID, req.EncryptionKey, rec, req.Favorite)
	if err != nil {
		writeKeyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createEntryResponse{ID: entry.ID, CreatedAt: entry.CreatedAt})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.entries.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChangeMasterPassword validates the current key, then re-encrypts the
// vault under the new one. A partial rotation (skipped entries) is still a
// 200: the skips are reported in the payload for the caller to act on.
func (s *Server) handleChangeMasterPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req changeMasterPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.validator.ValidateKey(r.Context(), userID, req.CurrentEncryptionKey); err != nil {
		writeKeyError(w, err)
		return
	}

	result, err := s.rotator.Rotate(r.Context(), userID, req.CurrentEncryptionKey, req.NewEncryptionKey)
	if err != nil {
		if errors.Is(err, common.ErrInvalidKeyFormat) {
			writeError(w, http.StatusBadRequest, "encryption key must be base64")
			return
		}
		s.logger.Error(r.Context(), "rotation failed", "user_id", userID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, changeMasterPasswordResponse{
		ReencryptedEntries: result.Reencrypted,
		SkippedEntries:     result.Skipped,
		TotalEntries:       result.Total,
	})
}

func (s *Server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	key, url, err := s.entries.AttachmentUploadURL(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attachmentUploadResponse{Key: key, UploadURL: url})
}

func (s *Server) handleAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	url, err := s.entries.AttachmentDownloadURL(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attachmentDownloadResponse{DownloadURL: url})
}

func recordFromRequest(req entryRequest) (models.SecretRecord, error) {
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		return models.SecretRecord{}, err
	}
	return models.SecretRecord{
		Title:    req.Title,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Website:  req.Website,
		Notes:    req.Notes,
		Category: category,
	}, nil
}

func toEntryResponse(d *entries.DecryptedEntry) entryResponse {
	return entryResponse{
		ID:            d.ID,
		Title:         d.Record.Title,
		Username:      d.Record.Username,
		Email:         d.Record.Email,
		Password:      d.Record.Password,
		Website:       d.Record.Website,
		Notes:         d.Record.Notes,
		Category:      string(d.Record.Category),
		Favorite:      d.Favorite,
		AttachmentKey: d.AttachmentKey,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
