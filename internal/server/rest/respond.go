package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dzaharov/passvault/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeKeyError maps key/storage failures for entry operations: a malformed
// key is the caller's mistake (400), a wrong key means the vault stays shut
// (403), anything else is classified by writeStorageError.
func writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidKeyFormat):
		writeError(w, http.StatusBadRequest, "encryption key must be base64")
	case errors.Is(err, common.ErrInvalidKey), errors.Is(err, common.ErrDecryptionFailed):
		writeError(w, http.StatusForbidden, "invalid encryption key")
	default:
		writeStorageError(w, err)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
