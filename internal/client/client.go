// Package client is a small HTTP client for the vault API. It never sends a
// master password anywhere: callers derive the encryption key locally and
// pass it base64-encoded per call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dzaharov/passvault/internal/common"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// UnlockResult mirrors the server's unlock response.
type UnlockResult struct {
	Valid             bool      `json:"valid"`
	UnlockedAt        time.Time `json:"unlockedAt"`
	AttemptsRemaining int       `json:"attemptsRemaining"`
}

// Entry is a decrypted vault entry as returned by the server.
type Entry struct {
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

// EntryData is the payload for creating or updating an entry.
type EntryData struct {
	Title    string `json:"title"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Website  string `json:"website"`
	Notes    string `json:"notes"`
	Category string `json:"category"`
	Favorite bool   `json:"favorite"`
}

// RotationSummary mirrors the server's change-master-password response.
type RotationSummary struct {
	ReencryptedEntries int      `json:"reencryptedEntries"`
	SkippedEntries     []string `json:"skippedEntries"`
	TotalEntries       int      `json:"totalEntries"`
}

func (c *Client) Unlock(ctx context.Context, keyB64 string) (*UnlockResult, error) {
	var result UnlockResult
	err := c.post(ctx, "/vault/unlock", map[string]string{"encryptionKey": keyB64}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListEntries(ctx context.Context, keyB64 string) ([]Entry, error) {
	var result struct {
		Entries []Entry `json:"entries"`
	}
	err := c.post(ctx, "/vault/entries/list", map[string]string{"encryptionKey": keyB64}, &result)
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

func (c *Client) CreateEntry(ctx context.Context, keyB64 string, data EntryData) (string, error) {
	payload := struct {
		EncryptionKey string `json:"encryptionKey"`
		EntryData
	}{EncryptionKey: keyB64, EntryData: data}

	var result struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/vault/entries", payload, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (c *Client) GetEntry(ctx context.Context, keyB64, id string) (*Entry, error) {
	var result Entry
	err := c.post(ctx, "/vault/entries/"+id, map[string]string{"encryptionKey": keyB64}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ChangeMasterPassword(ctx context.Context, currentKeyB64, newKeyB64 string) (*RotationSummary, error) {
	payload := map[string]string{
		"currentEncryptionKey": currentKeyB64,
		"newEncryptionKey":     newKeyB64,
	}
	var result RotationSummary
	if err := c.post(ctx, "/vault/change-master-password", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromStatus(resp)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func errorFromStatus(resp *http.Response) error {
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrInvalidKeyFormat, body.Error)
	case http.StatusUnauthorized, http.StatusForbidden:
		return common.ErrInvalidKey
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %ds", common.ErrRateLimited, body.RetryAfter)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)
	}
}
