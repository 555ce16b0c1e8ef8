// Package models holds the server-side domain types for vault entries.
package models

import (
	"fmt"
	"time"
)

// Category is the closed set of entry kinds. The wire format is the lowercase
// string; anything outside the set is rejected at the boundary.
type Category string

const (
	CategoryLogin Category = "login"
	CategoryCard  Category = "card"
	CategoryNote  Category = "note"
	CategoryWifi  Category = "wifi"
	CategoryOther Category = "other"
)

// ParseCategory validates a wire-format category string.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryLogin, CategoryCard, CategoryNote, CategoryWifi, CategoryOther:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// IndexMetadata is the denormalized plaintext copy of a few entry fields,
// kept so listing and search work without decryption. It must never contain
// the password. The duplication of name/username/url with the encrypted
// record is a deliberate, documented tradeoff of the design.
type IndexMetadata struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	URL      string `json:"url"`

	// AttachmentKey is the object-storage key of the entry's encrypted
	// attachment, if one was uploaded. Empty otherwise.
	AttachmentKey string `json:"attachmentKey,omitempty"`
}

// SecretRecord is the full sensitive record. It exists in plaintext only
// inside a single request, between decryption and response serialization;
// at rest it lives exclusively inside an entry's envelope.
type SecretRecord struct {
	Title    string   `json:"title"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Website  string   `json:"website"`
	Notes    string   `json:"notes"`
	Category Category `json:"category"`
}

// EnvelopeUpdate is one staged re-encryption: a new envelope blob for an
// existing entry. Batches of these are applied in a single transaction
// during master password rotation.
type EnvelopeUpdate struct {
	EntryID  string
	Envelope string
}

// Entry is a stored vault entry: plaintext index metadata plus the opaque
// envelope blob. Envelope is the single source of truth for sensitive
// fields; Index is a convenience copy for listing.
type Entry struct {
	ID        string
	UserID    string
	Category  Category
	Index     IndexMetadata
	Envelope  string
	Favorite  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
