// Package cryptox implements the envelope encryption scheme used for vault
// entries: AES-256-GCM with a fresh random 96-bit IV per call and a 128-bit
// authentication tag. The package is stateless; every function operates only
// on the buffers it is given and is safe for concurrent use.
//
// A key is never persisted anywhere in the system. The server receives it
// base64-encoded with each request, uses it for the duration of that request,
// and forgets it.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dzaharov/passvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the required symmetric key length (AES-256).
	KeySize = 32
	// IVSize is the GCM nonce length.
	IVSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// Envelope is the self-contained encrypted representation of a record.
// It is only meaningful together with the key that produced it.
//
// The JSON encoding (base64 fields) is the opaque blob persisted by the
// entry store and is never interpreted by any other layer.
type Envelope struct {
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	Ciphertext []byte `json:"ciphertext"`
}

// Marshal serializes the envelope to its storage form.
func (e *Envelope) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalEnvelope parses an envelope from its storage form. A blob that
// does not parse, or whose IV or tag has the wrong length, is reported as
// a decryption failure: the envelope cannot possibly be opened.
func UnmarshalEnvelope(blob string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(blob), &e); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", common.ErrDecryptionFailed, err)
	}
	if len(e.IV) != IVSize || len(e.AuthTag) != TagSize {
		return nil, fmt.Errorf("%w: malformed envelope", common.ErrDecryptionFailed)
	}
	return &e, nil
}

// DecodeKey decodes a wire-format (base64) key. It only checks well-formedness
// of the encoding, not whether the key matches any data; a failure here is
// common.ErrInvalidKeyFormat so callers can tell "malformed" apart from
// "wrong secret".
func DecodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", common.ErrInvalidKeyFormat)
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidKeyFormat, err)
	}
	return key, nil
}

// EncodeKey encodes raw key bytes into the wire format.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// Encrypt seals plaintext under key and returns a fresh envelope.
//
// A new random IV is drawn from crypto/rand on every call, so encrypting the
// same plaintext twice yields different envelopes. The key must be exactly
// KeySize bytes.
func Encrypt(plaintext, key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrInvalidKeyFormat, KeySize, len(key))
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Seal appends the tag to the ciphertext; the envelope stores them apart.
	sealed := aesgcm.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - TagSize

	return &Envelope{
		IV:         iv,
		AuthTag:    sealed[n:],
		Ciphertext: sealed[:n],
	}, nil
}

// Decrypt opens an envelope with key and returns the plaintext.
//
// Verification happens before any plaintext is released: a wrong key, a
// flipped ciphertext bit, or a damaged tag all fail the same way, with
// common.ErrDecryptionFailed and no partial output.
func Decrypt(env *Envelope, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrDecryptionFailed, KeySize, len(key))
	}
	if len(env.IV) != IVSize || len(env.AuthTag) != TagSize {
		return nil, fmt.Errorf("%w: malformed envelope", common.ErrDecryptionFailed)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := aesgcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptJSON serializes v to JSON and seals it under key.
func EncryptJSON(v any, key []byte) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Encrypt(plaintext, key)
}

// DecryptJSON opens an envelope and unmarshals the plaintext JSON into v.
func DecryptJSON(env *Envelope, key []byte, v any) error {
	plaintext, err := Decrypt(env, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

// DeriveMasterKey derives a vault key from a master password and a per-user
// salt using argon2id. This runs on the client only; the server never sees
// the password or the salt.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
