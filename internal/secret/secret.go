// Package secret encrypts provider API keys at rest. Keys entered through
// the API are sealed before they reach the store; environment-sourced keys
// never touch the database and are not handled here.
package secret

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey is returned when the master key has the wrong length.
var ErrInvalidKey = eris.New("secret: master key must be 32 bytes")

// ErrDecrypt is returned for ciphertext that fails authentication.
var ErrDecrypt = eris.New("secret: cannot decrypt value")

// Encryptor seals and opens secrets with XChaCha20-Poly1305.
type Encryptor struct {
	key []byte
}

// NewEncryptor creates an Encryptor from a 32-byte master key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Encryptor{key: k}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", eris.Wrap(err, "secret: init cipher")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", eris.Wrap(err, "secret: generate nonce")
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertext yields ErrDecrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", eris.Wrap(ErrDecrypt, "bad encoding")
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", eris.Wrap(err, "secret: init cipher")
	}
	if len(sealed) < aead.NonceSize() {
		return "", eris.Wrap(ErrDecrypt, "ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
