package securecodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length prefixed to every blob.
	NonceSize = 12
	// TagSize is the GCM authentication tag length appended by Seal.
	TagSize = 16
)

// Codec encrypts and authenticates opaque payloads.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// AuthenticationError is returned when a blob does not verify under the key:
// tampering, a wrong key, or truncation. It is never returned for payloads
// that decrypt but fail to parse.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Key is an opaque AES-256-GCM handle. The raw key bytes are consumed when the
// handle is built and are not reachable from it afterwards.
type Key struct {
	alias string
	aead  cipher.AEAD
	rand  io.Reader
}

var _ Codec = (*Key)(nil)

func newKey(alias string, material []byte) (*Key, error) {
	if len(material) != KeySize {
		return nil, errors.Errorf("key %q: expected %d bytes of key material, got %d", alias, KeySize, len(material))
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, errors.Wrap(err, "could not create cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create GCM")
	}
	wipe(material)
	return &Key{alias: alias, aead: aead, rand: rand.Reader}, nil
}

func (k *Key) Alias() string {
	return k.alias
}

func (k *Key) String() string {
	return "Key(" + k.alias + ")"
}

func (k *Key) MarshalZerologObject(e *zerolog.Event) {
	e.Str("alias", k.alias)
}

// Encrypt returns nonce‖ciphertext‖tag with a fresh random nonce.
func (k *Key) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(k.rand, nonce); err != nil {
		return nil, errors.Wrap(err, "could not generate nonce")
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt verifies and opens a blob produced by Encrypt.
func (k *Key) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, &AuthenticationError{Reason: fmt.Sprintf("blob too short (%d bytes)", len(blob))}
	}
	plaintext, err := k.aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, &AuthenticationError{Reason: "tag mismatch", Err: err}
	}
	return plaintext, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randomKeyMaterial() ([]byte, error) {
	b := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Wrap(err, "could not generate key material")
	}
	return b, nil
}
