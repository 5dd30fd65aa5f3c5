// Package phonecrypt provides deterministic encryption of phone numbers.
//
// Phone numbers are stored encrypted and looked up by equality, so the
// scheme must be deterministic: the AES-256-GCM nonce is derived from the
// plaintext (first 12 bytes of its SHA-256). Equal phones therefore produce
// equal ciphertexts — this is a searchable-encryption construction, not a
// semantically secure one, and it must only ever be applied to phone
// numbers used as lookup keys. Reversing a ciphertext requires the key, so
// a database dump alone cannot be joined against precomputed SHA tables.
//
// Decryption is deliberately not exposed: nothing in the relay needs to
// recover a plaintext phone from storage.
package phonecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// nonceSize is the GCM nonce length; the nonce is SHA-256(phone)[:12].
const nonceSize = 12

// Encryptor deterministically encrypts phone numbers with a fixed
// process-wide key. It is safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// New creates an Encryptor from a raw 32-byte AES key.
func New(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("phone encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// FromBase64Key creates an Encryptor from a base64-encoded 32-byte key,
// the form the key takes in configuration.
func FromBase64Key(encoded string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("phone encryption key is not valid base64: %w", err)
	}
	return New(key)
}

// Encrypt returns the deterministic ciphertext of phone, base64-encoded
// for storage. For a fixed key this is a pure function of the input.
func (e *Encryptor) Encrypt(phone string) string {
	digest := sha256.Sum256([]byte(phone))
	nonce := digest[:nonceSize]

	sealed := e.aead.Seal(nil, nonce, []byte(phone), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}
