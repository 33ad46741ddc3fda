// Package crypto provides the AEAD glue around record payloads: AES-256-GCM
// sealing with the device data key, plus PBKDF2 key derivation for
// passphrase-protected installations. The sync core treats these as black-box
// encrypt/decrypt primitives.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// pbkdf2Iterations follows current OWASP guidance for PBKDF2-SHA256.
	pbkdf2Iterations = 210_000

	gcmTagSize = 16
)

var ErrInvalidKeySize = errors.New("data key must be 32 bytes")

// Sealed is the output of one AEAD encryption: ciphertext, nonce, and the
// integrity tag, each carried separately on the wire.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// EncodedCiphertext returns the base64 ciphertext for wire transfer.
func (s Sealed) EncodedCiphertext() string { return base64.StdEncoding.EncodeToString(s.Ciphertext) }

// EncodedIV returns the base64 nonce for wire transfer.
func (s Sealed) EncodedIV() string { return base64.StdEncoding.EncodeToString(s.IV) }

// EncodedTag returns the base64 integrity tag for wire transfer.
func (s Sealed) EncodedTag() string { return base64.StdEncoding.EncodeToString(s.Tag) }

// DecodeSealed reconstructs a Sealed from its base64 wire fields.
func DecodeSealed(ciphertext, iv, tag string) (Sealed, error) {
	var s Sealed
	var err error
	if s.Ciphertext, err = base64.StdEncoding.DecodeString(ciphertext); err != nil {
		return Sealed{}, fmt.Errorf("decode ciphertext: %w", err)
	}
	if s.IV, err = base64.StdEncoding.DecodeString(iv); err != nil {
		return Sealed{}, fmt.Errorf("decode iv: %w", err)
	}
	if tag != "" {
		if s.Tag, err = base64.StdEncoding.DecodeString(tag); err != nil {
			return Sealed{}, fmt.Errorf("decode tag: %w", err)
		}
	}
	return s, nil
}

// Cipher seals and opens record content with a fixed symmetric key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates an AES-256-GCM cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (Sealed, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	return Sealed{
		Ciphertext: sealed[:len(sealed)-gcmTagSize],
		IV:         iv,
		Tag:        sealed[len(sealed)-gcmTagSize:],
	}, nil
}

// Decrypt opens a sealed payload, verifying the integrity tag.
func (c *Cipher) Decrypt(s Sealed) ([]byte, error) {
	combined := append(append([]byte(nil), s.Ciphertext...), s.Tag...)
	plaintext, err := c.aead.Open(nil, s.IV, combined, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}

// DeriveKey stretches a passphrase into a data key using PBKDF2-SHA256.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, KeySize, sha256.New)
}

// GenerateKey returns a fresh random data key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
