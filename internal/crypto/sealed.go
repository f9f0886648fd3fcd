package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the per-message HKDF salt length.
	SaltSize = 16

	// SealedOverhead is the total overhead added to each sealed message:
	// salt (16) + nonce (12) + auth tag (16) = 44 bytes
	SealedOverhead = SaltSize + NonceSize + TagSize

	// sealInfo is the context string for HKDF key derivation.
	sealInfo = "flingr-sealed-v1"
)

var (
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid sealed ciphertext")

	// ErrDecryptionFailed is returned when authentication fails, usually
	// because the data was sealed under a different key.
	ErrDecryptionFailed = errors.New("sealed data decryption failed")
)

// Sealer encrypts and decrypts small secrets under one master key. Every
// message gets a fresh salt and nonce, so sealing the same plaintext twice
// yields different output.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer creates a Sealer from a master key.
func NewSealer(key [KeySize]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal encrypts plaintext. The output format is:
//
//	salt (16 bytes) || nonce (12 bytes) || ciphertext || tag (16 bytes)
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := s.aead(salt[:])
	if err != nil {
		return nil, err
	}

	output := make([]byte, SaltSize+NonceSize, SealedOverhead+len(plaintext))
	copy(output[:SaltSize], salt[:])
	copy(output[SaltSize:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, nil), nil
}

// Open decrypts a message produced by Seal.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < SealedOverhead {
		return nil, ErrInvalidCiphertext
	}
	salt := ciphertext[:SaltSize]
	nonce := ciphertext[SaltSize : SaltSize+NonceSize]

	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext[SaltSize+NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealString is Seal for strings. The empty string seals to nil.
func (s *Sealer) SealString(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	return s.Seal([]byte(plaintext))
}

// OpenString is Open for strings. Empty input opens to "".
func (s *Sealer) OpenString(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plaintext, err := s.Open(ciphertext)
	if err != nil {
		return "", err
	}
	defer ZeroBytes(plaintext)
	return string(plaintext), nil
}

// Zero clears the master key from memory.
func (s *Sealer) Zero() {
	ZeroKey(&s.key)
}

func (s *Sealer) aead(salt []byte) (cipher.AEAD, error) {
	symmetricKey := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, s.key[:], salt, []byte(sealInfo))
	if _, err := io.ReadFull(reader, symmetricKey); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer ZeroBytes(symmetricKey)

	aead, err := chacha20poly1305.New(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead, nil
}
