// Package crypto seals stored secrets with ChaCha20-Poly1305 under a
// per-installation key kept in the data directory.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// KeySize is the size of the master key and derived ChaCha20-Poly1305 keys.
	KeySize = 32

	// NonceSize is the size of ChaCha20-Poly1305 nonces in bytes.
	NonceSize = 12

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = 16

	// keyFileName is the master key file inside the data directory.
	keyFileName = "sealing.key"
)

// ErrKeyNotFound is returned by LoadKey when no key file exists.
var ErrKeyNotFound = errors.New("sealing key not found")

// GenerateKey returns a new random master key.
func GenerateKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// StoreKey writes key to dataDir with owner-only permissions.
func StoreKey(dataDir string, key [KeySize]byte) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := filepath.Join(dataDir, keyFileName)

	// Write to a temp file first so a crash never leaves a truncated key.
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(hex.EncodeToString(key[:])+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write sealing key: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist sealing key: %w", err)
	}

	return nil
}

// LoadKey reads the master key from dataDir.
func LoadKey(dataDir string) ([KeySize]byte, error) {
	var key [KeySize]byte
	filePath := filepath.Join(dataDir, keyFileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return key, fmt.Errorf("%w at %s", ErrKeyNotFound, filePath)
		}
		return key, fmt.Errorf("failed to read sealing key: %w", err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return key, fmt.Errorf("invalid sealing key in %s: %w", filePath, err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("invalid sealing key in %s: %d bytes, want %d", filePath, len(raw), KeySize)
	}
	copy(key[:], raw)
	ZeroBytes(raw)
	return key, nil
}

// LoadOrCreateKey loads the master key, creating and persisting one on
// first use. created reports whether a new key was written.
func LoadOrCreateKey(dataDir string) (key [KeySize]byte, created bool, err error) {
	key, err = LoadKey(dataDir)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return key, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return key, false, err
	}
	if err := StoreKey(dataDir, key); err != nil {
		return key, false, err
	}
	return key, true, nil
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey overwrites k with zeros.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
