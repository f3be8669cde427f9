// Package credentials implements at-rest encryption of provider API keys.
// A process password plus a persisted salt derive a symmetric key via
// argon2id; secrets are sealed with ChaCha20-Poly1305 and stored as
// base64(nonce || ciphertext) alongside the rest of the config.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCredentialMismatch is returned when ciphertext was encrypted under a
// different password. Callers should treat this as "no key configured".
var ErrCredentialMismatch = errors.New("credentials: decryption failed (wrong password or corrupted data)")

// KDF parameters. Memory-hard per spec.md §4.A: >=128 MiB, >=3 passes.
const (
	kdfTime    = 3
	kdfMemory  = 128 * 1024 // KiB
	kdfThreads = 4
	kdfKeyLen  = 32 // chacha20poly1305.KeySize
	saltLen    = 16
)

// Store derives a symmetric key from a password and a persisted salt, and
// seals/opens secrets with it. The zero value is not usable; call New or
// Init.
type Store struct {
	key      []byte
	saltPath string
}

// New derives a Store's key from password and an existing salt file at
// saltPath, creating the salt file on first use.
func New(password, saltPath string) (*Store, error) {
	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, fmt.Errorf("credentials: salt: %w", err)
	}
	key := deriveKey(password, salt)
	return &Store{key: key, saltPath: saltPath}, nil
}

// Init is an alias for New matching the caller-facing API named in
// spec.md §6 (Credentials.Init(password)). saltPath is resolved under
// dataDir/salt.txt.
func Init(password, dataDir string) (*Store, error) {
	return New(password, filepath.Join(dataDir, "salt.txt"))
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		decoded, decErr := hex.DecodeString(string(data))
		if decErr != nil {
			return nil, fmt.Errorf("malformed salt file %s: %w", path, decErr)
		}
		return decoded, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	encoded := []byte(hex.EncodeToString(salt))
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

// Encrypt seals plaintext under the store's key with a fresh random nonce.
// An empty string round-trips as an empty string without doing any
// cryptographic work (spec.md §4.A).
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", fmt.Errorf("credentials: cipher init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens ciphertext produced by Encrypt. An empty string input
// returns an empty string. A wrong password or corrupted ciphertext
// surfaces as ErrCredentialMismatch.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCredentialMismatch
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", fmt.Errorf("credentials: cipher init: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCredentialMismatch
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCredentialMismatch
	}
	return string(plain), nil
}
