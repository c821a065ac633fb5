// Package vault manages the daemon's master encryption key and uses it to
// seal and open credential values at rest (spec.md §3 "Credential",
// "encrypted at rest using AES-256-GCM or equivalent").
//
// Unlike the teacher's password-derived vault, this key is machine-generated
// once and stored outside the database: first in the OS keychain via
// zalando/go-keyring, falling back to a 0600 file when no keychain is
// available (headless servers, containers). There is no user-supplied
// password to derive from, so Argon2id has no role here — the key is already
// high entropy.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyringService = "personal-automator"
	keyringAccount = "master-key"

	// currentKeyVersion is prefixed to every ciphertext so a future key
	// rotation can distinguish which key decrypts a given value.
	currentKeyVersion byte = 1
)

// Vault holds the master key in memory and seals/opens credential values.
type Vault struct {
	mu        sync.RWMutex
	key       []byte // 32 bytes, chacha20poly1305.KeySize
	fallback  string // file fallback path, used only if keyring is unavailable
}

// Open loads the master key, generating one on first run. fallbackPath is
// the file used when the OS keychain is inaccessible (spec.md's ambient
// requirement to run headlessly under systemd/Docker where no keychain
// session exists, mirroring the teacher's keyring.go file-fallback gap).
func Open(fallbackPath string) (*Vault, error) {
	v := &Vault{fallback: fallbackPath}

	key, err := loadFromKeyring()
	if err == nil {
		v.key = key
		return v, nil
	}

	key, err = loadFromFile(fallbackPath)
	if err == nil {
		v.key = key
		return v, nil
	}

	key, err = generateKey()
	if err != nil {
		return nil, fmt.Errorf("vault: generate master key: %w", err)
	}

	if err := storeToKeyring(key); err != nil {
		if err := storeToFile(fallbackPath, key); err != nil {
			return nil, fmt.Errorf("vault: persist master key: %w", err)
		}
	}

	v.key = key
	return v, nil
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext suitable
// for the store's credentials.encrypted_value column.
func (v *Vault) Seal(plaintext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, 1+len(nonce)+len(sealed))
	out = append(out, currentKeyVersion)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (v *Vault) open(ciphertext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	if len(raw) < 1+chacha20poly1305.NonceSize {
		return "", fmt.Errorf("vault: ciphertext too short")
	}
	version := raw[0]
	if version != currentKeyVersion {
		return "", fmt.Errorf("vault: unsupported key version %d", version)
	}
	nonce := raw[1 : 1+chacha20poly1305.NonceSize]
	sealed := raw[1+chacha20poly1305.NonceSize:]

	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decryption failed (master key mismatch?): %w", err)
	}
	return string(plaintext), nil
}

// Unseal decrypts a value previously produced by Seal. Named distinctly from
// the unexported helper so callers read naturally: vault.Unseal(ct).
func (v *Vault) Unseal(ciphertext string) (string, error) {
	return v.open(ciphertext)
}

// Clear zeroes the in-memory key. The vault is unusable afterward.
func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

func generateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func loadFromKeyring() ([]byte, error) {
	encoded, err := keyring.Get(keyringService, keyringAccount)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func storeToKeyring(key []byte) error {
	return keyring.Set(keyringService, keyringAccount, base64.StdEncoding.EncodeToString(key))
}

func loadFromFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(string(raw))
}

func storeToFile(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	return os.WriteFile(path, []byte(encoded), 0o600)
}
