package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sort"
	"strings"
	"sync"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// MemoryStore is the in-process reference Store: an AES-256-GCM
// encrypted map keyed by path, suitable for tests and single-node
// deployments. Every value is encrypted at rest under one key derived
// at construction; there is no external KMS dependency.
type MemoryStore struct {
	mu  sync.RWMutex
	key []byte
	vals map[string][]byte
}

// NewMemoryStore builds a MemoryStore. key must be 32 bytes (AES-256);
// NewMemoryStoreFromPassphrase derives one for callers without a raw key.
func NewMemoryStore(key []byte) (*MemoryStore, error) {
	if len(key) != 32 {
		return nil, ferrors.New(ferrors.Invalid, "invalid_key_size", "secrets encryption key must be 32 bytes")
	}
	return &MemoryStore{key: key, vals: make(map[string][]byte)}, nil
}

// NewMemoryStoreFromPassphrase derives a 32-byte key from passphrase via
// SHA-256, mirroring pkg/security's password-based key derivation.
func NewMemoryStoreFromPassphrase(passphrase string) (*MemoryStore, error) {
	if passphrase == "" {
		return nil, ferrors.New(ferrors.Invalid, "empty_passphrase", "passphrase cannot be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return NewMemoryStore(sum[:])
}

func (s *MemoryStore) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Fatal, "cipher_init_failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Fatal, "gcm_init_failed", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ferrors.Wrap(ferrors.Transient, "nonce_generation_failed", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *MemoryStore) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Fatal, "cipher_init_failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Fatal, "gcm_init_failed", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ferrors.New(ferrors.Fatal, "ciphertext_too_short", "stored secret is corrupt")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Fatal, "decryption_failed", err)
	}
	return plaintext, nil
}

// Get returns the decrypted value at path, or a NotFound classified error.
func (s *MemoryStore) Get(path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ciphertext, ok := s.vals[path]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(path)
	}
	return s.decrypt(ciphertext)
}

// Put encrypts and stores value at path, overwriting any prior value.
func (s *MemoryStore) Put(path string, value []byte) error {
	if err := validatePath(path); err != nil {
		return err
	}
	ciphertext, err := s.encrypt(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.vals[path] = ciphertext
	s.mu.Unlock()
	return nil
}

// Delete removes the value at path. Deleting a missing path is not an error.
func (s *MemoryStore) Delete(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.vals, path)
	s.mu.Unlock()
	return nil
}

// List returns every stored path with the given prefix, sorted.
func (s *MemoryStore) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.vals {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
