// Package vault encrypts per-user downstream credentials at rest. Each
// user's subkey is derived from the process master key with HKDF over the
// user's stored salt, so a database leak without the master key yields no
// plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 32
	// IVSize is the AES-GCM nonce length.
	IVSize = 12
	// SaltSize is the per-user HKDF salt length.
	SaltSize = 32

	hkdfInfo = "vault/v1"
)

// Vault holds the live master key. The key is swappable under rotation
// without disturbing concurrent readers.
type Vault struct {
	mu     sync.RWMutex
	master []byte
}

// New validates the master key and builds a vault around a private copy of
// it.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	v := &Vault{master: make([]byte, MasterKeySize)}
	copy(v.master, masterKey)
	return v, nil
}

// NewSalt generates a fresh per-user salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate vault salt: %w", err)
	}
	return salt, nil
}

// deriveSubkey computes the per-user AES key from a master key and salt.
func deriveSubkey(master, salt []byte) ([]byte, error) {
	key := make([]byte, MasterKeySize)
	r := hkdf.New(sha256.New, master, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the user's subkey with a fresh IV.
func (v *Vault) Encrypt(userSalt, plaintext []byte) (ciphertext, iv []byte, err error) {
	v.mu.RLock()
	master := v.master
	defer v.mu.RUnlock()
	return encryptWith(master, userSalt, plaintext)
}

func encryptWith(master, userSalt, plaintext []byte) (ciphertext, iv []byte, err error) {
	key, err := deriveSubkey(master, userSalt)
	if err != nil {
		return nil, nil, err
	}
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens a ciphertext. AEAD authentication failure surfaces as an
// error; the caller must treat it as corrupt or foreign data, never as an
// empty credential.
func (v *Vault) Decrypt(userSalt, ciphertext, iv []byte) ([]byte, error) {
	v.mu.RLock()
	master := v.master
	defer v.mu.RUnlock()
	return decryptWith(master, userSalt, ciphertext, iv)
}

func decryptWith(master, userSalt, ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	key, err := deriveSubkey(master, userSalt)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credential decryption failed: %w", err)
	}
	return plaintext, nil
}

// ReEncrypt decrypts a row under the current master and seals it again under
// newMasterKey. Used row-by-row inside the rotation transaction.
func (v *Vault) ReEncrypt(userSalt, oldCiphertext, oldIV, newMasterKey []byte) (ciphertext, iv []byte, err error) {
	if len(newMasterKey) != MasterKeySize {
		return nil, nil, fmt.Errorf("new master key must be %d bytes", MasterKeySize)
	}
	plaintext, err := v.Decrypt(userSalt, oldCiphertext, oldIV)
	if err != nil {
		return nil, nil, err
	}
	defer Zero(plaintext)
	return encryptWith(newMasterKey, userSalt, plaintext)
}

// UpdateMasterKey swaps the live master key. The old key buffer is zeroed.
func (v *Vault) UpdateMasterKey(newMasterKey []byte) error {
	if len(newMasterKey) != MasterKeySize {
		return fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(newMasterKey))
	}
	replacement := make([]byte, MasterKeySize)
	copy(replacement, newMasterKey)

	v.mu.Lock()
	old := v.master
	v.master = replacement
	v.mu.Unlock()

	Zero(old)
	return nil
}

// Zero wipes a key or plaintext buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
