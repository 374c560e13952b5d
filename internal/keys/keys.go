// Package keys implements API-key and admin-key material: generation,
// Argon2id hashing, format checks, and the admin-key lifecycle including
// recovery tokens.
package keys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Key prefixes. A full key is "<prefix>_" + base64url(36 random bytes).
const (
	PrefixClientKey     = "amb_sk"
	PrefixAdminKey      = "amb_ak"
	PrefixRecoveryToken = "amb_rt"
)

const (
	randomBytes = 36
	// suffixLen is the base64url length of randomBytes bytes.
	suffixLen = 48
	// KeyPrefixLen is how much of the random suffix is stored for lookup.
	KeyPrefixLen = 8
)

// Generate mints a fresh key with the given prefix. It returns the full
// plaintext key and the stored lookup prefix (the first 8 characters of the
// random suffix).
func Generate(prefix string) (fullKey, keyPrefix string, err error) {
	raw := make([]byte, randomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	suffix := base64.RawURLEncoding.EncodeToString(raw)
	return prefix + "_" + suffix, suffix[:KeyPrefixLen], nil
}

// CheckFormat validates a presented key's prefix and exact length before any
// database or hashing work, so malformed input costs nothing.
func CheckFormat(key, prefix string) error {
	want := len(prefix) + 1 + suffixLen
	if len(key) != want {
		return fmt.Errorf("key has wrong length")
	}
	if !strings.HasPrefix(key, prefix+"_") {
		return fmt.Errorf("key has wrong prefix")
	}
	suffix := key[len(prefix)+1:]
	if _, err := base64.RawURLEncoding.DecodeString(suffix); err != nil {
		return fmt.Errorf("key suffix is not base64url")
	}
	return nil
}

// LookupPrefix extracts the stored prefix from a well-formed key.
func LookupPrefix(key, prefix string) string {
	return key[len(prefix)+1 : len(prefix)+1+KeyPrefixLen]
}
