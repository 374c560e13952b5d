package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretFilename stores the session HMAC secret under the data directory.
const SecretFilename = ".session-secret"

// EnvSecretOverride lets deployments inject the secret instead of using the
// generated file.
const EnvSecretOverride = "ADMIN_SESSION_SECRET"

const minSecretLen = 32

// LoadOrCreateSecret resolves the session secret: environment override
// first, then the secret file, generating one on first run.
func LoadOrCreateSecret(dataDir string) ([]byte, error) {
	if env := os.Getenv(EnvSecretOverride); env != "" {
		if len(env) < minSecretLen {
			return nil, fmt.Errorf("%s must be at least %d characters", EnvSecretOverride, minSecretLen)
		}
		return []byte(env), nil
	}

	path := filepath.Join(dataDir, SecretFilename)
	raw, err := os.ReadFile(path)
	if err == nil {
		secret := strings.TrimSpace(string(raw))
		if len(secret) < minSecretLen {
			return nil, fmt.Errorf("session secret file is too short")
		}
		return []byte(secret), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read session secret: %w", err)
	}
	return generateSecretFile(path)
}

func generateSecretFile(path string) ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write session secret: %w", err)
	}
	return []byte(secret), nil
}

// RotateSecretFile writes a fresh secret over the file and returns it.
// Callers must swap the in-memory secret afterwards; sessions signed with
// the old secret stop verifying.
func RotateSecretFile(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, SecretFilename)
	_ = os.Remove(path)
	return generateSecretFile(path)
}
