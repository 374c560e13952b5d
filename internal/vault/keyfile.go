package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterKeyFilename is the key file under the data directory. It holds the
// 32-byte master key as 64 hex characters and is never world-readable.
const MasterKeyFilename = "credential_master_key"

// LoadOrCreateMasterKey reads the master key file, generating a fresh key on
// first run. The returned buffer belongs to the caller; zero it after
// constructing the vault.
func LoadOrCreateMasterKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, MasterKeyFilename)

	raw, err := os.ReadFile(path)
	if err == nil {
		return decodeMasterKey(raw)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key file: %w", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := writeMasterKeyFile(path, key); err != nil {
		Zero(key)
		return nil, err
	}
	return key, nil
}

func decodeMasterKey(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	if len(text) != MasterKeySize*2 {
		return nil, fmt.Errorf("master key file must hold %d hex characters, got %d", MasterKeySize*2, len(text))
	}
	key, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("master key file is not valid hex: %w", err)
	}
	return key, nil
}

func writeMasterKeyFile(path string, key []byte) error {
	encoded := hex.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("failed to write master key file: %w", err)
	}
	return nil
}

// StageMasterKey writes a candidate key to the .tmp sibling of the key file
// and returns its path. Rotation commits it with CommitMasterKey or discards
// it with DiscardStagedKey.
func StageMasterKey(dataDir string, key []byte) (string, error) {
	if len(key) != MasterKeySize {
		return "", fmt.Errorf("master key must be %d bytes", MasterKeySize)
	}
	tmp := filepath.Join(dataDir, MasterKeyFilename+".tmp")
	if err := writeMasterKeyFile(tmp, key); err != nil {
		return "", err
	}
	return tmp, nil
}

// CommitMasterKey atomically renames the staged key over the live key file.
func CommitMasterKey(dataDir string) error {
	tmp := filepath.Join(dataDir, MasterKeyFilename+".tmp")
	live := filepath.Join(dataDir, MasterKeyFilename)
	if err := os.Rename(tmp, live); err != nil {
		return fmt.Errorf("failed to commit master key: %w", err)
	}
	return nil
}

// DiscardStagedKey removes the staged key file, if present.
func DiscardStagedKey(dataDir string) {
	_ = os.Remove(filepath.Join(dataDir, MasterKeyFilename+".tmp"))
}
