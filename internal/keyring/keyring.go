// Package keyring retrieves the device's symmetric data key. The OS-level
// secret store is an external collaborator; the file keyring is the portable
// fallback used by the daemon.
package keyring

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/satchel/internal/crypto"
)

// Keyring retrieves the device data key.
type Keyring interface {
	DataKey(ctx context.Context) ([]byte, error)
}

// FileKeyring stores the base64-encoded data key in a mode-0600 file.
type FileKeyring struct {
	path string
}

// NewFileKeyring creates a keyring backed by the file at path.
func NewFileKeyring(path string) *FileKeyring {
	return &FileKeyring{path: path}
}

// DataKey returns the stored data key, generating and persisting a fresh one
// on first use.
func (k *FileKeyring) DataKey(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(k.path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("decode data key: %w", decErr)
		}
		if len(key) != crypto.KeySize {
			return nil, crypto.ErrInvalidKeySize
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read data key: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(k.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create keyring directory: %w", err)
		}
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(k.path, []byte(encoded+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write data key: %w", err)
	}
	return key, nil
}
