package worker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/satchel/internal/crypto"
	"github.com/hyperengineering/satchel/internal/types"
)

// mockSnapshotUploader captures the uploaded file's contents.
type mockSnapshotUploader struct {
	mu       sync.Mutex
	deviceID string
	contents []byte
	calls    int
}

func (m *mockSnapshotUploader) Upload(ctx context.Context, deviceID string, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceID = deviceID
	m.contents = data
	m.calls++
	return nil
}

func TestSnapshotCoordinator_UploadsEncryptedDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "satchel.db")
	dbContent := []byte("sqlite file bytes")
	if err := os.WriteFile(dbPath, dbContent, 0600); err != nil {
		t.Fatalf("write db file: %v", err)
	}

	key, _ := crypto.GenerateKey()
	cipher, _ := crypto.NewCipher(key)
	uploader := &mockSnapshotUploader{}
	state := &mockState{tier: types.TierFullSync}

	c := NewSnapshotCoordinator(state, uploader, cipher, dbPath, time.Hour)
	c.snapshotOnce(context.Background())

	if uploader.calls != 1 {
		t.Fatalf("upload calls = %d, want 1", uploader.calls)
	}
	if uploader.deviceID != "dev-test" {
		t.Errorf("device id = %q", uploader.deviceID)
	}
	if bytes.Contains(uploader.contents, dbContent) {
		t.Error("uploaded snapshot contains plaintext database bytes")
	}

	// Nonce (12) + tag (16) + ciphertext.
	if len(uploader.contents) < 28 {
		t.Fatalf("snapshot too short: %d bytes", len(uploader.contents))
	}
	sealed := crypto.Sealed{
		IV:         uploader.contents[:12],
		Tag:        uploader.contents[12:28],
		Ciphertext: uploader.contents[28:],
	}
	plaintext, err := cipher.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt snapshot: %v", err)
	}
	if !bytes.Equal(plaintext, dbContent) {
		t.Errorf("decrypted snapshot = %q, want %q", plaintext, dbContent)
	}

	// Temp file is cleaned up after upload.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the database file to remain, found %d entries", len(entries))
	}
}

func TestSnapshotCoordinator_SkipsBelowFullSync(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "satchel.db")
	if err := os.WriteFile(dbPath, []byte("db"), 0600); err != nil {
		t.Fatalf("write db file: %v", err)
	}

	key, _ := crypto.GenerateKey()
	cipher, _ := crypto.NewCipher(key)
	uploader := &mockSnapshotUploader{}

	for _, tier := range []types.PrivacyTier{types.TierLocalOnly, types.TierAnalyticsSync} {
		state := &mockState{tier: tier}
		c := NewSnapshotCoordinator(state, uploader, cipher, dbPath, time.Hour)
		c.snapshotOnce(context.Background())
	}

	if uploader.calls != 0 {
		t.Errorf("upload calls = %d, want 0 below full sync", uploader.calls)
	}
}
