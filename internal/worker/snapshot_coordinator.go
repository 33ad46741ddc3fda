package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/satchel/internal/crypto"
	"github.com/hyperengineering/satchel/internal/snapshot"
	"github.com/hyperengineering/satchel/internal/types"
)

// SnapshotCipher seals the raw database bytes before they leave the device.
type SnapshotCipher interface {
	Encrypt(plaintext []byte) (crypto.Sealed, error)
}

// SnapshotCoordinator periodically uploads an encrypted snapshot of the local
// database. Snapshots only run at the full sync tier; lower tiers never ship
// database content off the device.
type SnapshotCoordinator struct {
	state    StateStore
	uploader snapshot.Uploader
	cipher   SnapshotCipher
	dbPath   string
	interval time.Duration
}

// NewSnapshotCoordinator creates a coordinator for the database at dbPath.
func NewSnapshotCoordinator(state StateStore, uploader snapshot.Uploader, cipher SnapshotCipher, dbPath string, interval time.Duration) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		state:    state,
		uploader: uploader,
		cipher:   cipher,
		dbPath:   dbPath,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.snapshotOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.snapshotOnce(ctx)
		}
	}
}

// snapshotOnce encrypts the database file and uploads it. Failures are logged
// and retried on the next tick; the local database is never at risk.
func (c *SnapshotCoordinator) snapshotOnce(ctx context.Context) {
	state, err := c.state.GetSyncState(ctx)
	if err != nil {
		slog.Error("failed to load sync state for snapshot",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}
	if state.Tier != types.TierFullSync {
		return
	}

	path, err := c.writeEncryptedSnapshot()
	if err != nil {
		slog.Warn("snapshot encryption failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}
	defer os.Remove(path)

	if err := c.uploader.Upload(ctx, state.DeviceID, path); err != nil {
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"error", err,
		)
		return
	}

	slog.Info("encrypted snapshot uploaded",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_uploaded",
		"device_id", state.DeviceID,
	)
}

// writeEncryptedSnapshot seals the database file into a sibling temp file.
// Layout: 12-byte nonce, 16-byte tag, then ciphertext.
func (c *SnapshotCoordinator) writeEncryptedSnapshot() (string, error) {
	plaintext, err := os.ReadFile(c.dbPath)
	if err != nil {
		return "", err
	}

	sealed, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.dbPath), "snapshot-*.db.enc")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	for _, chunk := range [][]byte{sealed.IV, sealed.Tag, sealed.Ciphertext} {
		if _, err := tmp.Write(chunk); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
	}
	return tmp.Name(), nil
}
