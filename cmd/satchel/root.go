package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/satchel/internal/api"
	"github.com/hyperengineering/satchel/internal/config"
	"github.com/hyperengineering/satchel/internal/crypto"
	"github.com/hyperengineering/satchel/internal/keyring"
	"github.com/hyperengineering/satchel/internal/snapshot"
	"github.com/hyperengineering/satchel/internal/store"
	"github.com/hyperengineering/satchel/internal/tier"
	"github.com/hyperengineering/satchel/internal/transport"
	"github.com/hyperengineering/satchel/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Satchel - local-first personal data store daemon",
	Long:  "Runs the satchel daemon: durable sync outbox, conflict store, and privacy tier engine behind a localhost control API.",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode, first-run sync state)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	state, err := db.GetSyncState(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("load sync state: %w", err)
	}
	slog.Info("sync state loaded", "device_id", state.DeviceID, "tier", state.Tier)

	// 5. Data key and cipher
	kr := keyring.NewFileKeyring(cfg.Keyring.Path)
	key, err := kr.DataKey(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("load data key: %w", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		db.Close()
		return fmt.Errorf("initialize cipher: %w", err)
	}

	// 6. Backend transport. The persisted backend URL wins over config so a
	// device paired at runtime keeps its pairing across restarts.
	backendURL := state.BackendURL
	if backendURL == "" {
		backendURL = cfg.Backend.URL
	}
	tokenFn := func(ctx context.Context) (string, error) {
		st, err := db.GetSyncState(ctx)
		if err != nil {
			return "", err
		}
		return st.AuthToken, nil
	}
	uploader := transport.NewClient(backendURL, state.DeviceID, tokenFn, cipher,
		transport.WithTimeout(time.Duration(cfg.Backend.Timeout)))

	// 7. Sync orchestrator and tier engine share one gate.
	gate := &worker.Gate{}
	orch := worker.NewOrchestrator(db, db, db, uploader, gate, worker.Config{
		Interval:    time.Duration(cfg.Sync.Interval),
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffBase: time.Duration(cfg.Sync.BackoffBase),
		BackoffCap:  time.Duration(cfg.Sync.BackoffCap),
	})
	engine := tier.NewEngine(db, uploader, db, gate)

	// 8. Encrypted snapshot uploads (noop when unconfigured)
	snapUploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		db.Close()
		return fmt.Errorf("initialize snapshot storage: %w", err)
	}
	snapCoordinator := worker.NewSnapshotCoordinator(db, snapUploader, cipher,
		cfg.Database.Path, time.Duration(cfg.Snapshot.Interval))

	// 9. Control API router. Loopback only; this is a local control surface.
	apiHandler := api.NewHandler(db, orch, engine, uploader, cfg.Auth.APIToken, Version)
	router := api.NewRouter(apiHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Background workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync", orch.Run)
	startWorker(ctx, &wg, "snapshot", snapCoordinator.Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error on graceful Shutdown. Any
		// other error is a real failure and triggers shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
