package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/officebridge/fieldsync/internal/api"
	"github.com/officebridge/fieldsync/internal/store"
	"github.com/spf13/cobra"
)

// hubIDKey is the sync_meta key holding the hub's instance id.
const hubIDKey = "hub_id"

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the office hub server",
	Long: "Serves the shared remote record store that device agents push " +
		"their queued mutations to and pull merged state from.",
	RunE: runHub,
}

func runHub(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	db, err := store.NewSQLiteStore(cfg.Hub.DBPath)
	if err != nil {
		return err
	}
	slog.Info("hub store opened", "path", cfg.Hub.DBPath)

	hubID, err := db.GetSyncMeta(ctx, hubIDKey)
	if errors.Is(err, store.ErrNotFound) {
		hubID = ulid.Make().String()
		err = db.SetSyncMeta(ctx, hubIDKey, hubID)
	}
	if err != nil {
		db.Close()
		return err
	}

	handler := api.NewHandler(db, cfg.Auth.Token, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Hub.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Hub.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Hub.WriteTimeout),
	}

	go func() {
		slog.Info("hub server starting", "address", addr, "hub_id", hubID)
		// ErrServerClosed is the expected error on graceful Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Hub.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if _, err := db.CleanExpiredIdempotency(context.Background()); err != nil {
		slog.Warn("idempotency cleanup failed", "error", err)
	}

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
