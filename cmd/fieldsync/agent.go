package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/officebridge/fieldsync/pkg/bridge"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the device sync agent",
	Long: "Opens the device's local store and keeps its mutation queue " +
		"draining to the office hub in the background until interrupted.",
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	client, err := bridge.New(bridge.Config{
		LocalPath:      cfg.Device.DBPath,
		HubURL:         cfg.Hub.URL,
		APIToken:       cfg.Auth.Token,
		DeviceID:       cfg.Device.ID,
		AutoSync:       true,
		SyncInterval:   time.Duration(cfg.Sync.Interval),
		ProbeInterval:  time.Duration(cfg.Sync.ProbeInterval),
		RequestTimeout: time.Duration(cfg.Sync.RequestTimeout),
		RetryBudget:    cfg.Sync.RetryBudget,
		BatchSize:      cfg.Sync.BatchSize,
		BackoffBase:    time.Duration(cfg.Sync.BackoffBase),
		BackoffCap:     time.Duration(cfg.Sync.BackoffCap),
		CallRetries:    cfg.Sync.CallRetries,
	})
	if err != nil {
		return err
	}
	slog.Info("agent store opened",
		"path", cfg.Device.DBPath,
		"device_id", client.DeviceID(),
	)

	if err := client.Initialize(); err != nil {
		client.Shutdown()
		return err
	}
	slog.Info("agent running", "hub", cfg.Hub.URL)

	// Log committed writes so field crews can tail what synced in
	var wg sync.WaitGroup
	events, cancelSub := client.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			slog.Debug("record committed",
				"collection", e.Collection,
				"record_id", e.RecordID,
				"action", e.Action,
				"origin", e.Origin,
			)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	cancelSub()
	wg.Wait()

	if err := client.Shutdown(); err != nil {
		slog.Error("client shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
