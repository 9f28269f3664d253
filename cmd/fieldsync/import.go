package main

import (
	"context"
	"fmt"
	"os"

	"github.com/officebridge/fieldsync/internal/store"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a backup document",
	Long: "Re-seeds the device store from an export document. Imported " +
		"records are written as already-synced state and are not queued " +
		"for push.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Device.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	n, err := db.Import(context.Background(), f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d records\n", n)
	return nil
}
