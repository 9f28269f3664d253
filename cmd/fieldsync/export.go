package main

import (
	"context"
	"fmt"
	"os"

	"github.com/officebridge/fieldsync/internal/store"
	"github.com/spf13/cobra"
)

var exportOutputPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all records to a backup document",
	Long: "Writes every record, tombstones included, as a JSON document " +
		"suitable for re-seeding a device with the import command.",
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutputPath, "output", "o", "",
		"Output file path (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Device.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	out := os.Stdout
	if exportOutputPath != "" {
		f, err := os.Create(exportOutputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	return db.Export(context.Background(), out)
}
