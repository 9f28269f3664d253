package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/officebridge/fieldsync/internal/store"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending and dead-lettered mutations",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Device.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	pending, err := db.PendingCount(ctx)
	if err != nil {
		return err
	}
	dead, err := db.DeadLetters(ctx)
	if err != nil {
		return err
	}

	if statusJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Pending     int `json:"pending"`
			DeadLetters any `json:"dead_letters"`
		}{Pending: pending, DeadLetters: dead})
	}

	fmt.Printf("Pending mutations: %d\n", pending)
	fmt.Printf("Dead-lettered:     %d\n", len(dead))
	if len(dead) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOLLECTION\tRECORD\tACTION\tRETRIES\tLAST ERROR")
	for _, e := range dead {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Collection, e.RecordID, e.Action, e.RetryCount, e.LastError)
	}
	return w.Flush()
}
