package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearFlags struct {
	yes bool
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the local cache (destructive)",
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearFlags.yes, "yes", false, "Confirm the wipe")
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !clearFlags.yes {
		return fmt.Errorf("refusing to wipe the cache without --yes")
	}
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := ClearAll(db); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}
