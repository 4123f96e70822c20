package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only dashboard API, with scheduled background sync",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := LoadConfig()
	ConfigureExternalHTTPClient(cfg.HTTPTimeoutSeconds)

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	syncer := &Syncer{
		DB:        db,
		Client:    NewClientFromConfig(cfg),
		Project:   cfg.ProjectName,
		BatchSize: cfg.SyncBatchSize,
	}
	StartSyncScheduler(cfg, db, syncer)

	log.Printf("Starting dashboard API on %s", cfg.ListenAddr)
	return NewRouter(db).Run(cfg.ListenAddr)
}
