package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncFlags struct {
	full  bool
	since string
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the upstream API",
	RunE:  runSync,
}

func init() {
	f := syncCmd.Flags()
	f.BoolVar(&syncFlags.full, "full", false, "Backfill full history instead of syncing incrementally")
	f.StringVar(&syncFlags.since, "since", "", "Explicit lower date bound (YYYY-MM-DD)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg := LoadConfig()
	ConfigureExternalHTTPClient(cfg.HTTPTimeoutSeconds)

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncer := &Syncer{
		DB:        db,
		Client:    NewClientFromConfig(cfg),
		Project:   cfg.ProjectName,
		BatchSize: cfg.SyncBatchSize,
	}
	result, err := syncer.Run(ctx, SyncOptions{Full: syncFlags.full, Since: syncFlags.since})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	fmt.Println(FormatSyncSummary(result))
	return nil
}
