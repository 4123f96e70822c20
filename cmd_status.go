package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a summary of the cache contents",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	total, err := CountEvaluations(db)
	if err != nil {
		return err
	}
	fmt.Printf("Total evaluations: %d\n", total)

	experiments, err := GetLatestExperiments(db)
	if err != nil {
		return err
	}
	fmt.Printf("Tracked experiments: %d\n", len(experiments))

	dates, err := GetRecentDates(db, 10)
	if err != nil {
		return err
	}
	if len(dates) > 0 {
		fmt.Printf("Recent dates: %s\n", strings.Join(dates, ", "))
	}

	breakdown, err := GetKeyTypeBreakdown(db)
	if err != nil {
		return err
	}
	if len(breakdown) > 0 {
		fmt.Println("By evaluation key and ticket type:")
		for _, k := range breakdown {
			fmt.Printf("  %s / %s: %d\n", k.EvaluationKey, k.TicketType, k.Count)
		}
	}

	for _, typ := range ExperimentTypes {
		if date, ok, err := GetLastSyncedDate(db, typ); err == nil && ok {
			fmt.Printf("Last synced %s: %s\n", typ, date)
		}
	}
	return nil
}
