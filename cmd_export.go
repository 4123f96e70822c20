package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var exportFlags struct {
	format      string
	out         string
	from        string
	to          string
	ticketTypes string
	qualities   string
	countedOnly bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached evaluation records as CSV or JSON",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.format, "format", "csv", "Output format: csv or json")
	f.StringVarP(&exportFlags.out, "out", "o", "", "Output file (default stdout)")
	f.StringVar(&exportFlags.from, "from", "", "Inclusive lower date bound (YYYY-MM-DD)")
	f.StringVar(&exportFlags.to, "to", "", "Inclusive upper date bound (YYYY-MM-DD)")
	f.StringVar(&exportFlags.ticketTypes, "ticket-types", "", "Comma-separated ticket type filter")
	f.StringVar(&exportFlags.qualities, "qualities", "", "Comma-separated quality filter")
	f.BoolVar(&exportFlags.countedOnly, "counted-only", false, "Exclude audit-only rows")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	filter := EvalFilter{
		From:        exportFlags.from,
		To:          exportFlags.to,
		CountedOnly: exportFlags.countedOnly,
	}
	for _, t := range splitList(exportFlags.ticketTypes) {
		filter.TicketTypes = append(filter.TicketTypes, TicketType(t))
	}
	for _, q := range splitList(exportFlags.qualities) {
		filter.Qualities = append(filter.Qualities, Quality(q))
	}

	records, err := QueryEvaluations(db, filter)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	var w io.Writer = os.Stdout
	if exportFlags.out != "" {
		file, err := os.Create(exportFlags.out)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer file.Close()
		w = file
	}

	switch exportFlags.format {
	case "csv":
		return WriteCSV(w, records)
	case "json":
		return WriteJSON(w, records)
	default:
		return fmt.Errorf("unknown format %q: must be csv or json", exportFlags.format)
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
