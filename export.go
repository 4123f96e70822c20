package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export column order follows the record field order; reimport depends on it.
var exportColumns = []string{
	"id", "ticket_id", "ticket_type", "quality", "comment",
	"score", "experiment_name", "run_id", "start_time", "evaluation_key",
}

func WriteCSV(w io.Writer, records []EvaluationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		score := ""
		if r.Score != nil {
			score = strconv.FormatFloat(*r.Score, 'f', -1, 64)
		}
		startTime := ""
		if !r.StartTime.IsZero() {
			startTime = r.StartTime.UTC().Format(time.RFC3339Nano)
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.TicketID, 10),
			string(r.TicketType),
			string(r.Quality),
			r.Comment,
			score,
			r.ExperimentName,
			r.RunID,
			startTime,
			r.EvaluationKey,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadCSV(r io.Reader) ([]EvaluationRecord, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) != len(exportColumns) {
		return nil, fmt.Errorf("unexpected header with %d columns", len(header))
	}
	for i, col := range exportColumns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q at position %d", header[i], i)
		}
	}

	var records []EvaluationRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromRow(row []string) (EvaluationRecord, error) {
	var rec EvaluationRecord
	var err error
	if rec.ID, err = strconv.ParseInt(row[0], 10, 64); err != nil {
		return rec, fmt.Errorf("parsing id %q: %w", row[0], err)
	}
	if rec.TicketID, err = strconv.ParseInt(row[1], 10, 64); err != nil {
		return rec, fmt.Errorf("parsing ticket_id %q: %w", row[1], err)
	}
	rec.TicketType = TicketType(row[2])
	rec.Quality = Quality(row[3])
	rec.Comment = row[4]
	if row[5] != "" {
		score, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return rec, fmt.Errorf("parsing score %q: %w", row[5], err)
		}
		rec.Score = &score
	}
	rec.ExperimentName = row[6]
	rec.RunID = row[7]
	if row[8] != "" {
		rec.StartTime, err = time.Parse(time.RFC3339Nano, row[8])
		if err != nil {
			return rec, fmt.Errorf("parsing start_time %q: %w", row[8], err)
		}
		rec.Date = rec.StartTime.UTC().Format("2006-01-02")
	}
	rec.EvaluationKey = row[9]
	return rec, nil
}

func WriteJSON(w io.Writer, records []EvaluationRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func ReadJSON(r io.Reader) ([]EvaluationRecord, error) {
	var records []EvaluationRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing records: %w", err)
	}
	return records, nil
}
