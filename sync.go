package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrSyncInProgress is returned when a sync is requested while another is
// still running. The last-synced bookkeeping is not safe for concurrent
// mutation, so a second run is rejected rather than interleaved.
var ErrSyncInProgress = errors.New("sync already in progress")

const defaultSyncBatchSize = 100

type SyncOptions struct {
	Full  bool   // ignore last-synced state, backfill full history
	Since string // explicit lower bound (YYYY-MM-DD), overrides bookkeeping
}

type SyncResult struct {
	ExperimentsProcessed int
	RecordsInserted      int
	RecordsUpdated       int
	RecordsSkipped       int
	FailedExperiments    []string
}

// Syncer drives the fetch -> normalize -> upsert pipeline. One experiment is
// fetched and drained at a time to respect upstream rate limits and keep
// memory bounded.
type Syncer struct {
	DB        *sql.DB
	Client    *Client
	Project   string
	BatchSize int

	mu sync.Mutex
}

func (s *Syncer) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultSyncBatchSize
}

// Run executes one sync cycle. Fetch failures are isolated per experiment
// and reported in the result; a store failure aborts the whole run. The
// context is checked at each experiment boundary so a long backfill can be
// stopped without corrupting progress already committed.
func (s *Syncer) Run(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	if !s.mu.TryLock() {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	var result SyncResult

	since := ""
	if !opts.Full {
		if opts.Since != "" {
			since = opts.Since
		} else {
			floor, err := sinceFloor(s.DB)
			if err != nil {
				return result, &PersistenceError{Op: "last-synced lookup", Err: err}
			}
			since = floor
		}
	}
	log.Printf("sync start project=%s since=%q full=%v", s.Project, since, opts.Full)

	experiments := s.Client.ListExperiments(s.Project, since)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		exp, ok, err := experiments.Next(ctx)
		if err != nil {
			// Losing the experiment listing means there is nothing left to
			// iterate; surface it as a sync-level failure.
			return result, fmt.Errorf("listing experiments: %w", err)
		}
		if !ok {
			break
		}

		inserted, updated, skipped, expErr := s.syncExperiment(ctx, exp)
		result.RecordsInserted += inserted
		result.RecordsUpdated += updated
		result.RecordsSkipped += skipped
		if expErr != nil {
			var pe *PersistenceError
			if errors.As(expErr, &pe) {
				return result, expErr
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			log.Printf("sync experiment failed name=%s err=%v", exp.Name, expErr)
			result.FailedExperiments = append(result.FailedExperiments, exp.Name)
			continue
		}
		result.ExperimentsProcessed++
	}

	log.Printf("sync done experiments=%d inserted=%d updated=%d skipped=%d failed=%d",
		result.ExperimentsProcessed, result.RecordsInserted, result.RecordsUpdated,
		result.RecordsSkipped, len(result.FailedExperiments))
	return result, nil
}

// syncExperiment streams one experiment's runs through the normalizer and
// flushes normalized records in bounded batches.
func (s *Syncer) syncExperiment(ctx context.Context, exp Experiment) (inserted, updated, skipped int, err error) {
	runs := s.Client.ListRuns(exp)
	batch := make([]EvaluationRecord, 0, s.batchSize())
	runCount := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ins, upd, err := UpsertEvaluations(s.DB, batch)
		if err != nil {
			return err
		}
		inserted += ins
		updated += upd
		batch = batch[:0]
		return nil
	}

	for {
		raw, ok, runErr := runs.Next(ctx)
		if runErr != nil {
			return inserted, updated, skipped, runErr
		}
		if !ok {
			break
		}
		runCount++

		rec, skip := NormalizeRun(raw, exp.Name)
		if skip != "" {
			skipped++
			log.Printf("sync skip experiment=%s run=%s reason=%s", exp.Name, raw.ID, skip)
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= s.batchSize() {
			if err := flush(); err != nil {
				return inserted, updated, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, updated, skipped, err
	}

	if typ, ok := InferExperimentType(exp.Name); ok {
		meta := ExperimentMetadata{
			Date:           exp.StartTime.UTC().Format("2006-01-02"),
			ExperimentType: typ,
			ExperimentName: exp.Name,
			StartTime:      exp.StartTime,
			RunCount:       runCount,
		}
		if err := UpsertExperiment(s.DB, meta); err != nil {
			return inserted, updated, skipped, err
		}
	}

	log.Printf("sync experiment done name=%s runs=%d inserted=%d updated=%d skipped=%d",
		exp.Name, runCount, inserted, updated, skipped)
	return inserted, updated, skipped, nil
}

// FormatSyncSummary renders a SyncResult for logs and notifications.
func FormatSyncSummary(result SyncResult) string {
	msg := fmt.Sprintf("Synced %d experiments: %d new, %d updated, %d skipped",
		result.ExperimentsProcessed, result.RecordsInserted, result.RecordsUpdated, result.RecordsSkipped)
	if len(result.FailedExperiments) > 0 {
		msg += fmt.Sprintf("\nFailed experiments (%d): %s",
			len(result.FailedExperiments), strings.Join(result.FailedExperiments, ", "))
	}
	return msg
}
