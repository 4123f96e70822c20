package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeUpstream serves a fixed set of experiments and their runs, with
// per-experiment failure injection.
type fakeUpstream struct {
	experiments []Experiment
	runs        map[string][]RawRun
	failRuns    map[string]int // experiment ID -> status to return
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/experiments", func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		if offset >= len(f.experiments) {
			json.NewEncoder(w).Encode([]Experiment{})
			return
		}
		json.NewEncoder(w).Encode(f.experiments[offset:])
	})
	mux.HandleFunc("/api/v1/experiments/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/experiments/"), "/")
		if len(parts) != 2 || parts[1] != "runs" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		if status, ok := f.failRuns[id]; ok {
			w.WriteHeader(status)
			return
		}
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		runs := f.runs[id]
		if offset >= len(runs) {
			json.NewEncoder(w).Encode([]RawRun{})
			return
		}
		json.NewEncoder(w).Encode(runs[offset:])
	})
	return mux
}

func feedbackRun(id string, ticketID int64, key, quality string) RawRun {
	return RawRun{
		ID:        id,
		TicketID:  ticketID,
		StartTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Feedback:  []RunFeedback{{Key: key, Quality: quality}},
	}
}

func newTestSyncer(t *testing.T, upstream *fakeUpstream) *Syncer {
	t.Helper()
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)
	return &Syncer{
		DB:      newTestDB(t),
		Client:  newTestClient(srv),
		Project: "evaluators",
	}
}

func TestSyncerRun(t *testing.T) {
	upstream := &fakeUpstream{
		experiments: []Experiment{
			{ID: "e1", Name: "zendesk-evaluation-2025-06-01", StartTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
			{ID: "e2", Name: "homeowner-pay-evaluation-2025-06-01", StartTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
		},
		runs: map[string][]RawRun{
			"e1": {
				feedbackRun("r1", 100, "bot_evaluation", "high_quality"),
				feedbackRun("r2", 101, "management_ticket_evaluation", "low_quality"),
				{ID: "r3", TicketID: 102, StartTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}, // no feedback
			},
			"e2": {
				feedbackRun("r4", 103, "quality", "low_quality"),
			},
		},
	}
	s := newTestSyncer(t, upstream)

	result, err := s.Run(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExperimentsProcessed != 2 {
		t.Errorf("processed=%d, want 2", result.ExperimentsProcessed)
	}
	if result.RecordsInserted != 3 {
		t.Errorf("inserted=%d, want 3", result.RecordsInserted)
	}
	if result.RecordsSkipped != 1 {
		t.Errorf("skipped=%d, want 1 (run without feedback)", result.RecordsSkipped)
	}
	if len(result.FailedExperiments) != 0 {
		t.Errorf("failed=%v, want none", result.FailedExperiments)
	}

	// The audit-only management record landed but stays out of the counted view.
	all, err := QueryEvaluations(s.DB, EvalFilter{})
	if err != nil {
		t.Fatalf("QueryEvaluations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("stored records=%d, want 3", len(all))
	}
	counted, err := QueryEvaluations(s.DB, EvalFilter{CountedOnly: true})
	if err != nil {
		t.Fatalf("QueryEvaluations counted: %v", err)
	}
	if len(counted) != 2 {
		t.Errorf("counted records=%d, want 2", len(counted))
	}

	// Experiment bookkeeping recorded for both types.
	for _, typ := range []string{ExpTypeLegacyHomeowner, ExpTypeHomeownerPay} {
		if date, ok, err := GetLastSyncedDate(s.DB, typ); err != nil || !ok || date != "2025-06-01" {
			t.Errorf("last synced %s = (%q, %v, %v), want (2025-06-01, true, nil)", typ, date, ok, err)
		}
	}
}

func TestSyncerRerunIsIdempotent(t *testing.T) {
	upstream := &fakeUpstream{
		experiments: []Experiment{
			{ID: "e1", Name: "zendesk-evaluation-2025-06-01", StartTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
		},
		runs: map[string][]RawRun{
			"e1": {
				feedbackRun("r1", 100, "bot_evaluation", "high_quality"),
				feedbackRun("r2", 101, "bot_evaluation", "low_quality"),
			},
		},
	}
	s := newTestSyncer(t, upstream)

	first, err := s.Run(context.Background(), SyncOptions{Full: true})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.RecordsInserted != 2 || first.RecordsUpdated != 0 {
		t.Fatalf("first: inserted=%d updated=%d, want 2/0", first.RecordsInserted, first.RecordsUpdated)
	}

	second, err := s.Run(context.Background(), SyncOptions{Full: true})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.RecordsInserted != 0 || second.RecordsUpdated != 2 {
		t.Errorf("second: inserted=%d updated=%d, want 0/2", second.RecordsInserted, second.RecordsUpdated)
	}
	total, err := CountEvaluations(s.DB)
	if err != nil {
		t.Fatalf("CountEvaluations: %v", err)
	}
	if total != 2 {
		t.Errorf("total=%d, want 2", total)
	}
}

func TestSyncerIsolatesFetchFailures(t *testing.T) {
	upstream := &fakeUpstream{
		experiments: []Experiment{
			{ID: "e1", Name: "zendesk-evaluation-2025-06-01", StartTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
			{ID: "e2", Name: "zendesk-evaluation-2025-06-02", StartTime: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)},
			{ID: "e3", Name: "zendesk-evaluation-2025-06-03", StartTime: time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)},
		},
		runs: map[string][]RawRun{
			"e1": {feedbackRun("r1", 100, "bot_evaluation", "high_quality")},
			"e3": {feedbackRun("r3", 102, "bot_evaluation", "high_quality")},
		},
		failRuns: map[string]int{"e2": http.StatusNotFound},
	}
	s := newTestSyncer(t, upstream)

	result, err := s.Run(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Run: %v (one failing experiment must not abort the sync)", err)
	}
	if result.ExperimentsProcessed != 2 {
		t.Errorf("processed=%d, want 2", result.ExperimentsProcessed)
	}
	if len(result.FailedExperiments) != 1 || result.FailedExperiments[0] != "zendesk-evaluation-2025-06-02" {
		t.Errorf("failed=%v, want [zendesk-evaluation-2025-06-02]", result.FailedExperiments)
	}
	if result.RecordsInserted != 2 {
		t.Errorf("inserted=%d, want 2 (records around the failure persist)", result.RecordsInserted)
	}
}

func TestSyncerRejectsConcurrentRun(t *testing.T) {
	s := newTestSyncer(t, &fakeUpstream{})
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.Run(context.Background(), SyncOptions{})
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("err=%v, want ErrSyncInProgress", err)
	}
}

func TestSyncerContextCancel(t *testing.T) {
	upstream := &fakeUpstream{
		experiments: []Experiment{
			{ID: "e1", Name: "zendesk-evaluation-2025-06-01", StartTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)},
		},
		runs: map[string][]RawRun{
			"e1": {feedbackRun("r1", 100, "bot_evaluation", "high_quality")},
		},
	}
	s := newTestSyncer(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, SyncOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v, want context.Canceled", err)
	}
	total, err := CountEvaluations(s.DB)
	if err != nil {
		t.Fatalf("CountEvaluations: %v", err)
	}
	if total != 0 {
		t.Errorf("total=%d after pre-canceled run, want 0", total)
	}
}

func TestFormatSyncSummary(t *testing.T) {
	summary := FormatSyncSummary(SyncResult{
		ExperimentsProcessed: 3,
		RecordsInserted:      10,
		RecordsUpdated:       2,
		RecordsSkipped:       1,
		FailedExperiments:    []string{"zendesk-evaluation-2025-06-02"},
	})
	if !strings.Contains(summary, "Synced 3 experiments") {
		t.Errorf("summary missing experiment count: %q", summary)
	}
	if !strings.Contains(summary, "zendesk-evaluation-2025-06-02") {
		t.Errorf("summary missing failed experiment: %q", summary)
	}
}
