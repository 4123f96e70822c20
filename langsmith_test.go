package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient("test-key", srv.URL)
	c.HTTPClient = srv.Client()
	c.RequestDelay = 0
	c.Backoff = 0
	return c
}

func TestExperimentPagerPagination(t *testing.T) {
	experiments := []Experiment{
		{ID: "e1", Name: "zendesk-evaluation-2025-06-01"},
		{ID: "e2", Name: "zendesk-evaluation-2025-06-02"},
		{ID: "e3", Name: "zendesk-evaluation-2025-06-03"},
	}
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key=%q, want test-key", got)
		}
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		end := offset + 2
		if end > len(experiments) {
			end = len(experiments)
		}
		json.NewEncoder(w).Encode(experiments[offset:end])
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.PageSize = 2

	pager := c.ListExperiments("evaluators", "")
	var got []string
	for {
		exp, ok, err := pager.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, exp.ID)
	}
	if len(got) != 3 || got[0] != "e1" || got[1] != "e2" || got[2] != "e3" {
		t.Errorf("experiments=%v, want [e1 e2 e3] in order", got)
	}
	// Page of 2 then short page of 1.
	if n := requests.Load(); n != 2 {
		t.Errorf("requests=%d, want 2", n)
	}
}

func TestExperimentPagerSinceParam(t *testing.T) {
	var since string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode([]Experiment{})
	}))
	defer srv.Close()

	pager := newTestClient(srv).ListExperiments("evaluators", "2025-06-01")
	if _, ok, err := pager.Next(context.Background()); err != nil || ok {
		t.Fatalf("Next: ok=%v err=%v, want false/nil", ok, err)
	}
	if since != "2025-06-01" {
		t.Errorf("since param=%q, want 2025-06-01", since)
	}
}

func TestRunPagerPagination(t *testing.T) {
	runs := make([]RawRun, 5)
	for i := range runs {
		runs[i].ID = fmt.Sprintf("run-%d", i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/experiments/exp-1/runs" {
			t.Errorf("path=%q", r.URL.Path)
		}
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		end := offset + 3
		if end > len(runs) {
			end = len(runs)
		}
		json.NewEncoder(w).Encode(runs[offset:end])
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.PageSize = 3

	pager := c.ListRuns(Experiment{ID: "exp-1"})
	count := 0
	for {
		_, ok, err := pager.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Errorf("runs=%d, want 5", count)
	}
}

func TestGetJSONRetriesTransient(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			json.NewEncoder(w).Encode([]Experiment{{ID: "e1"}})
		}
	}))
	defer srv.Close()

	pager := newTestClient(srv).ListExperiments("evaluators", "")
	exp, ok, err := pager.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after retries: %v", err)
	}
	if !ok || exp.ID != "e1" {
		t.Errorf("exp=%+v ok=%v, want e1/true", exp, ok)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("requests=%d, want 3 (two transient failures then success)", n)
	}
}

func TestGetJSONPermanentFailureNoRetry(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	pager := newTestClient(srv).ListExperiments("missing", "")
	_, _, err := pager.Next(context.Background())
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T, want *FetchError", err)
	}
	if !fe.Permanent || fe.Status != http.StatusNotFound {
		t.Errorf("FetchError permanent=%v status=%d, want true/404", fe.Permanent, fe.Status)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("requests=%d, want 1 (permanent failures are not retried)", n)
	}
}

func TestGetJSONGivesUpAfterMaxAttempts(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.MaxAttempts = 4

	_, _, err := c.ListExperiments("evaluators", "").Next(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T (%v), want *FetchError", err, err)
	}
	if fe.Permanent {
		t.Error("exhausted retries must stay transient")
	}
	if n := requests.Load(); n != 4 {
		t.Errorf("requests=%d, want 4", n)
	}
}

func TestGetJSONMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).ListExperiments("evaluators", "").Next(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T, want *FetchError", err)
	}
	if !fe.Permanent {
		t.Error("malformed body must be permanent")
	}
}

func TestGetJSONContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Experiment{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestClient(srv).ListExperiments("evaluators", "").Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v, want context.Canceled", err)
	}
}
