package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestDelay = 100 * time.Millisecond
	defaultBackoff      = 500 * time.Millisecond
	defaultMaxAttempts  = 3
	defaultPageSize     = 100
)

// FetchError is an upstream API failure. Permanent errors (4xx other than
// rate limit, malformed bodies) are not worth retrying; transient ones have
// already been retried up to the client's attempt ceiling.
type FetchError struct {
	URL       string
	Status    int
	Permanent bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Experiment is a handle to one named run-batch in the upstream project.
type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
}

// RawRun is one evaluation attempt as the upstream API returns it, before
// schema normalization.
type RawRun struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	TicketID  int64         `json:"ticket_id"`
	StartTime time.Time     `json:"start_time"`
	Feedback  []RunFeedback `json:"feedback"`
}

// RunFeedback is one evaluation result attached to a run.
type RunFeedback struct {
	Key     string   `json:"key"`
	Quality string   `json:"quality"`
	Comment string   `json:"comment"`
	Score   *float64 `json:"score"`
}

// Client talks to the evaluation-tracking API. Delay and retry policy are
// plain fields so tests can run with zero delay.
type Client struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	RequestDelay time.Duration
	Backoff      time.Duration
	MaxAttempts  int
	PageSize     int
}

func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   externalHTTPClient,
		RequestDelay: defaultRequestDelay,
		Backoff:      defaultBackoff,
		MaxAttempts:  defaultMaxAttempts,
		PageSize:     defaultPageSize,
	}
}

func (c *Client) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// ListExperiments returns a lazy pager over the project's experiments,
// optionally bounded to those dated on or after since (YYYY-MM-DD). The
// pager always starts from the beginning; the cursor lives in the pager,
// not in the client.
func (c *Client) ListExperiments(project, since string) *ExperimentPager {
	return &ExperimentPager{c: c, project: project, since: since}
}

// ListRuns returns a lazy pager over one experiment's runs.
func (c *Client) ListRuns(exp Experiment) *RunPager {
	return &RunPager{c: c, experimentID: exp.ID}
}

type ExperimentPager struct {
	c       *Client
	project string
	since   string
	buf     []Experiment
	offset  int
	done    bool
}

// Next returns the next experiment, fetching a page only when the current
// one is drained. The second return is false once the sequence is exhausted.
func (p *ExperimentPager) Next(ctx context.Context) (Experiment, bool, error) {
	for len(p.buf) == 0 {
		if p.done {
			return Experiment{}, false, nil
		}
		apiURL := fmt.Sprintf("%s/api/v1/experiments?project=%s&limit=%d&offset=%d",
			p.c.BaseURL, url.QueryEscape(p.project), p.c.pageSize(), p.offset)
		if p.since != "" {
			apiURL += "&since=" + url.QueryEscape(p.since)
		}
		var page []Experiment
		if err := p.c.getJSON(ctx, apiURL, &page); err != nil {
			return Experiment{}, false, err
		}
		p.offset += len(page)
		p.buf = page
		if len(page) < p.c.pageSize() {
			p.done = true
		}
	}
	exp := p.buf[0]
	p.buf = p.buf[1:]
	return exp, true, nil
}

type RunPager struct {
	c            *Client
	experimentID string
	buf          []RawRun
	offset       int
	done         bool
}

func (p *RunPager) Next(ctx context.Context) (RawRun, bool, error) {
	for len(p.buf) == 0 {
		if p.done {
			return RawRun{}, false, nil
		}
		apiURL := fmt.Sprintf("%s/api/v1/experiments/%s/runs?limit=%d&offset=%d",
			p.c.BaseURL, url.PathEscape(p.experimentID), p.c.pageSize(), p.offset)
		var page []RawRun
		if err := p.c.getJSON(ctx, apiURL, &page); err != nil {
			return RawRun{}, false, err
		}
		p.offset += len(page)
		p.buf = page
		if len(page) < p.c.pageSize() {
			p.done = true
		}
	}
	run := p.buf[0]
	p.buf = p.buf[1:]
	return run, true, nil
}

// getJSON issues one GET with the rate-limit pause, retrying transient
// failures (network errors, 429, 5xx) with linear backoff.
func (c *Client) getJSON(ctx context.Context, apiURL string, v any) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = externalHTTPClient
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && c.Backoff > 0 {
			time.Sleep(time.Duration(attempt-1) * c.Backoff)
		}
		if c.RequestDelay > 0 {
			time.Sleep(c.RequestDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return &FetchError{URL: apiURL, Permanent: true, Err: fmt.Errorf("creating request: %w", err)}
		}
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("executing request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, v); err != nil {
				return &FetchError{URL: apiURL, Status: resp.StatusCode, Permanent: true, Err: fmt.Errorf("parsing response: %w", err)}
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncateBody(body))
		default:
			return &FetchError{URL: apiURL, Status: resp.StatusCode, Permanent: true, Err: fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncateBody(body))}
		}
	}
	return &FetchError{URL: apiURL, Err: fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)}
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
