// Package health polls an HTTP endpoint until it answers with an accepted
// status code or the attempt budget is exhausted.
package health

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TimeoutError indicates the endpoint never became healthy within the
// attempt budget.
type TimeoutError struct {
	URL      string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("health check %s: not healthy after %d attempts", e.URL, e.Attempts)
}

// Poller polls HTTP health endpoints.
type Poller struct {
	// Interval between polling attempts.
	Interval time.Duration

	// MaxAttempts bounds the polling loop. Exactly MaxAttempts requests
	// are issued before giving up.
	MaxAttempts int

	// RequestTimeout bounds each individual GET.
	RequestTimeout time.Duration

	// ExpectedStatuses is the set of status codes accepted as healthy.
	ExpectedStatuses map[int]bool

	client *http.Client
}

// New returns a Poller accepting the given status codes.
func New(interval time.Duration, maxAttempts int, expected ...int) *Poller {
	set := make(map[int]bool, len(expected))
	for _, code := range expected {
		set[code] = true
	}

	return &Poller{
		Interval:         interval,
		MaxAttempts:      maxAttempts,
		RequestTimeout:   5 * time.Second,
		ExpectedStatuses: set,
	}
}

// PollUntilHealthy issues a GET to url once per interval until a response
// status lands in the expected set. Request failures (connection refused,
// timeout) count as "not yet healthy", never as errors: only exhausting the
// attempt budget yields a TimeoutError. Cancelling ctx stops the loop early
// with ctx.Err().
func (p *Poller) PollUntilHealthy(ctx context.Context, url string) error {
	if p.client == nil {
		p.client = &http.Client{Timeout: p.RequestTimeout}
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		ok, detail := p.check(ctx, url)
		if ok {
			log.Printf("Health check %s passed on attempt %d/%d", url, attempt, p.MaxAttempts)
			return nil
		}
		log.Printf("Health check %s attempt %d/%d: %s", url, attempt, p.MaxAttempts, detail)
	}

	return &TimeoutError{URL: url, Attempts: p.MaxAttempts}
}

// check performs a single GET and reports whether the response counts as
// healthy, with a short detail string for the log line.
func (p *Poller) check(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Not up yet: refused, reset, or timed out.
		return false, err.Error()
	}
	defer resp.Body.Close()

	if p.ExpectedStatuses[resp.StatusCode] {
		return true, resp.Status
	}
	return false, fmt.Sprintf("unexpected status %s", resp.Status)
}
