package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyScrape is returned by a scraper that found nothing on purpose
	ErrEmptyScrape = errors.New("empty scrape")

	// ErrSkip is yielded by a scraper that declined one record
	ErrSkip = errors.New("skip record")
)

// TransportError is a connection-level failure (reset, timeout, DNS).
// It is the only error kind the fetcher retries.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a well-formed response with a non-2xx status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, e.Status)
}

// ScrapeError means a scraper produced nothing without declaring it
// intentional, or produced objects and then declared itself empty
type ScrapeError struct {
	Scraper      string
	ExpectedNone bool
}

func (e *ScrapeError) Error() string {
	if e.ExpectedNone {
		return fmt.Sprintf("objects returned from %s scrape, expected none", e.Scraper)
	}
	return fmt.Sprintf("no objects returned from %s scrape", e.Scraper)
}

// SessionError is a session reconciliation failure
type SessionError struct {
	Jurisdiction string
	Unaccounted  []string
	Reason       string
}

func (e *SessionError) Error() string {
	if len(e.Unaccounted) > 0 {
		return fmt.Sprintf("session(s) %s were reported by %s but were not found in its declared or ignored sessions",
			strings.Join(e.Unaccounted, ", "), e.Jurisdiction)
	}
	return fmt.Sprintf("%s: %s", e.Jurisdiction, e.Reason)
}
