package model

import "time"

// ScrapeReport summarises one scraper invocation
type ScrapeReport struct {
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Skipped   int          `json:"skipped"`   // Records the scraper declined
	Unchanged int          `json:"unchanged"` // Records skipped by the dedup check
	Objects   map[Kind]int `json:"objects"`   // Distinct output names per kind
}

// NewScrapeReport starts a report at start
func NewScrapeReport(start time.Time) *ScrapeReport {
	return &ScrapeReport{Start: start, Objects: make(map[Kind]int)}
}

// Total returns the number of objects produced across kinds
func (r *ScrapeReport) Total() int {
	n := 0
	for _, c := range r.Objects {
		n += c
	}
	return n
}

// Merge folds other into r: earliest start, latest end, summed counts
func (r *ScrapeReport) Merge(other *ScrapeReport) {
	if other == nil {
		return
	}
	if r.Objects == nil {
		r.Objects = make(map[Kind]int)
	}
	if r.Start.IsZero() || (!other.Start.IsZero() && other.Start.Before(r.Start)) {
		r.Start = other.Start
	}
	if other.End.After(r.End) {
		r.End = other.End
	}
	r.Skipped += other.Skipped
	r.Unchanged += other.Unchanged
	for kind, n := range other.Objects {
		r.Objects[kind] += n
	}
}

// ImportCount tallies import outcomes for one kind
type ImportCount struct {
	Insert int `json:"insert"`
	Update int `json:"update"`
	Noop   int `json:"noop"`
}

// ImportReport maps kinds to their import outcome counts
type ImportReport map[Kind]ImportCount

// ScraperPlan is one named scraper with its arguments
type ScraperPlan struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// RunPlan records what a run intends to do
type RunPlan struct {
	Module       string        `json:"module"`
	Jurisdiction string        `json:"jurisdiction"`
	Actions      []string      `json:"actions"`
	Scrapers     []ScraperPlan `json:"scrapers"`
}

// HasAction reports whether the plan includes the named phase
func (p RunPlan) HasAction(action string) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// RunReport is the persisted summary of one update run
type RunReport struct {
	Plan      RunPlan                  `json:"plan"`
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end"`
	Scrape    map[string]*ScrapeReport `json:"scrape,omitempty"`
	Import    ImportReport             `json:"import,omitempty"`
	Success   bool                     `json:"success"`
	Exception string                   `json:"exception,omitempty"`
	Traceback string                   `json:"traceback,omitempty"`
}

// NewRunReport starts a run report for plan
func NewRunReport(plan RunPlan, start time.Time) *RunReport {
	return &RunReport{
		Plan:   plan,
		Start:  start,
		Scrape: make(map[string]*ScrapeReport),
	}
}

// Objects sums collected object counts across scrapers
func (r *RunReport) Objects() map[Kind]int {
	out := make(map[Kind]int)
	for _, sr := range r.Scrape {
		for kind, n := range sr.Objects {
			out[kind] += n
		}
	}
	return out
}
