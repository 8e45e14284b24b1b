// Package metrics records run instrumentation as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds one registry of run metrics. Safe for concurrent runs.
type Metrics struct {
	registry *prometheus.Registry

	sessions            *prometheus.GaugeVec
	jurisdictionScrapes *prometheus.CounterVec
	sessionScrapes      *prometheus.CounterVec
	lastSessionScrape   *prometheus.GaugeVec
	nonSessionScrapes   *prometheus.CounterVec
	lastNonSession      *prometheus.GaugeVec
	lastCollectionRun   *prometheus.GaugeVec
	scrapeRuntime       *prometheus.GaugeVec
	objectsCollected    *prometheus.GaugeVec
	objectsImported     *prometheus.GaugeVec
	scraperFailures     *prometheus.CounterVec
}

// New creates and registers every metric on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_sessions",
			Help: "Sessions seen during reconciliation by type (active, unaccounted, ignored)",
		}, []string{"jurisdiction", "session_type"}),
		jurisdictionScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legiscrape_jurisdiction_scrapes_total",
			Help: "Jurisdiction scrapes completed",
		}, []string{"jurisdiction"}),
		sessionScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legiscrape_session_scrapes_total",
			Help: "Session-scoped scrapes completed",
		}, []string{"jurisdiction", "session"}),
		lastSessionScrape: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_last_session_scrape_timestamp_seconds",
			Help: "Unix time of the last session-scoped scrape",
		}, []string{"jurisdiction", "session"}),
		nonSessionScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legiscrape_non_session_scrapes_total",
			Help: "Scrapes run without a session",
		}, []string{"jurisdiction"}),
		lastNonSession: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_last_non_session_scrape_timestamp_seconds",
			Help: "Unix time of the last scrape run without a session",
		}, []string{"jurisdiction"}),
		lastCollectionRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_last_collection_run_timestamp_seconds",
			Help: "Unix time of the last completed scrape or import phase",
		}, []string{"jurisdiction", "scrape_type"}),
		scrapeRuntime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_scrape_runtime_seconds",
			Help: "Runtime of each scraper in the last run",
		}, []string{"jurisdiction", "scrape_type"}),
		objectsCollected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_objects_collected",
			Help: "Objects collected per scraper and kind in the last run",
		}, []string{"jurisdiction", "scrape_type", "object_type"}),
		objectsImported: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "legiscrape_objects_imported",
			Help: "Objects imported per kind and outcome in the last run",
		}, []string{"jurisdiction", "scrape_type", "import_type"}),
		scraperFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legiscrape_scraper_failures_total",
			Help: "Failed runs",
		}, []string{"jurisdiction", "scrapers"}),
	}

	m.registry.MustRegister(
		m.sessions, m.jurisdictionScrapes, m.sessionScrapes, m.lastSessionScrape,
		m.nonSessionScrapes, m.lastNonSession, m.lastCollectionRun, m.scrapeRuntime,
		m.objectsCollected, m.objectsImported, m.scraperFailures,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Sessions records reconciliation counts
func (m *Metrics) Sessions(jurisdiction string, active, unaccounted, ignored int) {
	m.sessions.WithLabelValues(jurisdiction, "active").Set(float64(active))
	m.sessions.WithLabelValues(jurisdiction, "unaccounted").Set(float64(unaccounted))
	m.sessions.WithLabelValues(jurisdiction, "ignored").Set(float64(ignored))
}

// JurisdictionScrape counts a completed jurisdiction scrape
func (m *Metrics) JurisdictionScrape(jurisdiction string) {
	m.jurisdictionScrapes.WithLabelValues(jurisdiction).Inc()
}

// SessionScrape counts a scrape; an empty session counts as non-session
func (m *Metrics) SessionScrape(jurisdiction, session string, at time.Time) {
	if session == "" {
		m.nonSessionScrapes.WithLabelValues(jurisdiction).Inc()
		m.lastNonSession.WithLabelValues(jurisdiction).Set(float64(at.Unix()))
		return
	}
	m.sessionScrapes.WithLabelValues(jurisdiction, session).Inc()
	m.lastSessionScrape.WithLabelValues(jurisdiction, session).Set(float64(at.Unix()))
}

// CollectionRun stamps the completion of a scrape or import phase
func (m *Metrics) CollectionRun(jurisdiction, phase string, at time.Time) {
	m.lastCollectionRun.WithLabelValues(jurisdiction, phase).Set(float64(at.Unix()))
}

// ScrapeRuntime records how long a scraper ran
func (m *Metrics) ScrapeRuntime(jurisdiction, scraper string, d time.Duration) {
	m.scrapeRuntime.WithLabelValues(jurisdiction, scraper).Set(d.Seconds())
}

// Collected records the objects a scraper produced of one kind
func (m *Metrics) Collected(jurisdiction, scraper, kind string, n int) {
	m.objectsCollected.WithLabelValues(jurisdiction, scraper, kind).Set(float64(n))
}

// Imported records one import outcome count
func (m *Metrics) Imported(jurisdiction, kind, outcome string, n int) {
	m.objectsImported.WithLabelValues(jurisdiction, kind, outcome).Set(float64(n))
}

// Failure counts a failed run
func (m *Metrics) Failure(jurisdiction, scrapers string) {
	m.scraperFailures.WithLabelValues(jurisdiction, scrapers).Inc()
}

// Push sends the registry to a Pushgateway, grouped by instance. The
// collectors already carry a jurisdiction label, so it cannot be a grouping key.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	err := push.New(url, job).
		Gatherer(m.registry).
		Grouping("instance", instance).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
