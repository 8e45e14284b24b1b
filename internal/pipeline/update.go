package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/legiscrape/internal/blob"
	"github.com/ppiankov/legiscrape/internal/dedup"
	"github.com/ppiankov/legiscrape/internal/metrics"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/output"
	"github.com/ppiankov/legiscrape/internal/store"
)

const (
	ActionScrape = "scrape"
	ActionImport = "import"
)

// updateNow is injectable for tests
var updateNow = time.Now

// Importer turns a run's validated files into durable records
type Importer interface {
	Import(ctx context.Context, j *model.Jurisdiction, dataDir string) (model.ImportReport, error)
}

// ImporterFunc adapts a function to Importer
type ImporterFunc func(ctx context.Context, j *model.Jurisdiction, dataDir string) (model.ImportReport, error)

func (f ImporterFunc) Import(ctx context.Context, j *model.Jurisdiction, dataDir string) (model.ImportReport, error) {
	return f(ctx, j, dataDir)
}

// Updater drives one module through a full run. Collaborators left unset are
// built from configuration when the run needs them.
type Updater struct {
	cfg    model.Config
	module *Module
	logger *slog.Logger
	out    io.Writer

	importer  Importer
	reports   store.ReportStore
	metrics   *metrics.Metrics
	backend   dedup.Backend
	blobs     blob.Store
	notifier  output.Notifier
	publisher output.Publisher
	handler   output.Handler

	fetcherOpts []FetcherOption
}

// UpdaterOption customises an Updater
type UpdaterOption func(*Updater)

// WithImporter sets the import collaborator
func WithImporter(i Importer) UpdaterOption {
	return func(u *Updater) { u.importer = i }
}

// WithReportStore sets where run reports are persisted
func WithReportStore(s store.ReportStore) UpdaterOption {
	return func(u *Updater) { u.reports = s }
}

// WithMetrics shares a metrics registry across runs
func WithMetrics(m *metrics.Metrics) UpdaterOption {
	return func(u *Updater) { u.metrics = m }
}

// WithDedupBackend replaces the search index used in fast mode
func WithDedupBackend(b dedup.Backend) UpdaterOption {
	return func(u *Updater) { u.backend = b }
}

// WithBlobStore replaces the configured blob store
func WithBlobStore(s blob.Store) UpdaterOption {
	return func(u *Updater) { u.blobs = s }
}

// WithNotifier replaces the realtime notification queue
func WithNotifier(n output.Notifier) UpdaterOption {
	return func(u *Updater) { u.notifier = n }
}

// WithBrokerPublisher replaces the NATS publisher
func WithBrokerPublisher(p output.Publisher) UpdaterOption {
	return func(u *Updater) { u.publisher = p }
}

// WithOutputHandler delegates all persistence to h
func WithOutputHandler(h output.Handler) UpdaterOption {
	return func(u *Updater) { u.handler = h }
}

// WithFetcherOptions passes options through to the run's fetcher
func WithFetcherOptions(opts ...FetcherOption) UpdaterOption {
	return func(u *Updater) { u.fetcherOpts = append(u.fetcherOpts, opts...) }
}

// WithRunLogger sets the logger
func WithRunLogger(l *slog.Logger) UpdaterOption {
	return func(u *Updater) { u.logger = l }
}

// WithReportWriter sets where the plan and final report are printed
func WithReportWriter(w io.Writer) UpdaterOption {
	return func(u *Updater) { u.out = w }
}

// NewUpdater creates an updater for module m
func NewUpdater(cfg model.Config, m *Module, opts ...UpdaterOption) *Updater {
	u := &Updater{
		cfg:    cfg,
		module: m,
		logger: slog.Default(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.metrics == nil {
		u.metrics = metrics.New()
	}
	return u
}

// Metrics returns the registry the updater records into
func (u *Updater) Metrics() *metrics.Metrics { return u.metrics }

// run holds the state of one invocation
type run struct {
	cfg     model.Config
	juris   *model.Jurisdiction
	env     *Env
	report  *model.RunReport
	dataDir string
	logger  *slog.Logger

	sessions *SessionSet
	closers  []func()
}

// Run executes plan's scrapers and, when requested, the import. A failed
// run still returns its report, with the error recorded in it.
func (u *Updater) Run(ctx context.Context, scrapers []model.ScraperPlan) (*model.RunReport, error) {
	cfg, err := u.cfg.WithOverrides(u.module.Overrides)
	if err != nil {
		return nil, err
	}

	j := u.module.NewJurisdiction()
	if _, err := j.Metadata(); err != nil {
		return nil, err
	}

	plan := model.RunPlan{
		Module:       u.module.Name,
		Jurisdiction: j.ID(),
		Actions:      cfg.Scrape.Actions,
		Scrapers:     scrapers,
	}
	RenderPlan(u.out, plan)

	ctx, span := tracer.Start(ctx, "update "+u.module.Name, trace.WithAttributes(
		attribute.String("jurisdiction", j.ID()),
		attribute.StringSlice("actions", plan.Actions),
	))
	defer span.End()

	r := &run{
		cfg:     cfg,
		juris:   j,
		report:  model.NewRunReport(plan, updateNow().UTC()),
		dataDir: filepath.Join(cfg.Output.DataDir, u.module.Name),
		logger:  u.logger.With("module", u.module.Name),
	}
	defer r.close()

	if err := u.execute(ctx, r); err != nil {
		u.metrics.Failure(j.Name(), strings.Join(plan.Actions, ","))
		r.report.End = updateNow().UTC()
		r.report.Success = false
		r.report.Exception = err.Error()
		r.report.Traceback = traceback(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if plan.HasAction(ActionImport) {
			u.saveReport(ctx, r)
		}
		return r.report, err
	}

	r.report.End = updateNow().UTC()
	r.report.Success = true
	if plan.HasAction(ActionImport) {
		u.saveReport(ctx, r)
	}
	RenderReport(u.out, r.report)
	u.pushMetrics(ctx, cfg, j)
	return r.report, nil
}

func (r *run) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// PanicError carries a recovered panic and the stack it unwound from
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// execute runs the phases, turning a panic into an error
func (u *Updater) execute(ctx context.Context, r *run) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	fetcher, err := NewFetcher(r.cfg, append([]FetcherOption{WithLogger(r.logger)}, u.fetcherOpts...)...)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	r.closers = append(r.closers, fetcher.Close)
	r.env = &Env{Fetcher: fetcher, Jurisdiction: r.juris, Logger: r.logger}

	plan := r.report.Plan
	if plan.HasAction(ActionScrape) {
		if err := u.reconcile(ctx, r); err != nil {
			return err
		}
		if err := u.scrape(ctx, r); err != nil {
			return err
		}
		u.metrics.CollectionRun(r.juris.Name(), ActionScrape, updateNow())
	}
	if plan.HasAction(ActionImport) {
		if err := u.doImport(ctx, r); err != nil {
			return err
		}
		u.metrics.CollectionRun(r.juris.Name(), ActionImport, updateNow())
	}
	return nil
}

func (u *Updater) needsSessions(plans []model.ScraperPlan) bool {
	for _, p := range plans {
		if s, ok := u.module.Scrapers[p.Name]; ok && requiresSession(s) && p.Args["session"] == "" {
			return true
		}
	}
	return false
}

// reconcile checks the remote session list against the declared sessions.
// A module without a session source skips the check unless one of its
// planned scrapers needs the active session list.
func (u *Updater) reconcile(ctx context.Context, r *run) error {
	if u.module.SessionList == nil && r.juris.SessionsURL == "" {
		if u.needsSessions(r.report.Plan.Scrapers) {
			return fmt.Errorf("module %s provides no session list", u.module.Name)
		}
		r.logger.Debug("no session list, skipping reconciliation")
		return nil
	}

	remote, err := RemoteSessions(ctx, u.module, r.env)
	if err != nil {
		return err
	}
	set, err := ReconcileSessions(r.juris, remote, r.cfg.Scrape.Backfill)
	if err != nil {
		return err
	}
	r.sessions = set
	u.metrics.Sessions(r.juris.Name(), len(set.Active), len(set.Unaccounted), len(set.Ignored))
	if len(set.Unaccounted) > 0 {
		r.logger.Warn("remote sessions matched only by identifier", "sessions", set.Unaccounted)
	}
	r.logger.Info("sessions reconciled", "active", set.Active)
	return nil
}

func (u *Updater) blobStore(ctx context.Context, cfg model.Config) (blob.Store, error) {
	if u.blobs != nil {
		return u.blobs, nil
	}
	s, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	u.blobs = s
	return s, nil
}

// newRouter builds the router and whichever sink collaborators the
// configuration selects
func (u *Updater) newRouter(ctx context.Context, r *run) (*output.Router, error) {
	cfg := r.cfg
	opts := []output.RouterOption{output.WithLogger(r.logger)}

	switch {
	case u.handler != nil:
		opts = append(opts, output.WithHandler(u.handler))
	case cfg.Scrape.Handler != "":
		// looked up by name in NewRouter
	case cfg.Broker.Enabled():
		p := u.publisher
		if p == nil {
			np, err := output.NewNATSPublisher(ctx, cfg.Broker)
			if err != nil {
				return nil, err
			}
			r.closers = append(r.closers, func() { _ = np.Close() })
			p = np
		}
		opts = append(opts, output.WithPublisher(p))
	case cfg.Realtime.Enabled:
		s, err := u.blobStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		n := u.notifier
		if n == nil {
			awsCfg, err := blob.LoadAWSConfig(ctx, cfg.Blob)
			if err != nil {
				return nil, err
			}
			n = output.NewSQSNotifier(awsCfg, cfg.Realtime.QueueURL, cfg.Realtime.QueueDelay)
		}
		batch := output.NewBatch(cfg.Realtime, r.dataDir, r.juris.ID(), s, r.logger)
		opts = append(opts, output.WithRealtime(s, n, batch))
	}

	return output.NewRouter(cfg, r.juris, r.dataDir, opts...)
}

// dedupCache returns the fast-mode dedup cache, or nil when dedup is off
func (u *Updater) dedupCache(r *run, router *output.Router) (*dedup.Cache, error) {
	if !r.cfg.FastMode() || router.Route() == output.RouteHandler {
		return nil, nil
	}
	backend := u.backend
	if backend == nil {
		if len(r.cfg.Dedup.Addresses) == 0 {
			r.logger.Warn("fast mode without a dedup index, every record will be published")
			return nil, nil
		}
		eb, err := dedup.NewElasticBackend(r.cfg.Dedup)
		if err != nil {
			return nil, err
		}
		backend = eb
	}
	return dedup.NewCache(backend, r.logger), nil
}

func (u *Updater) scrape(ctx context.Context, r *run) error {
	if err := output.PrepareDir(r.dataDir, r.cfg.Output.ClearDir); err != nil {
		return err
	}
	if r.cfg.FastMode() && r.cfg.Cache.Dir != "" {
		if err := os.MkdirAll(r.cfg.Cache.Dir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	router, err := u.newRouter(ctx, r)
	if err != nil {
		return err
	}
	dd, err := u.dedupCache(r, router)
	if err != nil {
		return err
	}
	collector := NewCollector(CollectorConfig{
		Jurisdiction: r.juris,
		Router:       router,
		Dedup:        dd,
		Strict:       r.cfg.Scrape.Strict,
		Logger:       r.logger,
	})

	name := r.juris.Name()
	jr, err := collector.Collect(ctx, "jurisdiction", jurisdictionScraper(), r.env, Args{})
	if err != nil {
		return err
	}
	r.report.Scrape["jurisdiction"] = jr
	u.metrics.JurisdictionScrape(name)

	for _, p := range r.report.Plan.Scrapers {
		s, ok := u.module.Scrapers[p.Name]
		if !ok {
			return fmt.Errorf("no such scraper: module=%s scraper=%s", u.module.Name, p.Name)
		}

		sr, err := u.runScraper(ctx, r, collector, p, s)
		if err != nil {
			return err
		}
		r.report.Scrape[p.Name] = sr
		router.Flush(ctx)

		u.metrics.ScrapeRuntime(name, p.Name, sr.End.Sub(sr.Start))
		for kind, n := range sr.Objects {
			u.metrics.Collected(name, p.Name, string(kind), n)
		}
		r.logger.Info("scraper finished", "scraper", p.Name, "objects", sr.Total(), "skipped", sr.Skipped, "unchanged", sr.Unchanged)
	}

	if r.cfg.Archive.Enabled {
		s, err := u.blobStore(ctx, r.cfg)
		if err != nil {
			r.logger.Warn("archive skipped", "error", err)
		} else {
			n := output.NewArchiver(s, r.cfg.Archive, r.logger).Archive(ctx, r.dataDir, r.juris.ID(), r.report.Start)
			r.logger.Info("archived run output", "files", n)
		}
	}
	return nil
}

// runScraper invokes s once, or once per active session when it needs a
// session and none was given, merging the partial reports
func (u *Updater) runScraper(ctx context.Context, r *run, c *Collector, p model.ScraperPlan, s Scraper) (*model.ScrapeReport, error) {
	args := Args(maps.Clone(p.Args))
	if args == nil {
		args = Args{}
	}
	name := r.juris.Name()

	if !requiresSession(s) || args["session"] != "" {
		sr, err := c.Collect(ctx, p.Name, s, r.env, args)
		if err != nil {
			return nil, err
		}
		u.metrics.SessionScrape(name, args["session"], updateNow())
		return sr, nil
	}

	if r.sessions == nil || len(r.sessions.Active) == 0 {
		return nil, &SessionError{Jurisdiction: r.juris.MetadataKey, Reason: "no active sessions for " + p.Name}
	}
	merged := &model.ScrapeReport{Objects: make(map[model.Kind]int)}
	for _, session := range r.sessions.Active {
		sessionArgs := maps.Clone(args)
		sessionArgs["session"] = session
		r.logger.Info("scraping session", "scraper", p.Name, "session", session)

		sr, err := c.Collect(ctx, p.Name, s, r.env, sessionArgs)
		if err != nil {
			return nil, err
		}
		merged.Merge(sr)
		u.metrics.SessionScrape(name, session, updateNow())
	}
	return merged, nil
}

// jurisdictionScraper yields the jurisdiction and its organizations
func jurisdictionScraper() Scraper {
	return ScraperFunc(func(_ context.Context, env *Env, _ Args) iter.Seq2[model.Entity, error] {
		return func(yield func(model.Entity, error) bool) {
			if !yield(env.Jurisdiction, nil) {
				return
			}
			for _, org := range env.Jurisdiction.Organizations() {
				if !yield(org, nil) {
					return
				}
			}
		}
	})
}

func (u *Updater) doImport(ctx context.Context, r *run) error {
	if u.importer == nil {
		return errors.New("import requested but no importer is configured")
	}
	ctx, span := tracer.Start(ctx, "import "+u.module.Name)
	defer span.End()

	ir, err := u.importer.Import(ctx, r.juris, r.dataDir)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("import: %w", err)
	}
	r.report.Import = ir

	name := r.juris.Name()
	for kind, c := range ir {
		u.metrics.Imported(name, string(kind), "insert", c.Insert)
		u.metrics.Imported(name, string(kind), "update", c.Update)
		u.metrics.Imported(name, string(kind), "noop", c.Noop)
	}
	return nil
}

// saveReport persists the report. Failures are logged only.
func (u *Updater) saveReport(ctx context.Context, r *run) {
	s := u.reports
	if s == nil {
		opened, err := store.Open(ctx, r.cfg.Reports)
		if err != nil {
			r.logger.Warn("report not saved", "error", err)
			return
		}
		defer func() { _ = opened.Close() }()
		s = opened
	}
	if err := s.Save(ctx, r.juris.ID(), r.report); err != nil {
		r.logger.Warn("report not saved", "error", err)
	}
}

func (u *Updater) pushMetrics(ctx context.Context, cfg model.Config, j *model.Jurisdiction) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := u.metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, j.Name()); err != nil {
		u.logger.Warn("metrics push failed", "error", err)
	}
}

// traceback renders the error chain, plus the stack for a recovered panic
func traceback(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		if pe, ok := err.(*PanicError); ok {
			b.Write(pe.Stack)
			break
		}
		err = errors.Unwrap(err)
	}
	return b.String()
}
