package pipeline

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/output"
	"github.com/ppiankov/legiscrape/internal/store"
)

// sessionBills yields one bill per invocation, numbered by session
func sessionBills(calls *[]string) ScraperFunc {
	return func(_ context.Context, _ *Env, args Args) iter.Seq2[model.Entity, error] {
		*calls = append(*calls, args["session"])
		return func(yield func(model.Entity, error) bool) {
			b := model.NewBill("H 1", args["session"], "An Act relative to testing")
			b.AddSource("https://malegislature.gov/Bills/"+args["session"]+"/H1", "")
			yield(b, nil)
		}
	}
}

type updaterFixture struct {
	cfg     model.Config
	module  *Module
	reports *store.FileStore
	out     *bytes.Buffer
	calls   []string
}

func newUpdaterFixture(t *testing.T) *updaterFixture {
	t.Helper()
	cfg := testConfig()
	cfg.Output.DataDir = t.TempDir()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	cfg.Scrape.Actions = []string{ActionScrape, ActionImport}

	f := &updaterFixture{
		cfg:     cfg,
		reports: store.NewFileStore(t.TempDir()),
		out:     &bytes.Buffer{},
	}
	f.module = &Module{
		Name: "ma",
		NewJurisdiction: func() *model.Jurisdiction {
			return model.NewJurisdiction("ma",
				model.LegislativeSession{Identifier: "192nd"},
				model.LegislativeSession{Identifier: "193rd", Active: true},
			)
		},
		Scrapers: map[string]Scraper{
			"bills": BySession(sessionBills(&f.calls)),
		},
		SessionList: func(context.Context, *Env) ([]string, error) {
			return []string{"192nd", "193rd"}, nil
		},
	}
	return f
}

func (f *updaterFixture) updater(opts ...UpdaterOption) *Updater {
	base := []UpdaterOption{
		WithReportStore(f.reports),
		WithReportWriter(f.out),
		WithImporter(ImporterFunc(func(context.Context, *model.Jurisdiction, string) (model.ImportReport, error) {
			return model.ImportReport{model.KindBill: {Insert: 1}}, nil
		})),
	}
	return NewUpdater(f.cfg, f.module, append(base, opts...)...)
}

func TestUpdater_Run(t *testing.T) {
	f := newUpdaterFixture(t)
	u := f.updater()

	report, err := u.Run(context.Background(), []model.ScraperPlan{{Name: "bills", Args: map[string]string{}}})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, []string{"193rd"}, f.calls)
	assert.Equal(t, 1, report.Scrape["bills"].Objects[model.KindBill])
	assert.Equal(t, 1, report.Scrape["jurisdiction"].Objects[model.KindJurisdiction])
	assert.Equal(t, 3, report.Scrape["jurisdiction"].Objects[model.KindOrganization])
	assert.Equal(t, 1, report.Import[model.KindBill].Insert)
	assert.False(t, report.End.Before(report.Start))

	files, err := filepath.Glob(filepath.Join(f.cfg.Output.DataDir, "ma", "bill_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	saved, err := f.reports.Recent(context.Background(), report.Plan.Jurisdiction, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Success)

	assert.Contains(t, f.out.String(), "bills")
	n, err := testutil.GatherAndCount(u.Metrics().Registry(), "legiscrape_jurisdiction_scrapes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdater_BackfillFansOutPerSession(t *testing.T) {
	f := newUpdaterFixture(t)
	f.cfg.Scrape.Backfill = []string{"192nd"}

	report, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"192nd", "193rd"}, f.calls)
	// each session yields its own bill
	assert.Equal(t, 2, report.Scrape["bills"].Objects[model.KindBill])
}

func TestUpdater_ExplicitSessionSkipsFanOut(t *testing.T) {
	f := newUpdaterFixture(t)

	_, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills", Args: map[string]string{"session": "192nd"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"192nd"}, f.calls)
}

func TestUpdater_ScrapeOnlyDoesNotPersistReport(t *testing.T) {
	f := newUpdaterFixture(t)
	f.cfg.Scrape.Actions = []string{ActionScrape}

	report, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	require.NoError(t, err)
	assert.Nil(t, report.Import)

	saved, err := f.reports.Recent(context.Background(), report.Plan.Jurisdiction, 0)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestUpdater_SessionReconciliationFailsBeforeScraping(t *testing.T) {
	f := newUpdaterFixture(t)
	f.module.SessionList = func(context.Context, *Env) ([]string, error) {
		return []string{"192nd", "193rd", "194th"}, nil
	}

	report, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"194th"}, se.Unaccounted)
	assert.Empty(t, f.calls)
	assert.False(t, report.Success)
}

func TestUpdater_FailureRecordedAndPersisted(t *testing.T) {
	f := newUpdaterFixture(t)
	boom := errors.New("upstream changed its markup")
	f.module.Scrapers["bills"] = BySession(yielding(boom))
	u := f.updater()

	report, err := u.Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	require.ErrorIs(t, err, boom)

	assert.False(t, report.Success)
	assert.Contains(t, report.Exception, "upstream changed its markup")
	assert.Contains(t, report.Traceback, "upstream changed its markup")

	saved, err := f.reports.Recent(context.Background(), report.Plan.Jurisdiction, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.False(t, saved[0].Success)
	assert.NotEmpty(t, saved[0].Exception)
}

func TestUpdater_PanicBecomesFailure(t *testing.T) {
	f := newUpdaterFixture(t)
	f.module.Scrapers["bills"] = BySession(func(context.Context, *Env, Args) iter.Seq2[model.Entity, error] {
		panic("index out of range")
	})

	report, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, report.Exception, "index out of range")
	assert.Contains(t, report.Traceback, "goroutine")
}

func TestUpdater_ImportWithoutImporter(t *testing.T) {
	f := newUpdaterFixture(t)

	_, err := NewUpdater(f.cfg, f.module, WithReportStore(f.reports), WithReportWriter(f.out)).
		Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	assert.ErrorContains(t, err, "no importer")
}

func TestUpdater_ModuleOverrides(t *testing.T) {
	f := newUpdaterFixture(t)
	f.module.Overrides = model.Config{Output: model.OutputConfig{DataDir: t.TempDir()}}

	_, err := f.updater().Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(f.module.Overrides.Output.DataDir, "ma", "bill_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestUpdater_HandlerReceivesEverything(t *testing.T) {
	f := newUpdaterFixture(t)
	var kinds []model.Kind
	h := output.HandlerFunc(func(_ context.Context, e model.Entity) error {
		kinds = append(kinds, e.Kind())
		return nil
	})

	_, err := f.updater(WithOutputHandler(h)).Run(context.Background(), []model.ScraperPlan{{Name: "bills"}})
	require.NoError(t, err)
	assert.Equal(t, []model.Kind{
		model.KindJurisdiction, model.KindOrganization, model.KindOrganization, model.KindOrganization, model.KindBill,
	}, kinds)

	files, err := filepath.Glob(filepath.Join(f.cfg.Output.DataDir, "ma", "*.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestTraceback(t *testing.T) {
	inner := errors.New("connection reset")
	err := &ScrapeError{Scraper: "bills"}
	wrapped := errors.Join(inner)

	assert.Contains(t, traceback(wrapped), "connection reset")
	assert.Contains(t, traceback(err), "no objects returned from bills scrape")
}
