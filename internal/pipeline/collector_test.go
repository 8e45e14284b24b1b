package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/dedup"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/output"
)

// yielding returns a scraper that yields each item in order; an item is
// either an entity or an error
func yielding(items ...any) ScraperFunc {
	return func(context.Context, *Env, Args) iter.Seq2[model.Entity, error] {
		return func(yield func(model.Entity, error) bool) {
			for _, item := range items {
				var ok bool
				switch v := item.(type) {
				case model.Entity:
					ok = yield(v, nil)
				case error:
					ok = yield(nil, v)
				}
				if !ok {
					return
				}
			}
		}
	}
}

func newBill(identifier string) *model.Bill {
	b := model.NewBill(identifier, "193rd", "An Act relative to testing")
	b.AddSource("https://malegislature.gov/Bills/193/"+identifier, "")
	return b
}

type collectorFixture struct {
	juris   *model.Jurisdiction
	dataDir string
	env     *Env
}

func newCollectorFixture(t *testing.T) *collectorFixture {
	t.Helper()
	j := model.NewJurisdiction("ma", model.LegislativeSession{Identifier: "193rd", Active: true})
	return &collectorFixture{
		juris:   j,
		dataDir: t.TempDir(),
		env:     &Env{Jurisdiction: j},
	}
}

func (f *collectorFixture) collector(t *testing.T, cfg model.Config, strict bool, dd *dedup.Cache) *Collector {
	t.Helper()
	router, err := output.NewRouter(cfg, f.juris, f.dataDir)
	require.NoError(t, err)
	return NewCollector(CollectorConfig{
		Jurisdiction: f.juris,
		Router:       router,
		Dedup:        dd,
		Strict:       strict,
	})
}

func (f *collectorFixture) files(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.dataDir, "*.json"))
	require.NoError(t, err)
	return matches
}

func TestCollector_OneBillOneLocalFile(t *testing.T) {
	f := newCollectorFixture(t)
	bill := newBill("H 1")

	report, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills", yielding(bill), f.env, Args{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Objects[model.KindBill])
	assert.Equal(t, 1, report.Total())
	files := f.files(t)
	require.Len(t, files, 1)
	assert.Equal(t, "bill_"+bill.ID()+".json", filepath.Base(files[0]))

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "H 1", written["identifier"])
	assert.NotEmpty(t, written["scraped_at"])
}

func TestCollector_CountsSkipped(t *testing.T) {
	f := newCollectorFixture(t)

	report, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills",
		yielding(ErrSkip, newBill("H 1"), ErrSkip), f.env, Args{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Objects[model.KindBill])
}

func TestCollector_EmptyResultFails(t *testing.T) {
	f := newCollectorFixture(t)

	_, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills", yielding(), f.env, Args{})
	var se *ScrapeError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.ExpectedNone)
	assert.EqualError(t, err, "no objects returned from bills scrape")
}

func TestCollector_DeclaredEmpty(t *testing.T) {
	f := newCollectorFixture(t)
	c := f.collector(t, testConfig(), false, nil)

	report, err := c.Collect(context.Background(), "bills", yielding(ErrEmptyScrape), f.env, Args{})
	require.NoError(t, err)
	assert.Zero(t, report.Total())

	_, err = c.Collect(context.Background(), "bills", yielding(newBill("H 1"), ErrEmptyScrape), f.env, Args{})
	var se *ScrapeError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.ExpectedNone)
}

func TestCollector_ScraperErrorAborts(t *testing.T) {
	f := newCollectorFixture(t)
	boom := errors.New("boom")

	_, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills",
		yielding(newBill("H 1"), boom, newBill("H 2")), f.env, Args{})
	require.ErrorIs(t, err, boom)
	assert.Len(t, f.files(t), 1)
}

func TestCollector_StrictValidationKeepsWrittenFile(t *testing.T) {
	f := newCollectorFixture(t)
	invalid := newBill("")

	_, err := f.collector(t, testConfig(), true, nil).Collect(context.Background(), "bills", yielding(invalid), f.env, Args{})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, f.files(t), 1)
}

func TestCollector_LenientValidationContinues(t *testing.T) {
	f := newCollectorFixture(t)

	report, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills",
		yielding(newBill(""), newBill("H 2")), f.env, Args{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Objects[model.KindBill])
}

func TestCollector_SavesOwnedChildren(t *testing.T) {
	f := newCollectorFixture(t)
	bill := newBill("H 1")
	vote := model.NewVoteEvent("193rd", "passage", "pass")
	vote.BillIdentifier = "H 1"
	vote.AddSource("https://malegislature.gov/Bills/193/H1/Votes", "")
	bill.Own(vote)

	report, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills", yielding(bill), f.env, Args{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Objects[model.KindBill])
	assert.Equal(t, 1, report.Objects[model.KindVoteEvent])
	assert.Len(t, f.files(t), 2)
}

func TestCollector_SameOutputNameCountedOnce(t *testing.T) {
	f := newCollectorFixture(t)
	bill := newBill("H 1")

	report, err := f.collector(t, testConfig(), false, nil).Collect(context.Background(), "bills", yielding(bill, bill), f.env, Args{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Objects[model.KindBill])
}

type recordBackend map[string]dedup.Record

func (b recordBackend) Fetch(context.Context, string, string) (map[string]dedup.Record, error) {
	return b, nil
}

// indexed returns b's field map as the search index would hold it
func indexed(t *testing.T, j *model.Jurisdiction, b *model.Bill) dedup.Record {
	t.Helper()
	b.PreSave(j)
	fields, err := model.Fields(b)
	require.NoError(t, err)
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	var rec dedup.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestCollector_FastModeSkipsUnchanged(t *testing.T) {
	f := newCollectorFixture(t)
	backend := recordBackend{"H 1": indexed(t, f.juris, newBill("H 1"))}
	cfg := testConfig()
	cfg.Scrape.Fast = true

	c := f.collector(t, cfg, false, dedup.NewCache(backend, nil))
	report, err := c.Collect(context.Background(), "bills", yielding(newBill("H 1")), f.env, Args{})
	require.NoError(t, err)

	assert.Empty(t, report.Objects)
	assert.Equal(t, 1, report.Unchanged)
	assert.Empty(t, f.files(t))
}

func TestCollector_FastModePublishesChanged(t *testing.T) {
	f := newCollectorFixture(t)
	existing := newBill("H 1")
	existing.Title = "An older title"
	backend := recordBackend{"H 1": indexed(t, f.juris, existing)}
	cfg := testConfig()
	cfg.Scrape.Fast = true

	c := f.collector(t, cfg, false, dedup.NewCache(backend, nil))
	report, err := c.Collect(context.Background(), "bills", yielding(newBill("H 1"), newBill("H 2")), f.env, Args{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Objects[model.KindBill])
	assert.Zero(t, report.Unchanged)
	assert.Len(t, f.files(t), 2)
}
