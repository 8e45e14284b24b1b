package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/model"
)

const maID = "ocd-jurisdiction/country:us/state:ma/government"

func report(start time.Time, success bool) *model.RunReport {
	r := model.NewRunReport(model.RunPlan{
		Module:  "ma",
		Actions: []string{"scrape", "import"},
		Scrapers: []model.ScraperPlan{
			{Name: "bills", Args: map[string]string{"session": "193rd"}},
		},
	}, start)
	r.End = start.Add(time.Minute)
	r.Success = success
	sr := model.NewScrapeReport(start)
	sr.Objects[model.KindBill] = 3
	r.Scrape["bills"] = sr
	r.Import = model.ImportReport{model.KindBill: {Insert: 2, Noop: 1}}
	return r
}

func exerciseStore(t *testing.T, s ReportStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := s.Recent(ctx, maID, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Save(ctx, maID, report(base, true)))
	require.NoError(t, s.Save(ctx, maID, report(base.Add(time.Hour), false)))
	require.NoError(t, s.Save(ctx, "ocd-jurisdiction/country:us/state:ny/government", report(base, true)))

	got, err = s.Recent(ctx, maID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Start.Equal(base.Add(time.Hour)))
	assert.False(t, got[0].Success)
	assert.True(t, got[1].Success)
	assert.Equal(t, 3, got[1].Scrape["bills"].Objects[model.KindBill])
	assert.Equal(t, 2, got[1].Import[model.KindBill].Insert)
	assert.Equal(t, "193rd", got[1].Plan.Scrapers[0].Args["session"])

	got, err = s.Recent(ctx, maID, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	exerciseStore(t, s)

	entries, err := os.ReadDir(filepath.Join(dir, "country-us_state-ma_government"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLStore_SQLite(t *testing.T) {
	s, err := OpenSQL(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestSQLStore_DuplicateStart(t *testing.T) {
	s, err := OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(context.Background(), maID, report(start, true)))
	assert.Error(t, s.Save(context.Background(), maID, report(start, true)))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, model.ReportsConfig{Driver: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, model.ReportsConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, model.ReportsConfig{Driver: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, model.ReportsConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "country-us_state-ma_government", sanitize(maID))
	assert.Equal(t, "unknown", sanitize(""))
	assert.NotContains(t, sanitize("../../etc"), "..")
}
