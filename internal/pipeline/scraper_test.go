package pipeline

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/model"
)

func noopScraper() Scraper {
	return ScraperFunc(func(context.Context, *Env, Args) iter.Seq2[model.Entity, error] {
		return func(func(model.Entity, error) bool) {}
	})
}

func argsModule() *Module {
	return &Module{
		Name: "ma",
		Scrapers: map[string]Scraper{
			"bills":  noopScraper(),
			"events": noopScraper(),
			"votes":  noopScraper(),
		},
	}
}

func TestParseScraperArgs_Defaults(t *testing.T) {
	m := argsModule()

	plans, err := ParseScraperArgs(m, nil)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "bills", plans[0].Name)
	assert.Equal(t, "votes", plans[2].Name)

	m.DefaultScrapers = []string{"events"}
	plans, err = ParseScraperArgs(m, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ScraperPlan{{Name: "events", Args: map[string]string{}}}, plans)
}

func TestParseScraperArgs_Arguments(t *testing.T) {
	plans, err := ParseScraperArgs(argsModule(), []string{"bills", "session=193rd", "chamber=upper", "events", "bills", "session=192nd"})
	require.NoError(t, err)
	assert.Equal(t, []model.ScraperPlan{
		{Name: "bills", Args: map[string]string{"session": "192nd"}},
		{Name: "events", Args: map[string]string{}},
	}, plans)
}

func TestParseScraperArgs_Errors(t *testing.T) {
	_, err := ParseScraperArgs(argsModule(), []string{"session=193rd"})
	assert.ErrorContains(t, err, "before scraper name")

	_, err = ParseScraperArgs(argsModule(), []string{"people"})
	assert.ErrorContains(t, err, "no such scraper")

	_, err = ParseScraperArgs(&Module{Name: "empty"}, nil)
	assert.Error(t, err)
}

func TestBySession(t *testing.T) {
	assert.True(t, requiresSession(BySession(noopScraper().(ScraperFunc))))
	assert.False(t, requiresSession(noopScraper()))
}

func TestModuleRegistry(t *testing.T) {
	RegisterModule(&Module{Name: "zz-test"})
	m, err := LookupModule("zz-test")
	require.NoError(t, err)
	assert.Equal(t, "zz-test", m.Name)
	assert.Contains(t, ModuleNames(), "zz-test")

	_, err = LookupModule("nowhere")
	assert.ErrorContains(t, err, "unknown module")
}
