// Package ma collects bills from the Massachusetts General Court
package ma

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/legiscrape/internal/extract"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
)

// baseURL is the legislature's site (replaced in tests)
var baseURL = "https://malegislature.gov"

// Module is the registered Massachusetts module
var Module = &pipeline.Module{
	Name:            "ma",
	NewJurisdiction: newJurisdiction,
	Scrapers: map[string]pipeline.Scraper{
		"bills": pipeline.BySession(scrapeBills),
	},
	DefaultScrapers: []string{"bills"},
	SessionList:     sessionList,
}

func init() {
	pipeline.RegisterModule(Module)
}

func newJurisdiction() *model.Jurisdiction {
	j := model.NewJurisdiction("ma",
		model.LegislativeSession{
			Identifier:     "192nd",
			Name:           "192nd Legislature (2021-2022)",
			Classification: "primary",
			StartDate:      "2021-01-06",
			EndDate:        "2023-01-03",
		},
		model.LegislativeSession{
			Identifier:     "193rd",
			Name:           "193rd Legislature (2023-2024)",
			Classification: "primary",
			StartDate:      "2023-01-04",
			EndDate:        "2025-01-07",
		},
		model.LegislativeSession{
			Identifier:     "194th",
			Name:           "194th Legislature (2025-2026)",
			Classification: "primary",
			StartDate:      "2025-01-01",
			EndDate:        "2027-01-05",
			Active:         true,
		},
	)
	j.IgnoredScrapedSessions = []string{
		"191st", "190th", "189th", "188th", "187th", "186th",
	}
	return j
}

// sessionList reads the general court selector of the bill search page
func sessionList(ctx context.Context, env *pipeline.Env) ([]string, error) {
	u := baseURL + "/Bills/Search"
	resp, err := env.Fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch session list: %w", err)
	}
	page, err := extract.Parse(resp.Body, u)
	if err != nil {
		return nil, err
	}

	var sessions []string
	page.Find("select#GeneralCourt option").Each(func(_ int, opt *goquery.Selection) {
		if name := strings.TrimSpace(opt.AttrOr("value", "")); name != "" {
			sessions = append(sessions, name)
		}
	})
	return sessions, nil
}
