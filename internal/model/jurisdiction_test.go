package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/metadata"
)

func TestJurisdiction_DerivedFields(t *testing.T) {
	j := NewJurisdiction("Massachusetts", LegislativeSession{Identifier: "193rd", Name: "193rd General Court", Active: true})

	assert.Equal(t, "ocd-jurisdiction/country:us/state:ma/government", j.ID())
	assert.Equal(t, "Massachusetts", j.Name())
	assert.Equal(t, "state", j.Classification())
	assert.Equal(t, "ma", j.Abbr())

	orgs := j.Organizations()
	require.Len(t, orgs, 3)
	assert.Equal(t, "legislature", orgs[0].Classification)
	assert.Equal(t, orgs[0].ID(), orgs[1].ParentID)
	assert.Equal(t, orgs[0].ID(), orgs[2].ParentID)
}

func TestJurisdiction_UnicameralAndCountry(t *testing.T) {
	metadata.Register(&metadata.State{
		Name:            "South Africa",
		Abbr:            "ZA",
		DivisionID:      "ocd-division/country:za",
		URL:             "https://www.parliament.gov.za",
		Unicameral:      true,
		LegislatureName: "Parliament",
	})

	j := NewJurisdiction("ZA")
	assert.Equal(t, "country", j.Classification())
	assert.Equal(t, "ocd-jurisdiction/country:za/government", j.ID())
	assert.Len(t, j.Organizations(), 1)
}

func TestJurisdiction_ComputedFieldsReadOnly(t *testing.T) {
	j := NewJurisdiction("MA")
	assert.ErrorIs(t, Set(j, "name", "Other"), ErrReadOnlyField)
	assert.ErrorIs(t, Set(j, "bogus", "Other"), ErrUnknownField)
}

func TestJurisdiction_MarshalJSON(t *testing.T) {
	j := NewJurisdiction("MA", LegislativeSession{Identifier: "193rd", Name: "193rd", ScrapedName: "193rd General Court"})
	data, err := json.Marshal(j)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Massachusetts", out["name"])
	assert.Equal(t, "http://mass.gov", out["url"])
	require.Len(t, out["legislative_sessions"], 1)
	assert.NotContains(t, string(data), "scraped_name")

	_, err = json.Marshal(NewJurisdiction("Atlantis"))
	assert.Error(t, err)
}

func TestPreSave_StampsMetadata(t *testing.T) {
	j := NewJurisdiction("MA")
	b := NewBill("HB 1", "193rd", "An Act")
	before := time.Now().UTC()

	b.PreSave(j)

	require.NotNil(t, b.Jurisdiction)
	assert.Equal(t, j.ID(), b.Jurisdiction.ID)
	assert.False(t, b.ScrapedAt.Before(before))
}

func TestScrapeReport_Merge(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	a := NewScrapeReport(t0.Add(time.Hour))
	a.End = t0.Add(2 * time.Hour)
	a.Objects[KindBill] = 3
	a.Skipped = 1

	b := NewScrapeReport(t0)
	b.End = t0.Add(90 * time.Minute)
	b.Objects[KindBill] = 2
	b.Objects[KindVoteEvent] = 4
	b.Unchanged = 5

	a.Merge(b)
	assert.Equal(t, t0, a.Start)
	assert.Equal(t, t0.Add(2*time.Hour), a.End)
	assert.Equal(t, 5, a.Objects[KindBill])
	assert.Equal(t, 4, a.Objects[KindVoteEvent])
	assert.Equal(t, 1, a.Skipped)
	assert.Equal(t, 5, a.Unchanged)
	assert.Equal(t, 9, a.Total())

	var empty ScrapeReport
	empty.Merge(b)
	assert.Equal(t, t0, empty.Start)
}

func TestConfig_WithOverrides(t *testing.T) {
	base := DefaultConfig()

	var o Config
	o.Scrape.Fast = true
	o.Output.DataDir = "/tmp/out"
	o.Resilience.MaxRetries = 7

	merged, err := base.WithOverrides(o)
	require.NoError(t, err)
	assert.True(t, merged.FastMode())
	assert.Equal(t, "/tmp/out", merged.Output.DataDir)
	assert.Equal(t, 7, merged.Resilience.MaxRetries)
	assert.Equal(t, base.Resilience.Cooldown, merged.Resilience.Cooldown)

	// base is untouched
	assert.False(t, base.Scrape.Fast)
	assert.Equal(t, "_data", base.Output.DataDir)
}
