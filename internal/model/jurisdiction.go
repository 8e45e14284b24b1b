package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ppiankov/legiscrape/internal/metadata"
)

// LegislativeSession is one declared session of a jurisdiction
type LegislativeSession struct {
	Identifier     string `json:"identifier" yaml:"identifier"`
	Name           string `json:"name" yaml:"name"`
	Classification string `json:"classification,omitempty" yaml:"classification"`
	StartDate      string `json:"start_date,omitempty" yaml:"start_date"`
	EndDate        string `json:"end_date,omitempty" yaml:"end_date"`
	Active         bool   `json:"active,omitempty" yaml:"active"`

	// ScrapedName is the label the remote session list uses, when it
	// differs from Identifier
	ScrapedName string `json:"-" yaml:"scraped_name"`
}

// RemoteName is the label expected in the remote session list
func (s LegislativeSession) RemoteName() string {
	if s.ScrapedName != "" {
		return s.ScrapedName
	}
	return s.Identifier
}

// Jurisdiction is the legislative body a run collects from. Its descriptive
// fields come from reference metadata, looked up on first use.
type Jurisdiction struct {
	Base

	// MetadataKey selects the reference record (name or abbreviation)
	MetadataKey string

	LegislativeSessions    []LegislativeSession
	IgnoredScrapedSessions []string

	// SessionsURL is the base of the remote session-list endpoint
	SessionsURL string

	once    sync.Once
	meta    *metadata.State
	metaErr error
}

// NewJurisdiction creates a jurisdiction backed by the metadata record for key
func NewJurisdiction(key string, sessions ...LegislativeSession) *Jurisdiction {
	return &Jurisdiction{
		Base:                newBase(),
		MetadataKey:         key,
		LegislativeSessions: sessions,
	}
}

// Metadata returns the cached reference record
func (j *Jurisdiction) Metadata() (*metadata.State, error) {
	j.once.Do(func() {
		j.meta, j.metaErr = metadata.Lookup(j.MetadataKey)
		if j.metaErr != nil {
			j.metaErr = fmt.Errorf("jurisdiction %s: %w", j.MetadataKey, j.metaErr)
		}
	})
	return j.meta, j.metaErr
}

func (j *Jurisdiction) mustMeta() *metadata.State {
	m, err := j.Metadata()
	if err != nil {
		return &metadata.State{}
	}
	return m
}

// ID is the jurisdiction identifier derived from the division identifier
func (j *Jurisdiction) ID() string {
	div := j.DivisionID()
	if div == "" {
		return ""
	}
	return strings.Replace(div, "ocd-division", "ocd-jurisdiction", 1) + "/government"
}

func (j *Jurisdiction) Kind() Kind      { return KindJurisdiction }
func (j *Jurisdiction) Schema() *Schema { return SchemaFor(KindJurisdiction) }

func (j *Jurisdiction) Name() string       { return j.mustMeta().Name }
func (j *Jurisdiction) URL() string        { return j.mustMeta().URL }
func (j *Jurisdiction) DivisionID() string { return j.mustMeta().DivisionID }
func (j *Jurisdiction) Abbr() string       { return strings.ToLower(j.mustMeta().Abbr) }

// Classification is "country" for national bodies and "state" otherwise
func (j *Jurisdiction) Classification() string {
	switch j.Name() {
	case "United States", "South Africa":
		return "country"
	}
	return "state"
}

// Ref is the back-reference stamped onto collected records
func (j *Jurisdiction) Ref() JurisdictionRef {
	return JurisdictionRef{
		ID:             j.ID(),
		Name:           j.Name(),
		Classification: j.Classification(),
		DivisionID:     j.DivisionID(),
	}
}

// Organizations yields the legislature and, unless unicameral, both chambers
func (j *Jurisdiction) Organizations() []*Organization {
	m := j.mustMeta()
	legislature := NewOrganization(m.LegislatureName, "legislature")
	orgs := []*Organization{legislature}
	if m.Unicameral || m.Upper == nil || m.Lower == nil {
		return orgs
	}

	upper := NewOrganization(m.Upper.Name, "upper")
	upper.ParentID = legislature.ID()
	lower := NewOrganization(m.Lower.Name, "lower")
	lower.ParentID = legislature.ID()

	return append(orgs, upper, lower)
}

// DeclaredSession returns the declared session with identifier id
func (j *Jurisdiction) DeclaredSession(id string) (LegislativeSession, bool) {
	for _, s := range j.LegislativeSessions {
		if s.Identifier == id {
			return s, true
		}
	}
	return LegislativeSession{}, false
}

func (j *Jurisdiction) String() string {
	return j.Name()
}

type jurisdictionJSON struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	URL                 string               `json:"url"`
	DivisionID          string               `json:"division_id"`
	Classification      string               `json:"classification"`
	LegislativeSessions []LegislativeSession `json:"legislative_sessions"`
	Extras              map[string]any       `json:"extras"`
}

func (j *Jurisdiction) MarshalJSON() ([]byte, error) {
	if _, err := j.Metadata(); err != nil {
		return nil, err
	}
	sessions := j.LegislativeSessions
	if sessions == nil {
		sessions = []LegislativeSession{}
	}
	extras := j.Extras
	if extras == nil {
		extras = map[string]any{}
	}
	return json.Marshal(jurisdictionJSON{
		ID:                  j.ID(),
		Name:                j.Name(),
		URL:                 j.URL(),
		DivisionID:          j.DivisionID(),
		Classification:      j.Classification(),
		LegislativeSessions: sessions,
		Extras:              extras,
	})
}
