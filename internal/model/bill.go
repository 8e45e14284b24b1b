package model

import "time"

// JurisdictionRef is the back-reference attached to collected records
type JurisdictionRef struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
	DivisionID     string `json:"division_id"`
}

// ScrapeMetadata stamps records with where and when they were collected
type ScrapeMetadata struct {
	Jurisdiction *JurisdictionRef `json:"jurisdiction,omitempty"`
	ScrapedAt    time.Time        `json:"scraped_at,omitzero"`
}

// AddScrapeMetadata fills the jurisdiction reference and collection time
func (m *ScrapeMetadata) AddScrapeMetadata(j *Jurisdiction) {
	if j != nil {
		ref := j.Ref()
		m.Jurisdiction = &ref
	}
	m.ScrapedAt = time.Now().UTC()
}

// Abstract is a summary of a bill
type Abstract struct {
	Abstract string `json:"abstract"`
	Note     string `json:"note"`
}

// Action is one step in a bill's history
type Action struct {
	Description    string   `json:"description"`
	Date           Date     `json:"date"`
	Organization   string   `json:"organization,omitempty"`
	Classification []string `json:"classification,omitempty"`
}

// Sponsorship credits a person or organization on a bill
type Sponsorship struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
	EntityType     string `json:"entity_type"`
	Primary        bool   `json:"primary"`
}

// Bill is a piece of legislation within one session
type Bill struct {
	Base
	SourceList
	LinkList
	ScrapeMetadata

	Identifier         string        `json:"identifier"`
	Title              string        `json:"title"`
	LegislativeSession string        `json:"legislative_session"`
	FromOrganization   string        `json:"from_organization,omitempty"`
	Classification     []string      `json:"classification,omitempty"`
	Subject            []string      `json:"subject,omitempty"`
	Abstracts          []Abstract    `json:"abstracts,omitempty"`
	Actions            []Action      `json:"actions,omitempty"`
	Sponsorships       []Sponsorship `json:"sponsorships,omitempty"`
	Versions           []LinkVersion `json:"versions,omitempty"`
	Documents          []LinkVersion `json:"documents,omitempty"`
}

// NewBill creates a bill with a fresh identifier
func NewBill(identifier, session, title string) *Bill {
	return &Bill{
		Base:               newBase(),
		Identifier:         identifier,
		LegislativeSession: session,
		Title:              title,
	}
}

func (b *Bill) Kind() Kind       { return KindBill }
func (b *Bill) Schema() *Schema  { return SchemaFor(KindBill) }
func (b *Bill) Session() string  { return b.LegislativeSession }
func (b *Bill) NaturalID() string { return b.Identifier }

// PreSave stamps the bill with scrape metadata
func (b *Bill) PreSave(j *Jurisdiction) {
	b.AddScrapeMetadata(j)
}

func (b *Bill) String() string {
	return b.LegislativeSession + " " + b.Identifier
}

// AddAbstract appends a summary
func (b *Bill) AddAbstract(abstract, note string) {
	b.Abstracts = append(b.Abstracts, Abstract{Abstract: abstract, Note: note})
}

// AddAction appends a history entry
func (b *Bill) AddAction(description string, date Date, organization string, classification ...string) {
	b.Actions = append(b.Actions, Action{
		Description:    description,
		Date:           date,
		Organization:   organization,
		Classification: classification,
	})
}

// AddSponsorship credits a sponsor
func (b *Bill) AddSponsorship(name, classification, entityType string, primary bool) {
	b.Sponsorships = append(b.Sponsorships, Sponsorship{
		Name:           name,
		Classification: classification,
		EntityType:     entityType,
		Primary:        primary,
	})
}

// AddVersionLink records a text version of the bill
func (b *Bill) AddVersionLink(note, url, mediaType string, opts ...LinkOption) (*LinkVersion, error) {
	return AddAssociatedLink(&b.Versions, "versions", note, url, mediaType, opts...)
}

// AddDocumentLink records a supporting document
func (b *Bill) AddDocumentLink(note, url, mediaType string, opts ...LinkOption) (*LinkVersion, error) {
	return AddAssociatedLink(&b.Documents, "documents", note, url, mediaType, opts...)
}
