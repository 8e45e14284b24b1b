package model

import "time"

// Location is where an event takes place
type Location struct {
	Name string `json:"name"`
	Note string `json:"note,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Event is a hearing, floor session or other scheduled meeting
type Event struct {
	Base
	SourceList
	LinkList
	ScrapeMetadata

	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartDate   time.Time     `json:"start_date,omitzero"`
	EndDate     time.Time     `json:"end_date,omitzero"`
	AllDay      bool          `json:"all_day,omitempty"`
	Status      string        `json:"status,omitempty"`
	Location    *Location     `json:"location,omitempty"`
	Media       []LinkVersion `json:"media,omitempty"`
	Documents   []LinkVersion `json:"documents,omitempty"`
}

// NewEvent creates an event with a fresh identifier
func NewEvent(name string, start time.Time) *Event {
	return &Event{
		Base:      newBase(),
		Name:      name,
		StartDate: start,
		Status:    "confirmed",
	}
}

func (e *Event) Kind() Kind      { return KindEvent }
func (e *Event) Schema() *Schema { return SchemaFor(KindEvent) }

// PreSave stamps the event with scrape metadata
func (e *Event) PreSave(j *Jurisdiction) {
	e.AddScrapeMetadata(j)
}

func (e *Event) String() string {
	return e.Name
}

// SetLocation sets the venue
func (e *Event) SetLocation(name, note, url string) {
	e.Location = &Location{Name: name, Note: note, URL: url}
}

// AddMediaLink records an audio or video link
func (e *Event) AddMediaLink(note, url, mediaType string, opts ...LinkOption) (*LinkVersion, error) {
	return AddAssociatedLink(&e.Media, "media", note, url, mediaType, opts...)
}

// AddDocument records a document presented at the event
func (e *Event) AddDocument(note, url, mediaType string, opts ...LinkOption) (*LinkVersion, error) {
	return AddAssociatedLink(&e.Documents, "documents", note, url, mediaType, opts...)
}
