package model

import (
	"fmt"
	"log/slog"
)

// Link is a URL with a free-form note
type Link struct {
	URL  string `json:"url"`
	Note string `json:"note"`
}

// SourceList records the provenance URLs an entity was collected from
type SourceList struct {
	Sources []Link `json:"sources,omitempty"`
}

// AddSource appends a source URL. Duplicates are kept.
func (s *SourceList) AddSource(url, note string) {
	s.Sources = append(s.Sources, Link{URL: url, Note: note})
}

// LinkList holds related URLs
type LinkList struct {
	Links []Link `json:"links,omitempty"`
}

// AddLink appends a link
func (l *LinkList) AddLink(url, note string) {
	l.Links = append(l.Links, Link{URL: url, Note: note})
}

// MediaLink is one URL inside a link version
type MediaLink struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
}

// LinkVersion groups the URLs sharing a (note, date, classification) tuple
type LinkVersion struct {
	Note           string      `json:"note"`
	Date           string      `json:"date"`
	Classification string      `json:"classification"`
	Links          []MediaLink `json:"links"`
}

// DuplicatePolicy selects what happens when an associated link URL was seen before
type DuplicatePolicy int

const (
	// DuplicateWarn skips the URL and logs a warning
	DuplicateWarn DuplicatePolicy = iota
	// DuplicateError rejects the URL with ErrDuplicateLink
	DuplicateError
	// DuplicateIgnore skips the URL silently
	DuplicateIgnore
)

// LinkOption customises an associated link addition
type LinkOption func(*linkOptions)

type linkOptions struct {
	date           string
	classification string
	onDuplicate    DuplicatePolicy
}

// WithDate sets the version date
func WithDate(date string) LinkOption {
	return func(o *linkOptions) { o.date = date }
}

// WithClassification sets the version classification
func WithClassification(c string) LinkOption {
	return func(o *linkOptions) { o.classification = c }
}

// OnDuplicate sets the duplicate URL policy
func OnDuplicate(p DuplicatePolicy) LinkOption {
	return func(o *linkOptions) { o.onDuplicate = p }
}

// AddAssociatedLink adds url to the version bucket matching (note, date,
// classification) in collection, creating the bucket if none matches.
// Duplicate detection covers every URL in every bucket of the collection.
// It returns the bucket the URL landed in, or nil when a duplicate was skipped.
func AddAssociatedLink(collection *[]LinkVersion, name, note, url, mediaType string, opts ...LinkOption) (*LinkVersion, error) {
	o := linkOptions{onDuplicate: DuplicateWarn}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{})
	match := -1
	for i, item := range *collection {
		for _, link := range item.Links {
			seen[link.URL] = struct{}{}
		}
		if item.Note == note && item.Date == o.date && item.Classification == o.classification {
			if match != -1 {
				panic(fmt.Sprintf("multiple %s versions match note=%q date=%q classification=%q", name, note, o.date, o.classification))
			}
			match = i
		}
	}

	if _, dup := seen[url]; dup {
		switch o.onDuplicate {
		case DuplicateError:
			return nil, fmt.Errorf("%w in %q: %s", ErrDuplicateLink, name, url)
		case DuplicateWarn:
			slog.Warn("duplicate link skipped", "collection", name, "url", url)
		}
		return nil, nil
	}

	if match == -1 {
		*collection = append(*collection, LinkVersion{
			Note:           note,
			Date:           o.date,
			Classification: o.classification,
		})
		match = len(*collection) - 1
	}

	ver := &(*collection)[match]
	ver.Links = append(ver.Links, MediaLink{URL: url, MediaType: mediaType})
	return ver, nil
}
