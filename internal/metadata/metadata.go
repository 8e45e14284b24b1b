package metadata

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// District is one seat-bearing division of a chamber
type District struct {
	Name       string `yaml:"name"`
	DivisionID string `yaml:"division_id"`
	NumSeats   int    `yaml:"num_seats"`
}

// Chamber describes one house of a legislature
type Chamber struct {
	ChamberType    string     `yaml:"chamber_type"`
	Name           string     `yaml:"name"`
	OrganizationID string     `yaml:"organization_id"`
	NumSeats       int        `yaml:"num_seats"`
	Title          string     `yaml:"title"`
	Districts      []District `yaml:"districts"`
}

// State is the static reference record for one jurisdiction
type State struct {
	Name                      string   `yaml:"name"`
	Abbr                      string   `yaml:"abbr"`
	Capital                   string   `yaml:"capital"`
	CapitalTZ                 string   `yaml:"capital_tz"`
	FIPS                      string   `yaml:"fips"`
	Unicameral                bool     `yaml:"unicameral"`
	LegislatureName           string   `yaml:"legislature_name"`
	LegislatureOrganizationID string   `yaml:"legislature_organization_id"`
	ExecutiveName             string   `yaml:"executive_name"`
	ExecutiveOrganizationID   string   `yaml:"executive_organization_id"`
	DivisionID                string   `yaml:"division_id"`
	JurisdictionID            string   `yaml:"jurisdiction_id"`
	URL                       string   `yaml:"url"`
	Lower                     *Chamber `yaml:"lower"`
	Upper                     *Chamber `yaml:"upper"`
	Legislature               *Chamber `yaml:"legislature"`
}

// Chambers returns the chambers that exist for the state
func (s *State) Chambers() []*Chamber {
	if s.Unicameral {
		return []*Chamber{s.Legislature}
	}
	return []*Chamber{s.Upper, s.Lower}
}

// LookupDistrict finds a district by chamber type and name
func (s *State) LookupDistrict(chamber, name string) (*District, bool) {
	for _, c := range s.Chambers() {
		if c == nil || c.ChamberType != chamber {
			continue
		}
		for i := range c.Districts {
			if c.Districts[i].Name == name {
				return &c.Districts[i], true
			}
		}
	}
	return nil, false
}

var (
	loadOnce sync.Once
	loadErr  error

	mu     sync.RWMutex
	states []*State
)

func load() {
	entries, err := dataFS.ReadDir("data")
	if err != nil {
		loadErr = fmt.Errorf("read metadata: %w", err)
		return
	}
	for _, entry := range entries {
		raw, err := dataFS.ReadFile(path.Join("data", entry.Name()))
		if err != nil {
			loadErr = fmt.Errorf("read %s: %w", entry.Name(), err)
			return
		}
		var s State
		if err := yaml.Unmarshal(raw, &s); err != nil {
			loadErr = fmt.Errorf("parse %s: %w", entry.Name(), err)
			return
		}
		states = append(states, &s)
	}
}

// Register adds a state record, replacing any with the same abbreviation
func Register(s *State) {
	loadOnce.Do(load)

	mu.Lock()
	defer mu.Unlock()
	for i, existing := range states {
		if strings.EqualFold(existing.Abbr, s.Abbr) {
			states[i] = s
			return
		}
	}
	states = append(states, s)
}

// Lookup finds a state by name, abbreviation, division id or jurisdiction id
func Lookup(key string) (*State, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}

	mu.RLock()
	defer mu.RUnlock()
	for _, s := range states {
		if strings.EqualFold(s.Name, key) || strings.EqualFold(s.Abbr, key) ||
			s.DivisionID == key || s.JurisdictionID == key {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no metadata for %q", key)
}
