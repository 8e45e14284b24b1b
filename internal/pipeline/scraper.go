package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Args are a scraper's keyword arguments
type Args map[string]string

// Env is what a scraper gets to work with
type Env struct {
	Fetcher      *Fetcher
	Jurisdiction *model.Jurisdiction
	Logger       *slog.Logger
}

// Scraper yields the entities of one invocation. Yielding ErrSkip declines a
// single record; yielding ErrEmptyScrape declares the result intentionally
// empty and ends the invocation. Any other error aborts it.
type Scraper interface {
	Scrape(ctx context.Context, env *Env, args Args) iter.Seq2[model.Entity, error]
}

// ScraperFunc adapts a function to Scraper
type ScraperFunc func(ctx context.Context, env *Env, args Args) iter.Seq2[model.Entity, error]

func (f ScraperFunc) Scrape(ctx context.Context, env *Env, args Args) iter.Seq2[model.Entity, error] {
	return f(ctx, env, args)
}

// SessionScraper is a Scraper that takes a "session" argument. Invoked
// without one, it runs once per active session.
type SessionScraper interface {
	Scraper
	RequiresSession() bool
}

type perSession struct{ ScraperFunc }

func (perSession) RequiresSession() bool { return true }

// BySession marks f as requiring a session argument
func BySession(f ScraperFunc) Scraper {
	return perSession{f}
}

func requiresSession(s Scraper) bool {
	ss, ok := s.(SessionScraper)
	return ok && ss.RequiresSession()
}

// Module describes one jurisdiction's extraction code
type Module struct {
	Name string

	// NewJurisdiction returns a fresh jurisdiction for each run
	NewJurisdiction func() *model.Jurisdiction

	Scrapers        map[string]Scraper
	DefaultScrapers []string

	// SessionList reports the sessions the remote site knows about
	SessionList func(ctx context.Context, env *Env) ([]string, error)

	// Overrides are merged over the run configuration
	Overrides model.Config
}

var (
	modulesMu sync.RWMutex
	modules   = map[string]*Module{}
)

// RegisterModule makes a module available by name
func RegisterModule(m *Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules[m.Name] = m
}

// LookupModule returns the module registered under name
func LookupModule(name string) (*Module, error) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	m, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q (available: %s)", name, strings.Join(moduleNamesLocked(), ", "))
	}
	return m, nil
}

// ModuleNames lists registered modules
func ModuleNames() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	return moduleNamesLocked()
}

func moduleNamesLocked() []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseScraperArgs parses "scraper [k=v ...] [scraper [k=v ...]]". With no
// arguments it selects the module's default scrapers, or all of them.
func ParseScraperArgs(m *Module, args []string) ([]model.ScraperPlan, error) {
	if len(m.Scrapers) == 0 {
		return nil, fmt.Errorf("no scrapers defined on module %s", m.Name)
	}

	if len(args) == 0 {
		names := m.DefaultScrapers
		if names == nil {
			names = make([]string, 0, len(m.Scrapers))
			for name := range m.Scrapers {
				names = append(names, name)
			}
			sort.Strings(names)
		}
		plans := make([]model.ScraperPlan, 0, len(names))
		for _, name := range names {
			plans = append(plans, model.ScraperPlan{Name: name, Args: map[string]string{}})
		}
		return plans, nil
	}

	var plans []model.ScraperPlan
	cur := -1
	for _, arg := range args {
		if k, v, ok := strings.Cut(arg, "="); ok {
			if cur < 0 {
				return nil, fmt.Errorf("argument %s before scraper name", arg)
			}
			plans[cur].Args[k] = v
			continue
		}
		if _, ok := m.Scrapers[arg]; !ok {
			return nil, fmt.Errorf("no such scraper: module=%s scraper=%s", m.Name, arg)
		}
		// naming a scraper again resets its arguments in place
		cur = slices.IndexFunc(plans, func(p model.ScraperPlan) bool { return p.Name == arg })
		if cur >= 0 {
			plans[cur].Args = map[string]string{}
			continue
		}
		plans = append(plans, model.ScraperPlan{Name: arg, Args: map[string]string{}})
		cur = len(plans) - 1
	}
	return plans, nil
}
