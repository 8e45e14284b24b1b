package dedup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Backend retrieves every published record in a (jurisdiction, session)
// scope, keyed by natural identifier
type Backend interface {
	Fetch(ctx context.Context, jurisdiction, session string) (map[string]Record, error)
}

// Verdict is the outcome of a dedup check
type Verdict int

const (
	// Missing means no published record exists; publish
	Missing Verdict = iota
	// Changed means the published record differs materially; publish
	Changed
	// Unchanged means publication can be skipped
	Unchanged
	// Unavailable means the backend failed; publish (fail open)
	Unavailable
)

func (v Verdict) String() string {
	switch v {
	case Missing:
		return "missing"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Publish reports whether the entity must be delivered
func (v Verdict) Publish() bool {
	return v != Unchanged
}

type scope struct {
	jurisdiction string
	session      string
}

// Cache holds one run's snapshot of published records. Each scope is loaded
// once, on its first lookup; failed loads are retried on the next lookup.
type Cache struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	scopes map[scope]map[string]Record
}

// NewCache creates a dedup cache over backend
func NewCache(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		logger:  logger,
		scopes:  make(map[scope]map[string]Record),
	}
}

// Check compares e against the published record with the same identifier
// in e's session
func (c *Cache) Check(ctx context.Context, jurisdiction string, e model.SessionScoped) Verdict {
	id := e.NaturalID()
	log := c.logger.With("jurisdiction", jurisdiction, "session", e.Session(), "identifier", id)

	records, err := c.snapshot(ctx, scope{jurisdiction: jurisdiction, session: e.Session()})
	if err != nil {
		log.Warn("dedup backend unavailable, publishing", "error", err)
		return Unavailable
	}

	existing, ok := records[id]
	if !ok {
		log.Info("record not found in index, saving")
		return Missing
	}

	fields, err := model.Fields(e)
	if err != nil {
		log.Warn("dedup comparison failed, publishing", "error", err)
		return Unavailable
	}

	if diff := Diff(fields, existing); len(diff) > 0 {
		log.Info("record changed, saving", "fields", diff)
		return Changed
	}
	log.Info("record unchanged, skipping save")
	return Unchanged
}

func (c *Cache) snapshot(ctx context.Context, s scope) (map[string]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if records, ok := c.scopes[s]; ok {
		return records, nil
	}

	records, err := c.backend.Fetch(ctx, s.jurisdiction, s.session)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = map[string]Record{}
	}
	c.scopes[s] = records
	return records, nil
}
