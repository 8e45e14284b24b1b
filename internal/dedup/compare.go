package dedup

import (
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Record is a previously published record's field map
type Record map[string]any

// volatileFields never make a record materially different
var volatileFields = map[string]struct{}{
	"_id":          {},
	"jurisdiction": {},
	"scraped_at":   {},
}

// Normalize converts null-like values to "" and dates to 2006-01-02,
// recursively. Map entries that normalize to a blank value are dropped, so an
// absent field and an empty one compare equal.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if n := Normalize(val); !blank(n) {
				out[k] = n
			}
		}
		return out
	case Record:
		return Normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case time.Time:
		return t.Format("2006-01-02")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	case model.Date:
		return t.String()
	}
	return v
}

func blank(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// Diff returns the keys of either record whose normalized values differ,
// volatile fields excluded, sorted. A field cleared on the candidate counts.
func Diff(candidate, existing Record) []string {
	c := Normalize(map[string]any(candidate)).(map[string]any)
	e := Normalize(map[string]any(existing)).(map[string]any)

	seen := make(map[string]struct{}, len(c)+len(e))
	for key := range c {
		seen[key] = struct{}{}
	}
	for key := range e {
		seen[key] = struct{}{}
	}

	var keys []string
	for key := range seen {
		if _, skip := volatileFields[key]; skip {
			continue
		}
		val, inCandidate := c[key]
		other, inExisting := e[key]
		if inCandidate != inExisting || !cmp.Equal(val, other) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsChanged reports whether candidate differs materially from existing
func IsChanged(candidate, existing Record) bool {
	return len(Diff(candidate, existing)) > 0
}
