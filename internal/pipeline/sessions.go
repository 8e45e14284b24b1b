package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/ppiankov/legiscrape/internal/model"
)

// SessionSet is the outcome of session reconciliation
type SessionSet struct {
	// Active sessions are scraped by session-scoped scrapers
	Active []string
	// Unaccounted remote names matched a declared identifier but no declared
	// remote name; tolerated
	Unaccounted []string
	Ignored     []string
}

// ReconcileSessions checks every remotely reported session against the
// jurisdiction's declared and ignored sessions. Active sessions are those
// marked active, plus the backfill list ("all" activates every session).
func ReconcileSessions(j *model.Jurisdiction, remote, backfill []string) (*SessionSet, error) {
	name := j.MetadataKey
	if len(remote) == 0 {
		return nil, &SessionError{Jurisdiction: name, Reason: "no sessions from session list"}
	}

	known := make(map[string]bool)
	identifiers := make(map[string]bool)
	for _, s := range j.IgnoredScrapedSessions {
		known[s] = true
		identifiers[s] = true
	}

	all := slices.Contains(backfill, "all")
	active := make(map[string]bool)
	for _, s := range j.LegislativeSessions {
		known[s.RemoteName()] = true
		identifiers[s.Identifier] = true
		if s.Active || all {
			active[s.Identifier] = true
		}
	}
	for _, s := range backfill {
		if s != "all" {
			active[s] = true
		}
	}
	if len(active) == 0 {
		return nil, &SessionError{Jurisdiction: name, Reason: "no active sessions"}
	}

	var unaccounted, unknown []string
	for _, s := range dedupe(remote) {
		if known[s] {
			continue
		}
		unaccounted = append(unaccounted, s)
		if !identifiers[s] {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		return nil, &SessionError{Jurisdiction: name, Unaccounted: unaccounted}
	}

	set := &SessionSet{
		Unaccounted: unaccounted,
		Ignored:     slices.Clone(j.IgnoredScrapedSessions),
	}
	for s := range active {
		set.Active = append(set.Active, s)
	}
	sort.Strings(set.Active)
	return set, nil
}

func dedupe(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

type remoteSession struct {
	SessionName string `json:"session_name"`
}

// FetchSessionList reads [{"session_name": ...}] from
// {base}/sessions/query?state_name={jurisdiction}
func FetchSessionList(ctx context.Context, f *Fetcher, base, jurisdiction string) ([]string, error) {
	u := strings.TrimRight(base, "/") + "/sessions/query?" + url.Values{"state_name": {jurisdiction}}.Encode()
	resp, err := f.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch session list: %w", err)
	}

	var sessions []remoteSession
	if err := json.Unmarshal(resp.Body, &sessions); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.SessionName != "" {
			names = append(names, s.SessionName)
		}
	}
	return names, nil
}

// RemoteSessions asks the module for its remote sessions, falling back to the
// jurisdiction's session endpoint
func RemoteSessions(ctx context.Context, m *Module, env *Env) ([]string, error) {
	if m.SessionList != nil {
		return m.SessionList(ctx, env)
	}
	j := env.Jurisdiction
	if j.SessionsURL == "" {
		return nil, fmt.Errorf("module %s provides no session list", m.Name)
	}
	return FetchSessionList(ctx, env.Fetcher, j.SessionsURL, j.Name())
}
