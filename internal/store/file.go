package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/legiscrape/internal/model"
)

const reportTimeLayout = "20060102T150405.000000000Z"

// FileStore writes one JSON document per run under dir/{jurisdiction}/
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed report store
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "_reports"
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) jurisdictionDir(id string) string {
	return filepath.Join(s.dir, sanitize(id))
}

// sanitize turns an identifier such as ocd-jurisdiction/country:us/state:ma
// into a single path segment
func sanitize(id string) string {
	id = strings.TrimPrefix(id, "ocd-jurisdiction/")
	r := strings.NewReplacer("/", "_", ":", "-", "\\", "_", "..", "_")
	if id = r.Replace(id); id == "" {
		return "unknown"
	}
	return id
}

// Save writes the report atomically through a temp file
func (s *FileStore) Save(_ context.Context, jurisdictionID string, r *model.RunReport) error {
	dir := s.jurisdictionDir(jurisdictionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close report: %w", err)
	}

	name := filepath.Join(dir, r.Start.UTC().Format(reportTimeLayout)+".json")
	if err := os.Rename(tmp.Name(), name); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// Recent reads the newest reports first; unreadable files are skipped
func (s *FileStore) Recent(_ context.Context, jurisdictionID string, limit int) ([]*model.RunReport, error) {
	entries, err := os.ReadDir(s.jurisdictionDir(jurisdictionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var out []*model.RunReport
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(s.jurisdictionDir(jurisdictionID), name))
		if err != nil {
			continue
		}
		var r model.RunReport
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }
