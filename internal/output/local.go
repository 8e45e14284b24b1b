package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/legiscrape/internal/model"
)

// PrepareDir creates dir and, when clear is set, removes stale *.json files
// left by an earlier run
func PrepareDir(dir string, clear bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if !clear {
		return nil
	}
	stale, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list data dir: %w", err)
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear data dir: %w", err)
		}
	}
	return nil
}

// WriteLocal writes fields as dir/{kind}_{id}.json and returns the path
func WriteLocal(dir string, e model.Entity, fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	path := filepath.Join(dir, model.OutputName(e))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", e.Kind(), err)
	}
	return path, nil
}
