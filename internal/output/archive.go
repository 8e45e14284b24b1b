package output

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/legiscrape/internal/blob"
	"github.com/ppiankov/legiscrape/internal/model"
)

// Archiver copies a run's local files to cold storage. Failures are logged
// and never returned.
type Archiver struct {
	store  blob.Store
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an archiver writing to cfg.Bucket
func NewArchiver(store blob.Store, cfg model.ArchiveConfig, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}
}

// Destination is the key prefix for one jurisdiction's run
func (a *Archiver) Destination(jurisdictionID string, start time.Time) string {
	id := strings.TrimPrefix(jurisdictionID, "ocd-jurisdiction/")
	return path.Join(a.prefix, id, start.UTC().Format("2006-01-02T15:04:05"))
}

// Archive uploads dataDir/*.json and returns how many files were copied
func (a *Archiver) Archive(ctx context.Context, dataDir, jurisdictionID string, start time.Time) int {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.json"))
	if err != nil {
		a.logger.Warn("archive skipped", "error", err)
		return 0
	}

	dest := a.Destination(jurisdictionID, start)
	a.logger.Info("archiving scraped files", "files", len(files), "bucket", a.bucket, "destination", dest)

	var copied int
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			a.logger.Warn("archive read failed", "file", f, "error", err)
			continue
		}
		key := path.Join(dest, filepath.Base(f))
		if err := a.store.Put(ctx, a.bucket, key, data, "application/json"); err != nil {
			a.logger.Warn("archive upload failed", "file", f, "error", err)
			continue
		}
		copied++
	}

	a.logger.Info("archive complete", "copied", copied, "destination", dest)
	return copied
}
