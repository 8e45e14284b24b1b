package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/legiscrape/internal/blob"
	"github.com/ppiankov/legiscrape/internal/model"
)

// batchNow is injectable for tests
var batchNow = time.Now

// Batch buffers realtime records per kind in local JSONL files and uploads
// them to bulk storage once the flush interval has elapsed
type Batch struct {
	dir          string
	store        blob.Store
	bucket       string
	prefix       string
	jurisdiction string
	interval     time.Duration
	classes      []model.Kind
	logger       *slog.Logger

	mu        sync.Mutex
	lastFlush time.Time
}

// NewBatch creates a buffer in dir for jurisdictionID. Kinds outside
// cfg.DataClasses are not buffered.
func NewBatch(cfg model.RealtimeConfig, dir, jurisdictionID string, store blob.Store, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	classes := make([]model.Kind, 0, len(cfg.DataClasses))
	for _, c := range cfg.DataClasses {
		classes = append(classes, model.Kind(c))
	}
	return &Batch{
		dir:          dir,
		store:        store,
		bucket:       cfg.BulkBucket,
		prefix:       cfg.BulkPrefix,
		jurisdiction: strings.TrimPrefix(jurisdictionID, "ocd-jurisdiction/"),
		interval:     cfg.BulkInterval,
		classes:      classes,
		logger:       logger,
		lastFlush:    batchNow(),
	}
}

func (b *Batch) accepts(k model.Kind) bool {
	for _, c := range b.classes {
		if c == k {
			return true
		}
	}
	return false
}

// BufferPath is the local JSONL file for kind
func (b *Batch) BufferPath(k model.Kind) string {
	return filepath.Join(b.dir, string(k)+".jsonl")
}

// Add appends fields to e's buffer, then flushes if the interval elapsed
func (b *Batch) Add(ctx context.Context, e model.Entity, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.accepts(e.Kind()) {
		b.logger.Debug("kind not buffered for bulk upload", "kind", e.Kind())
		return nil
	}

	line, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	f, err := os.OpenFile(b.BufferPath(e.Kind()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("append buffer: %w", werr)
	}

	if batchNow().Sub(b.lastFlush) >= b.interval {
		return b.flushLocked(ctx)
	}
	return nil
}

// Flush uploads every non-empty buffer now
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *Batch) flushLocked(ctx context.Context) error {
	var errs []error
	for _, k := range b.classes {
		local := b.BufferPath(k)
		data, err := os.ReadFile(local)
		if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read buffer %s: %w", k, err))
			continue
		}

		now := batchNow().UTC()
		key := path.Join(b.prefix, string(k), b.jurisdiction, now.Format("2006-01"),
			fmt.Sprintf("%s_%s.jsonl", k, now.Format(time.RFC3339Nano)))
		if err := b.store.Put(ctx, b.bucket, key, data, "application/x-ndjson"); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", k, err))
			continue
		}
		b.logger.Info("uploaded bulk buffer", "kind", k, "key", key, "bytes", len(data))

		if err := os.Remove(local); err != nil {
			errs = append(errs, fmt.Errorf("remove buffer %s: %w", k, err))
		}
	}
	b.lastFlush = batchNow()
	return errors.Join(errs...)
}
