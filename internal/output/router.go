// Package output routes collected entities to their configured sinks.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/ppiankov/legiscrape/internal/blob"
	"github.com/ppiankov/legiscrape/internal/model"
)

// outputSleepFunc blocks for d (injectable for tests)
var outputSleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Route names the sink an entity was delivered to
type Route string

const (
	RouteHandler  Route = "handler"
	RouteBroker   Route = "broker"
	RouteRealtime Route = "realtime"
	RouteLocal    Route = "local"
)

// Router delivers each entity to exactly one primary sink. Every path except
// a custom handler also leaves a local {kind}_{id}.json working copy.
type Router struct {
	cfg     model.Config
	juris   *model.Jurisdiction
	dataDir string
	logger  *slog.Logger

	handler   Handler
	publisher Publisher
	store     blob.Store
	notifier  Notifier
	batch     *Batch
}

// RouterOption customises a Router
type RouterOption func(*Router)

// WithHandler delegates persistence entirely to h
func WithHandler(h Handler) RouterOption {
	return func(r *Router) { r.handler = h }
}

// WithPublisher routes entities to a message broker
func WithPublisher(p Publisher) RouterOption {
	return func(r *Router) { r.publisher = p }
}

// WithRealtime streams entities to blob storage and the notification queue,
// buffering them for bulk upload when batch is non-nil
func WithRealtime(store blob.Store, notifier Notifier, batch *Batch) RouterOption {
	return func(r *Router) {
		r.store = store
		r.notifier = notifier
		r.batch = batch
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router for one jurisdiction's run
func NewRouter(cfg model.Config, j *model.Jurisdiction, dataDir string, opts ...RouterOption) (*Router, error) {
	r := &Router{cfg: cfg, juris: j, dataDir: dataDir, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	if r.handler == nil && cfg.Scrape.Handler != "" {
		h, err := LookupHandler(cfg.Scrape.Handler)
		if err != nil {
			return nil, err
		}
		r.handler = h
	}
	if r.handler == nil && r.publisher == nil && cfg.Broker.Enabled() {
		return nil, fmt.Errorf("broker %s configured without a publisher", cfg.Broker.URL)
	}
	if r.handler == nil && r.publisher == nil && cfg.Realtime.Enabled && (r.store == nil || r.notifier == nil) {
		return nil, fmt.Errorf("realtime output needs blob storage and a notification queue")
	}
	return r, nil
}

// Route reports which sink the next entity will go to
func (r *Router) Route() Route {
	switch {
	case r.handler != nil:
		return RouteHandler
	case r.publisher != nil:
		return RouteBroker
	case r.cfg.Realtime.Enabled:
		return RouteRealtime
	}
	return RouteLocal
}

// Deliver sends e to its sink. Owned children are not followed.
func (r *Router) Deliver(ctx context.Context, e model.Entity) (Route, error) {
	route := r.Route()
	if route == RouteHandler {
		if err := r.handler.Handle(ctx, e); err != nil {
			return route, fmt.Errorf("handle %s: %w", e.Kind(), err)
		}
		return route, nil
	}

	fields, err := model.Fields(e)
	if err != nil {
		return route, err
	}

	switch route {
	case RouteBroker:
		err = r.publish(ctx, e, fields)
	case RouteRealtime:
		err = r.stream(ctx, e, fields)
	}
	if err != nil {
		return route, err
	}

	if _, err := WriteLocal(r.dataDir, e, fields); err != nil {
		return route, err
	}

	if route == RouteRealtime && r.batch != nil {
		if err := r.batch.Add(ctx, e, fields); err != nil {
			r.logger.Warn("bulk upload failed", "kind", e.Kind(), "error", err)
		}
	}
	return route, nil
}

// Subject is the broker subject for this router's jurisdiction
func (r *Router) Subject() string {
	return r.cfg.Broker.SubjectPrefix + "." + strings.ToUpper(r.juris.Abbr())
}

func (r *Router) publish(ctx context.Context, e model.Entity, fields map[string]any) error {
	body := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "jurisdiction" || k == "scraped_at" {
			continue
		}
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Kind(), err)
	}

	subject := r.Subject()
	if err := r.publisher.Publish(ctx, subject, data); err != nil {
		return err
	}
	// let client-side batching send before waiting on acks
	if err := outputSleepFunc(ctx, r.cfg.Broker.Linger); err != nil {
		return err
	}
	if err := r.publisher.Flush(ctx); err != nil {
		return err
	}
	r.logger.Info("sent to broker", "kind", e.Kind(), "subject", subject, "entity", e)
	return nil
}

// BlobKey is the realtime storage path for e. Session-scoped entities live
// under their natural id; a vote without a bill falls back to its own
// identifier, and anything left without one to the jurisdiction folder.
func BlobKey(abbr string, e model.Entity) string {
	name := model.OutputName(e)
	if s, ok := e.(model.SessionScoped); ok && s.Session() != "" {
		if id := folderID(e, s); id != "" {
			return path.Join(abbr, s.Session(), id, name)
		}
	}
	return path.Join(abbr, "Jurisdiction_Information", name)
}

func folderID(e model.Entity, s model.SessionScoped) string {
	if id := s.NaturalID(); id != "" {
		return id
	}
	if v, ok := e.(*model.VoteEvent); ok {
		return v.Identifier
	}
	return ""
}

func (r *Router) stream(ctx context.Context, e model.Entity, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Kind(), err)
	}

	key := BlobKey(r.juris.Abbr(), e)
	bucket := r.cfg.Realtime.Bucket
	if err := r.store.Put(ctx, bucket, key, data, "application/json"); err != nil {
		return err
	}

	err = r.notifier.Notify(ctx, Notification{
		FilePath:             key,
		Bucket:               bucket,
		JurisdictionID:       r.juris.ID(),
		JurisdictionName:     r.juris.Name(),
		FileArchivingEnabled: r.cfg.Archive.Enabled,
	})
	if err != nil {
		return err
	}
	r.logger.Info("streamed to blob storage", "kind", e.Kind(), "bucket", bucket, "key", key)
	return nil
}

// Flush forces the bulk buffer out. Failures are logged only.
func (r *Router) Flush(ctx context.Context) {
	if r.batch == nil {
		return
	}
	if err := r.batch.Flush(ctx); err != nil {
		r.logger.Warn("bulk upload failed", "error", err)
	}
}
