// Package store persists run reports.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/legiscrape/internal/model"
)

// ReportStore saves and lists run reports per jurisdiction
type ReportStore interface {
	Save(ctx context.Context, jurisdictionID string, r *model.RunReport) error
	// Recent returns up to limit reports, newest first
	Recent(ctx context.Context, jurisdictionID string, limit int) ([]*model.RunReport, error)
	Close() error
}

// Open returns the store selected by cfg.Driver
func Open(ctx context.Context, cfg model.ReportsConfig) (ReportStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return NewFileStore(cfg.Dir), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "legiscrape.db"
		}
		return OpenSQL(ctx, "sqlite", dsn)
	case "postgres", "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres report store requires a dsn")
		}
		return OpenSQL(ctx, "pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown report store driver %q", cfg.Driver)
	}
}
