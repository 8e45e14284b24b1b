package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/legiscrape/internal/model"
)

// SQLStore keeps reports in a run_reports table. It works with the "sqlite"
// and "pgx" database/sql drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// fixed width so text ordering matches time ordering
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

const createReports = `CREATE TABLE IF NOT EXISTS run_reports (
	jurisdiction_id TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	ended_at        TEXT NOT NULL,
	success         BOOLEAN NOT NULL,
	report          TEXT NOT NULL,
	PRIMARY KEY (jurisdiction_id, started_at)
)`

// OpenSQL connects and ensures the schema exists
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single connection keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createReports); err != nil {
		return fmt.Errorf("create run_reports: %w", err)
	}
	return nil
}

// placeholder returns the n-th bind parameter for the driver
func (s *SQLStore) placeholder(n int) string {
	if s.driver == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Save(ctx context.Context, jurisdictionID string, r *model.RunReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO run_reports (jurisdiction_id, started_at, ended_at, success, report)
VALUES (%s, %s, %s, %s, %s)`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))

	_, err = s.db.ExecContext(ctx, q,
		jurisdictionID,
		r.Start.UTC().Format(sqlTimeLayout),
		r.End.UTC().Format(sqlTimeLayout),
		r.Success,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, jurisdictionID string, limit int) ([]*model.RunReport, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT report FROM run_reports WHERE jurisdiction_id = %s
ORDER BY started_at DESC LIMIT %s`, s.placeholder(1), s.placeholder(2))

	rows, err := s.db.QueryContext(ctx, q, jurisdictionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.RunReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r model.RunReport
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
