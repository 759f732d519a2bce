package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS monitor_sites (
	site_name TEXT PRIMARY KEY,
	site_url TEXT NOT NULL,
	search_token TEXT NOT NULL DEFAULT '',
	max_response_time REAL NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS monitor_samples (
	sample_id TEXT PRIMARY KEY,
	site_name TEXT NOT NULL,
	sample_type TEXT NOT NULL DEFAULT 'sample',
	sample_time INTEGER NOT NULL,
	response_time INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	error_code TEXT NOT NULL DEFAULT 'OK',
	error_message TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS site_time_ndx ON monitor_samples(site_name, sample_time);
`

// SQLiteSink stores samples in a local SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Append(ctx context.Context, sample outcome.Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_samples(sample_id, site_name, sample_time, response_time, status_code, error_code, error_message, outcome)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sample.ID,
		sample.Site,
		sample.Timestamp.UnixMilli(),
		sample.Elapsed.Milliseconds(),
		sample.StatusCode,
		sample.Kind.ErrorCode(),
		truncate(sample.Message, maxMessageLength),
		string(sample.Kind),
	)
	return err
}

func (s *SQLiteSink) RecordSites(ctx context.Context, sites []site.Config) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, cfg := range sites {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO monitor_sites(site_name, site_url, search_token, max_response_time, active, updated_at)
			 VALUES(?,?,?,?,?,?)
			 ON CONFLICT(site_name) DO UPDATE SET
			   site_url=excluded.site_url,
			   search_token=excluded.search_token,
			   max_response_time=excluded.max_response_time,
			   active=excluded.active,
			   updated_at=excluded.updated_at`,
			cfg.Name, cfg.URL, cfg.ExpectedToken, cfg.AlertLoadTime.Seconds(), cfg.Active, now,
		)
		if err != nil {
			return fmt.Errorf("upsert site %s: %w", cfg.Name, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit samples for a site, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sample_id, site_name, sample_time, response_time, status_code, error_message, outcome
		 FROM monitor_samples WHERE site_name = ? ORDER BY sample_time DESC LIMIT ?`,
		siteName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []outcome.Sample
	for rows.Next() {
		var (
			sample           outcome.Sample
			sampleTime, took int64
			kind             string
		)
		if err := rows.Scan(&sample.ID, &sample.Site, &sampleTime, &took, &sample.StatusCode, &sample.Message, &kind); err != nil {
			return nil, err
		}
		sample.Timestamp = time.UnixMilli(sampleTime)
		sample.Elapsed = time.Duration(took) * time.Millisecond
		sample.Kind = outcome.Kind(kind)
		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
