package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/site"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS monitor_sites (
	site_name         TEXT PRIMARY KEY,
	site_url          TEXT NOT NULL,
	search_token      TEXT NOT NULL DEFAULT '',
	max_response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS monitor_samples (
	sample_id     TEXT PRIMARY KEY,
	site_name     TEXT NOT NULL,
	sample_type   TEXT NOT NULL DEFAULT 'sample',
	sample_time   TIMESTAMPTZ NOT NULL,
	response_time BIGINT NOT NULL,
	status_code   INTEGER NOT NULL,
	error_code    TEXT NOT NULL DEFAULT 'OK',
	error_message TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS site_time_ndx ON monitor_samples(site_name, sample_time DESC);
`

// PostgresSink stores samples in PostgreSQL through a pgx pool.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url, pings and creates the tables.
func OpenPostgres(ctx context.Context, url string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	return &PostgresSink{pool: pool}, nil
}

func (p *PostgresSink) Name() string { return "postgres" }

func (p *PostgresSink) Append(ctx context.Context, sample outcome.Sample) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO monitor_samples (sample_id, site_name, sample_time, response_time, status_code, error_code, error_message, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sample.ID,
		sample.Site,
		sample.Timestamp.UTC(),
		sample.Elapsed.Milliseconds(),
		sample.StatusCode,
		sample.Kind.ErrorCode(),
		truncate(sample.Message, maxMessageLength),
		string(sample.Kind),
	)
	return err
}

func (p *PostgresSink) RecordSites(ctx context.Context, sites []site.Config) error {
	batch := &pgx.Batch{}
	for _, cfg := range sites {
		batch.Queue(
			`INSERT INTO monitor_sites (site_name, site_url, search_token, max_response_time, active, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (site_name) DO UPDATE SET
			   site_url = EXCLUDED.site_url,
			   search_token = EXCLUDED.search_token,
			   max_response_time = EXCLUDED.max_response_time,
			   active = EXCLUDED.active,
			   updated_at = EXCLUDED.updated_at`,
			cfg.Name, cfg.URL, cfg.ExpectedToken, cfg.AlertLoadTime.Seconds(), cfg.Active,
		)
	}

	return p.pool.SendBatch(ctx, batch).Close()
}

// Recent returns up to limit samples for a site, newest first.
func (p *PostgresSink) Recent(ctx context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT sample_id, site_name, sample_time, response_time, status_code, error_message, outcome
		 FROM monitor_samples WHERE site_name = $1 ORDER BY sample_time DESC LIMIT $2`,
		siteName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []outcome.Sample
	for rows.Next() {
		var (
			sample outcome.Sample
			took   int64
			kind   string
		)
		if err := rows.Scan(&sample.ID, &sample.Site, &sample.Timestamp, &took, &sample.StatusCode, &sample.Message, &kind); err != nil {
			return nil, err
		}
		sample.Elapsed = time.Duration(took) * time.Millisecond
		sample.Kind = outcome.Kind(kind)
		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}
