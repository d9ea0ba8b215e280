package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN. maxConns should
// cover the conversion workers plus the download fan-out, since every
// in-flight store call holds its own connection.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns < 4 {
		maxConns = 4
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the documents table if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS documents (
	transcript_uuid TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	script_code TEXT NOT NULL,
	pdf_url TEXT NOT NULL,
	pdf_url_sha256 TEXT NOT NULL,
	announcement_date TEXT NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'discovered'
		CHECK (processing_status IN ('discovered', 'downloaded', 'parsed', 'failed')),
	pdf_file_name TEXT,
	pdf_created_at TIMESTAMPTZ,
	text_file_name TEXT,
	text_file_created_at TIMESTAMPTZ,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT documents_pdf_url_sha256_key UNIQUE (pdf_url_sha256)
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
