// Package store persists merge results to PostgreSQL. The store is optional;
// the pipeline works without one when no DATABASE_URL is configured.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"medocr/internal/logger"
	"medocr/internal/pipeline"
)

// ErrNotFound is returned when no document matches the requested id.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS merge_documents (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL DEFAULT '',
	engines TEXT[] NOT NULL DEFAULT '{}',
	page_count INT NOT NULL,
	report JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS merge_documents_created_at_idx ON merge_documents (created_at DESC);
`

// Document is a stored merge result.
type Document struct {
	ID        uuid.UUID                `json:"id"`
	Filename  string                   `json:"filename"`
	Engines   []string                 `json:"engines"`
	PageCount int                      `json:"page_count"`
	Report    *pipeline.DocumentReport `json:"report"`
	CreatedAt time.Time                `json:"created_at"`
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to PostgreSQL and creates the schema if needed.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: failed to parse database URL: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	s := &Store{pool: pool, log: logger.WithComponent("store")}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	s.log.Info().Msg("Database connection pool initialized")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveReport stores a merge report and returns its id.
func (s *Store) SaveReport(ctx context.Context, report *pipeline.DocumentReport) (uuid.UUID, error) {
	id := uuid.New()

	payload, err := json.Marshal(report)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: failed to encode report: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO merge_documents (id, filename, engines, page_count, report)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, report.Filename, report.Engines, len(report.Pages), payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: failed to insert report: %w", err)
	}

	s.log.Debug().
		Str("id", id.String()).
		Str("filename", report.Filename).
		Int("pages", len(report.Pages)).
		Msg("Merge report stored")

	return id, nil
}

// GetReport fetches a stored merge result by id.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	var payload []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, engines, page_count, report, created_at
		 FROM merge_documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Filename, &doc.Engines, &doc.PageCount, &payload, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to fetch report: %w", err)
	}

	doc.Report = &pipeline.DocumentReport{}
	if err := json.Unmarshal(payload, doc.Report); err != nil {
		return nil, fmt.Errorf("store: failed to decode report: %w", err)
	}

	return &doc, nil
}

// ListRecent returns the most recent merge results, newest first, without
// their full reports.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, engines, page_count, created_at
		 FROM merge_documents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list reports: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Engines, &doc.PageCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
