// Package postgres provides the PostgreSQL implementation of
// ports.DocumentStore. It uses pgx/v5 for connection pooling and streams
// find results straight off a server-side result set.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
)

// Config configures the connection pool.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum number of pooled connections (default: 25).
	MaxConns int32

	// MaxConnLifetime bounds a connection's age (default: 5 minutes).
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the documents table if missing.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT NOT NULL,
    collection TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (collection, id)
)`

// Store is a PostgreSQL-backed DocumentStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and optionally applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.MigrateOnStart {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return &Store{pool: pool}, nil
}

// Insert stores a new document.
func (s *Store) Insert(ctx context.Context, doc document.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, collection, data, created_at)
		VALUES ($1, $2, $3, $4)
	`, doc.ID, doc.Collection, []byte(doc.Data), doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert %s/%s: %w", doc.Collection, doc.ID, ports.ErrConflict)
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Get retrieves a document by collection and id.
func (s *Store) Get(ctx context.Context, collection, id string) (document.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, collection, data, created_at
		FROM documents WHERE collection = $1 AND id = $2
	`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, ports.ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// Find returns a lazy query. The SELECT runs when Stream is called.
func (s *Store) Find(ctx context.Context, opts document.FindOptions) streaming.Streamer {
	return &Query{pool: s.pool, ctx: ctx, opts: opts}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Query is a deferred find.
type Query struct {
	pool *pgxpool.Pool
	ctx  context.Context
	opts document.FindOptions
}

// Stream runs the query and returns a cursor over its rows.
func (q *Query) Stream() (any, error) {
	opts, err := q.opts.Normalize()
	if err != nil {
		return nil, err
	}

	rows, err := q.pool.Query(q.ctx, `
		SELECT id, collection, data, created_at
		FROM documents
		WHERE collection = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`, opts.Collection, opts.After, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Cursor reads one row per Next call. The connection is held until Close.
type Cursor struct {
	rows pgx.Rows
}

// Next returns the next document.
func (c *Cursor) Next(ctx context.Context) (any, bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, false, fmt.Errorf("iterating documents: %w", err)
		}
		return nil, false, nil
	}

	doc, err := scanDocument(c.rows)
	if err != nil {
		return nil, false, fmt.Errorf("scanning document: %w", err)
	}
	return doc, true, nil
}

// Close releases the rows and their connection. A read failure has
// already been returned by Next, so it is not reported again here.
func (c *Cursor) Close() error {
	c.rows.Close()
	return nil
}

func scanDocument(row pgx.Row) (document.Document, error) {
	var (
		doc  document.Document
		data []byte
	)
	if err := row.Scan(&doc.ID, &doc.Collection, &data, &doc.CreatedAt); err != nil {
		return document.Document{}, err
	}
	doc.Data = data
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, nil
}

// Ensure interface compliance.
var (
	_ ports.DocumentStore = (*Store)(nil)
	_ streaming.Streamer  = (*Query)(nil)
	_ streaming.Iterator  = (*Cursor)(nil)
)
