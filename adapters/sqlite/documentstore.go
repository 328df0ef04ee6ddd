package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
)

// DocumentStore implements ports.DocumentStore using SQLite.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new SQLite document store.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Insert stores a new document.
func (s *DocumentStore) Insert(ctx context.Context, doc document.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, collection, data, created_at)
		VALUES (?, ?, ?, ?)
	`, doc.ID, doc.Collection, string(doc.Data), doc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert %s/%s: %w", doc.Collection, doc.ID, ports.ErrConflict)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get retrieves a document by collection and id.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, data, created_at
		FROM documents WHERE collection = ? AND id = ?
	`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, ports.ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Find returns a lazy query. The SELECT runs when Stream is called.
func (s *DocumentStore) Find(ctx context.Context, opts document.FindOptions) streaming.Streamer {
	return &Query{db: s.db, ctx: ctx, opts: opts}
}

// Ping checks the database connection.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	return s.db.Close()
}

// Query is a deferred find.
type Query struct {
	db   *DB
	ctx  context.Context
	opts document.FindOptions
}

// Stream runs the query and returns a cursor over the result rows.
func (q *Query) Stream() (any, error) {
	opts, err := q.opts.Normalize()
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(q.ctx, `
		SELECT id, collection, data, created_at
		FROM documents
		WHERE collection = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, opts.Collection, opts.After, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Cursor scans one row per Next call.
type Cursor struct {
	rows *sql.Rows
}

// Next returns the next document.
func (c *Cursor) Next(ctx context.Context) (any, bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, false, fmt.Errorf("iterate documents: %w", err)
		}
		return nil, false, nil
	}

	doc, err := scanDocument(c.rows)
	if err != nil {
		return nil, false, fmt.Errorf("scan document: %w", err)
	}
	return doc, true, nil
}

// Close releases the rows.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (document.Document, error) {
	var (
		doc       document.Document
		data      string
		createdAt string
	)
	if err := row.Scan(&doc.ID, &doc.Collection, &data, &createdAt); err != nil {
		return document.Document{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return document.Document{}, fmt.Errorf("parse created_at: %w", err)
	}
	doc.Data = []byte(data)
	doc.CreatedAt = t
	return doc, nil
}

// Ensure interface compliance.
var (
	_ ports.DocumentStore = (*DocumentStore)(nil)
	_ streaming.Streamer  = (*Query)(nil)
	_ streaming.Iterator  = (*Cursor)(nil)
)
