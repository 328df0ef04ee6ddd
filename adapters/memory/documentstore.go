// Package memory provides in-memory implementations: a document store for
// tests and the memory driver, and the per-client request limiter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
)

// DocumentStore is an in-memory implementation of ports.DocumentStore.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]document.Document // collection -> id -> doc
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string]map[string]document.Document),
	}
}

// Insert stores a new document.
func (s *DocumentStore) Insert(ctx context.Context, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.docs[doc.Collection]
	if !ok {
		coll = make(map[string]document.Document)
		s.docs[doc.Collection] = coll
	}
	if _, exists := coll[doc.ID]; exists {
		return fmt.Errorf("insert %s/%s: %w", doc.Collection, doc.ID, ports.ErrConflict)
	}
	coll[doc.ID] = doc
	return nil
}

// Get retrieves a document by collection and id.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return document.Document{}, ports.ErrNotFound
	}
	return doc, nil
}

// Find returns a lazy query over a snapshot taken when Stream is called.
func (s *DocumentStore) Find(ctx context.Context, opts document.FindOptions) streaming.Streamer {
	return &Query{store: s, opts: opts}
}

// Ping always succeeds.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *DocumentStore) Close() error {
	return nil
}

// Query is a deferred find against the memory store.
type Query struct {
	store *DocumentStore
	opts  document.FindOptions
}

// Stream snapshots the matching documents and returns a cursor over them.
func (q *Query) Stream() (any, error) {
	opts, err := q.opts.Normalize()
	if err != nil {
		return nil, err
	}

	q.store.mu.RLock()
	var docs []document.Document
	for _, d := range q.store.docs[opts.Collection] {
		if d.ID > opts.After {
			docs = append(docs, d)
		}
	}
	q.store.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	if len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return &Cursor{docs: docs}, nil
}

// Cursor iterates a snapshot of documents.
type Cursor struct {
	docs []document.Document
	pos  int
}

// Next returns the next document.
func (c *Cursor) Next(ctx context.Context) (any, bool, error) {
	if c.pos >= len(c.docs) {
		return nil, false, nil
	}
	d := c.docs[c.pos]
	c.pos++
	return d, true, nil
}

// Ensure interface compliance.
var (
	_ ports.DocumentStore = (*DocumentStore)(nil)
	_ streaming.Streamer  = (*Query)(nil)
	_ streaming.Iterator  = (*Cursor)(nil)
)
