package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
	"github.com/rs/zerolog"
)

// ArchiveExt is appended to archive names to locate the file.
const ArchiveExt = ".ndjson"

// ErrArchiveNotFound is returned when no archive file matches a name.
var ErrArchiveNotFound = errors.New("archive not found")

// DocumentService handles document storage and the lazily produced
// sequences served by the streaming endpoints.
type DocumentService struct {
	store      ports.DocumentStore
	ids        ports.IDGenerator
	clock      ports.Clock
	archiveDir string
	logger     zerolog.Logger
}

// DocumentServiceConfig contains configuration for DocumentService.
type DocumentServiceConfig struct {
	ArchiveDir string // directory holding NDJSON archives; empty disables archives
}

// NewDocumentService creates a new document service.
func NewDocumentService(
	store ports.DocumentStore,
	ids ports.IDGenerator,
	clock ports.Clock,
	logger zerolog.Logger,
	cfg DocumentServiceConfig,
) *DocumentService {
	return &DocumentService{
		store:      store,
		ids:        ids,
		clock:      clock,
		archiveDir: cfg.ArchiveDir,
		logger:     logger.With().Str("service", "documents").Logger(),
	}
}

// Insert validates and stores a new document with a generated id.
func (s *DocumentService) Insert(ctx context.Context, collection string, data []byte) (document.Document, error) {
	doc, err := document.New(s.ids.New(), collection, data, s.clock.Now())
	if err != nil {
		return document.Document{}, err
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		return document.Document{}, err
	}

	s.logger.Debug().
		Str("collection", doc.Collection).
		Str("id", doc.ID).
		Msg("document inserted")
	return doc, nil
}

// Get returns one document.
func (s *DocumentService) Get(ctx context.Context, collection, id string) (document.Document, error) {
	if err := document.ValidateCollection(collection); err != nil {
		return document.Document{}, err
	}
	return s.store.Get(ctx, collection, id)
}

// Find validates the options and returns the store's lazy query.
// Nothing is read until the query's Stream method is called.
func (s *DocumentService) Find(ctx context.Context, opts document.FindOptions) (streaming.Streamer, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return s.store.Find(ctx, opts), nil
}

// IDs returns a sequence of the ids of the matching documents.
// The cursor is opened on first pull and closed when iteration stops.
func (s *DocumentService) IDs(ctx context.Context, opts document.FindOptions) (iter.Seq2[any, error], error) {
	query, err := s.Find(ctx, opts)
	if err != nil {
		return nil, err
	}

	return func(yield func(any, error) bool) {
		v, err := query.Stream()
		if err != nil {
			yield(nil, err)
			return
		}
		if c, ok := v.(io.Closer); ok {
			defer c.Close()
		}
		cursor, ok := v.(streaming.Iterator)
		if !ok {
			yield(nil, fmt.Errorf("ids: %T: %w", v, streaming.ErrNotStreamable))
			return
		}

		for {
			item, ok, err := cursor.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			doc, isDoc := item.(document.Document)
			if !isDoc {
				yield(nil, fmt.Errorf("ids: unexpected item %T", item))
				return
			}
			if !yield(doc.ID, nil) {
				return
			}
		}
	}, nil
}

// Archive opens the NDJSON archive with the given name. The caller owns the
// returned file. Names are confined to the archive directory.
func (s *DocumentService) Archive(name string) (*os.File, error) {
	if s.archiveDir == "" {
		return nil, fmt.Errorf("archive %q: %w", name, ErrArchiveNotFound)
	}
	if err := document.ValidateCollection(name); err != nil {
		return nil, fmt.Errorf("archive %q: %w", name, ErrArchiveNotFound)
	}

	root, err := os.OpenRoot(s.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("open archive dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name + ArchiveExt)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("archive %q: %w", name, ErrArchiveNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", name, err)
	}
	return f, nil
}

// Import reads concatenated JSON objects from r and inserts each one into
// the collection. An object's string "id" field is used as its id when
// present. It stops at the first error and returns the number imported.
func (s *DocumentService) Import(ctx context.Context, collection string, r io.Reader) (int, error) {
	if err := document.ValidateCollection(collection); err != nil {
		return 0, err
	}

	dec := json.NewDecoder(r)
	n := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("decode record %d: %w", n+1, err)
		}

		var (
			head struct {
				ID any `json:"id"`
			}
			id string
		)
		if err := json.Unmarshal(raw, &head); err == nil {
			id, _ = head.ID.(string)
		}
		if id == "" {
			id = s.ids.New()
		}

		doc, err := document.New(id, collection, raw, s.clock.Now())
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		if err := s.store.Insert(ctx, doc); err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		n++
	}
}

// Ping checks the document store.
func (s *DocumentService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
