// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/ratelimit"
	"github.com/artpar/docstream/domain/streaming"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when a record already exists.
	ErrConflict = errors.New("already exists")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// RateLimiter charges requests against a per-client budget.
type RateLimiter interface {
	Allow(client string, now time.Time) ratelimit.Decision
}

// -----------------------------------------------------------------------------
// Streaming Ports
// -----------------------------------------------------------------------------

// ResponseChannel is the live output sink for one in-flight request.
// The bridge holds it for the duration of the request only.
type ResponseChannel interface {
	// SetHeader sets a response header. It has no effect once headers are sent.
	SetHeader(key, value string)

	// Write writes raw text, sending headers first if needed.
	Write(p []byte) error

	// End finishes the response successfully.
	End() error

	// Closed reports whether the client went away.
	Closed() bool

	// HeadersSent reports whether the status line and headers are committed.
	HeadersSent() bool

	// Fail writes a complete error response. Only valid before headers are sent.
	Fail(status int, body any) error
}

// Projector shapes items through a projection descriptor.
type Projector interface {
	// Project returns the item reduced to the fields the descriptor keeps.
	Project(ctx context.Context, desc streaming.Descriptor, item any) (any, error)

	// Validate checks a descriptor at startup.
	Validate(desc streaming.Descriptor) error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// DocumentStore persists JSON documents.
type DocumentStore interface {
	// Insert stores a new document.
	Insert(ctx context.Context, doc document.Document) error

	// Get retrieves a document by collection and id.
	Get(ctx context.Context, collection, id string) (document.Document, error)

	// Find returns a lazy query. No database work happens until Stream is
	// called; Stream returns a cursor yielding document.Document items.
	Find(ctx context.Context, opts document.FindOptions) streaming.Streamer

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// StreamObserver receives stream lifecycle events.
type StreamObserver interface {
	// StreamStarted is called once a marked handler's value classified as streamable.
	StreamStarted(handler string)

	// StreamEnded is called with the terminal state of a started stream.
	StreamEnded(handler string, state streaming.State, items int64, elapsed time.Duration)

	// StreamPassthrough is called when a marked handler returned a non-streamable value.
	StreamPassthrough(handler string)
}
