// Package document provides the stored document value types and pure
// validation helpers. It has no I/O dependencies.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultLimit caps a find when no limit is given.
const DefaultLimit = 1000

// MaxLimit is the largest accepted find limit.
const MaxLimit = 100000

var (
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrInvalidData       = errors.New("document data must be a JSON object")
)

// Document is a stored JSON object (immutable value type).
type Document struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Summary is the projected view served by the summary endpoint.
// Only exposed fields survive projection.
type Summary struct {
	ID         string    `expose:"id"`
	Collection string    `expose:"collection"`
	CreatedAt  time.Time `expose:"created_at"`
	Data       json.RawMessage
}

// FindOptions selects a page of a collection in id order.
type FindOptions struct {
	Collection string
	After      string // only documents with an id greater than this one
	Limit      int
}

// Normalize validates the options and applies the default limit.
func (o FindOptions) Normalize() (FindOptions, error) {
	if err := ValidateCollection(o.Collection); err != nil {
		return o, err
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	return o, nil
}

// ValidateCollection checks a collection name: 1-64 chars of [a-zA-Z0-9_-].
func ValidateCollection(name string) error {
	if name == "" || len(name) > 64 {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
		}
	}
	return nil
}

// ValidateData checks that data is a JSON object.
func ValidateData(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return ErrInvalidData
	}
	return nil
}

// New builds a document after validating its collection and data.
func New(id, collection string, data []byte, now time.Time) (Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	if err := ValidateData(data); err != nil {
		return Document{}, err
	}
	return Document{
		ID:         id,
		Collection: collection,
		Data:       json.RawMessage(data),
		CreatedAt:  now.UTC(),
	}, nil
}
