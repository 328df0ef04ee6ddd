// Package projection implements ports.Projector with two descriptor kinds:
// struct descriptors that keep only `expose`-tagged fields, and jq
// descriptors evaluated with gojq.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
)

// ErrUnknownDescriptor is returned for descriptors this package did not build.
var ErrUnknownDescriptor = errors.New("unknown projection descriptor")

// Engine applies projection descriptors to items.
type Engine struct{}

// NewEngine creates a projection engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Project shapes item through desc.
func (e *Engine) Project(ctx context.Context, desc streaming.Descriptor, item any) (any, error) {
	switch d := desc.(type) {
	case *StructDescriptor:
		return d.apply(item)
	case *JQDescriptor:
		return d.apply(ctx, item)
	case nil:
		return item, nil
	default:
		return nil, fmt.Errorf("project %s: %w", desc.Name(), ErrUnknownDescriptor)
	}
}

// Validate reports descriptor construction errors.
func (e *Engine) Validate(desc streaming.Descriptor) error {
	switch d := desc.(type) {
	case *StructDescriptor:
		return d.err
	case *JQDescriptor:
		return d.err
	case nil:
		return nil
	default:
		return fmt.Errorf("validate %s: %w", desc.Name(), ErrUnknownDescriptor)
	}
}

// toJSON marshals an item, passing raw JSON through untouched.
func toJSON(item any) ([]byte, error) {
	switch v := item.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	return json.Marshal(item)
}

var _ ports.Projector = (*Engine)(nil)
