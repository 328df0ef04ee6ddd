package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// ErrNoResult is returned when a jq projection yields nothing for an item.
var ErrNoResult = errors.New("jq projection returned no result")

// JQDescriptor projects items through a jq expression. Only the first
// result of the expression is used.
type JQDescriptor struct {
	expr string
	code *gojq.Code
	err  error
}

// JQ parses and compiles expr. Errors are reported by Engine.Validate and
// by every Project call.
func JQ(expr string) *JQDescriptor {
	d := &JQDescriptor{expr: expr}

	query, err := gojq.Parse(expr)
	if err != nil {
		d.err = fmt.Errorf("invalid jq expression %q: %w", expr, err)
		return d
	}
	code, err := gojq.Compile(query)
	if err != nil {
		d.err = fmt.Errorf("compile jq expression %q: %w", expr, err)
		return d
	}
	d.code = code
	return d
}

// Name identifies the projection expression.
func (d *JQDescriptor) Name() string {
	return "jq:" + d.expr
}

// Expr returns the source expression.
func (d *JQDescriptor) Expr() string {
	return d.expr
}

func (d *JQDescriptor) apply(ctx context.Context, item any) (any, error) {
	if d.err != nil {
		return nil, d.err
	}

	data, err := toJSON(item)
	if err != nil {
		return nil, fmt.Errorf("projection %s: marshal item: %w", d.Name(), err)
	}

	// gojq only understands the generic JSON value types.
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("projection %s: %w", d.Name(), err)
	}

	iter := d.code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("projection %s: %w", d.Name(), ErrNoResult)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("projection %s: jq error: %w", d.Name(), err)
	}
	return v, nil
}
