package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// stubRows serves a fixed set of documents and then fails with err.
type stubRows struct {
	ids    []string
	pos    int
	err    error
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.closed || r.pos >= len(r.ids) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.ids[r.pos-1]
	*dest[1].(*string) = "books"
	*dest[2].(*[]byte) = []byte(`{}`)
	*dest[3].(*time.Time) = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return nil
}

func TestCursor_ReadErrorReportedOnce(t *testing.T) {
	ctx := context.Background()
	rows := &stubRows{ids: []string{"a"}, err: errors.New("conn reset")}
	c := &Cursor{rows: rows}

	if _, ok, err := c.Next(ctx); !ok || err != nil {
		t.Fatalf("first Next() = %v, %v", ok, err)
	}
	if _, _, err := c.Next(ctx); err == nil || !errors.Is(err, rows.err) {
		t.Fatalf("second Next() error = %v, want conn reset", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v, want nil after Next reported the failure", err)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestCursor_CloseEarly(t *testing.T) {
	rows := &stubRows{ids: []string{"a", "b"}, err: context.Canceled}
	c := &Cursor{rows: rows}

	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}
