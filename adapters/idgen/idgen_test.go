package idgen_test

import (
	"testing"

	"github.com/artpar/docstream/adapters/idgen"
	"github.com/google/uuid"
)

func TestUUID_OrderedAndValid(t *testing.T) {
	gen := idgen.UUID{}

	prev := gen.New()
	for i := 0; i < 100; i++ {
		id := gen.New()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("invalid uuid %q: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Errorf("version = %d, want 7", parsed.Version())
		}
		if id <= prev {
			t.Errorf("id %s not after %s", id, prev)
		}
		prev = id
	}
}

func TestSequential(t *testing.T) {
	gen := idgen.NewSequential("doc-")

	if got := gen.New(); got != "doc-00000001" {
		t.Errorf("first = %s, want doc-00000001", got)
	}
	if got := gen.New(); got != "doc-00000002" {
		t.Errorf("second = %s, want doc-00000002", got)
	}
}
