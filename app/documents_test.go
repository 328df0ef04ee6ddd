package app_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/docstream/adapters/clock"
	"github.com/artpar/docstream/adapters/idgen"
	"github.com/artpar/docstream/adapters/memory"
	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestDocumentService(t *testing.T, archiveDir string) (*app.DocumentService, *memory.DocumentStore) {
	t.Helper()
	store := memory.NewDocumentStore()
	svc := app.NewDocumentService(
		store,
		idgen.NewSequential("doc-"),
		clock.NewFake(baseTime),
		zerolog.Nop(),
		app.DocumentServiceConfig{ArchiveDir: archiveDir},
	)
	return svc, store
}

func TestDocumentService_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestDocumentService(t, "")

	doc, err := svc.Insert(ctx, "books", []byte(`{"title":"Dune"}`))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if doc.ID != "doc-00000001" {
		t.Errorf("ID = %s, want doc-00000001", doc.ID)
	}
	if !doc.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt = %v, want %v", doc.CreatedAt, baseTime)
	}

	got, err := svc.Get(ctx, "books", doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != `{"title":"Dune"}` {
		t.Errorf("Data = %s", got.Data)
	}

	if _, err := svc.Get(ctx, "books", "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDocumentService_InsertInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestDocumentService(t, "")

	if _, err := svc.Insert(ctx, "bad name", []byte(`{}`)); !errors.Is(err, document.ErrInvalidCollection) {
		t.Errorf("Insert(bad collection) error = %v", err)
	}
	if _, err := svc.Insert(ctx, "books", []byte(`[1,2]`)); !errors.Is(err, document.ErrInvalidData) {
		t.Errorf("Insert(array) error = %v", err)
	}
}

func TestDocumentService_FindValidatesEagerly(t *testing.T) {
	svc, _ := newTestDocumentService(t, "")

	if _, err := svc.Find(context.Background(), document.FindOptions{Collection: "../etc"}); !errors.Is(err, document.ErrInvalidCollection) {
		t.Errorf("Find() error = %v, want ErrInvalidCollection", err)
	}
}

func TestDocumentService_IDs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestDocumentService(t, "")
	for range 3 {
		if _, err := svc.Insert(ctx, "books", []byte(`{}`)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	seq, err := svc.IDs(ctx, document.FindOptions{Collection: "books", After: "doc-00000001"})
	if err != nil {
		t.Fatalf("IDs() error = %v", err)
	}

	var ids []string
	for id, err := range seq {
		if err != nil {
			t.Fatalf("iteration error = %v", err)
		}
		ids = append(ids, id.(string))
	}
	if strings.Join(ids, ",") != "doc-00000002,doc-00000003" {
		t.Errorf("ids = %v", ids)
	}

	// The sequence is a streamable iterator.
	if src, ok := streaming.Classify(seq); !ok || src.Kind != streaming.KindIterator {
		t.Errorf("Classify(ids) = %v, %v; want iterator", src.Kind, ok)
	}
}

func TestDocumentService_Archive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "2023.ndjson"), []byte("{\"a\":1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, _ := newTestDocumentService(t, dir)

	f, err := svc.Archive("2023")
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	if string(b) != "{\"a\":1}\n" {
		t.Errorf("content = %q", b)
	}

	for _, name := range []string{"2024", "../2023", ""} {
		if _, err := svc.Archive(name); !errors.Is(err, app.ErrArchiveNotFound) {
			t.Errorf("Archive(%q) error = %v, want ErrArchiveNotFound", name, err)
		}
	}

	noDir, _ := newTestDocumentService(t, "")
	if _, err := noDir.Archive("2023"); !errors.Is(err, app.ErrArchiveNotFound) {
		t.Errorf("Archive() without dir error = %v, want ErrArchiveNotFound", err)
	}
}

func TestDocumentService_Import(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestDocumentService(t, "")

	input := `{"id":"b1","title":"Dune"}
{"title":"Emma"}
`
	n, err := svc.Import(ctx, "books", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}
	if _, err := store.Get(ctx, "books", "b1"); err != nil {
		t.Errorf("Get(b1) error = %v", err)
	}
	if _, err := store.Get(ctx, "books", "doc-00000001"); err != nil {
		t.Errorf("Get(generated) error = %v", err)
	}

	n, err = svc.Import(ctx, "books", strings.NewReader(`{"title":"x"} 42`))
	if err == nil || n != 1 {
		t.Errorf("Import(non-object) = %d, %v; want 1 and error", n, err)
	}
}

func TestDocumentService_ImportIDField(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestDocumentService(t, "")

	// A non-string id is ignored and a fresh one generated.
	n, err := svc.Import(ctx, "films", strings.NewReader(`{"id":7,"title":"Heat"}`))
	if err != nil || n != 1 {
		t.Fatalf("Import() = %d, %v", n, err)
	}
	doc, err := store.Get(ctx, "films", "doc-00000001")
	if err != nil {
		t.Fatalf("Get(generated) error = %v", err)
	}
	if !strings.Contains(string(doc.Data), `"id":7`) {
		t.Errorf("data = %s, want the original id field kept", doc.Data)
	}

	// Records that are not objects are rejected.
	n, err = svc.Import(ctx, "films", strings.NewReader(`["id","x"]`))
	if !errors.Is(err, document.ErrInvalidData) || n != 0 {
		t.Errorf("Import(array) = %d, %v; want 0 and ErrInvalidData", n, err)
	}
}
