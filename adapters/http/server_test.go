package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/artpar/docstream/adapters/clock"
	apihttp "github.com/artpar/docstream/adapters/http"
	"github.com/artpar/docstream/adapters/idgen"
	"github.com/artpar/docstream/adapters/memory"
	"github.com/artpar/docstream/adapters/metrics"
	"github.com/artpar/docstream/adapters/projection"
	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/key"
	"github.com/artpar/docstream/domain/ratelimit"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router   chi.Router
	store    ports.DocumentStore
	service  *app.DocumentService
	registry *streaming.Registry
	metrics  *metrics.Collector
}

type envOptions struct {
	store      ports.DocumentStore
	archiveDir string
	views      []apihttp.View
	hashes     []string
	rateLimit  ratelimit.Policy
	noFlush    bool
}

func setupTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	store := opts.store
	if store == nil {
		store = memory.NewDocumentStore()
	}
	logger := zerolog.Nop()
	collector := metrics.NewWithRegistry(prometheus.NewRegistry())

	registry := streaming.NewRegistry()
	bridge := app.NewStreamBridge(app.BridgeDeps{
		Registry:  registry,
		Projector: projection.NewEngine(),
		Observer:  collector,
		Logger:    logger,
	})
	service := app.NewDocumentService(store, idgen.NewSequential("doc-"), clock.NewFake(baseTime), logger,
		app.DocumentServiceConfig{ArchiveDir: opts.archiveDir})

	cfg := apihttp.RouterConfig{Metrics: collector, EnableOpenAPI: true}
	if opts.hashes != nil {
		cfg.APIKeyHashes = func() []string { return opts.hashes }
	}
	if opts.rateLimit.Enabled() {
		limiter := memory.NewLimiter(opts.rateLimit, memory.LimiterConfig{})
		t.Cleanup(func() { limiter.Close() })
		cfg.RateLimiter = limiter
		cfg.Clock = clock.NewFake(baseTime)
	}
	router := apihttp.NewRouter(apihttp.NewHealthHandler(store), logger, cfg)

	server := apihttp.NewServer(registry, bridge, logger, apihttp.ServerConfig{Flush: !opts.noFlush})
	docs := apihttp.NewDocumentHandler(service, opts.views)
	if err := server.Register(router, docs.Endpoints()...); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	registry.Freeze()
	if err := bridge.ValidateProjections(); err != nil {
		t.Fatalf("ValidateProjections() error = %v", err)
	}

	return &testEnv{router: router, store: store, service: service, registry: registry, metrics: collector}
}

func (e *testEnv) insert(t *testing.T, coll, id, data string) {
	t.Helper()
	doc, err := document.New(id, coll, []byte(data), baseTime)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if err := e.store.Insert(context.Background(), doc); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestDocuments_ListStreams(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	env.insert(t, "books", "b2", `{"title":"Emma"}`)
	env.insert(t, "books", "b1", `{"title":"Dune"}`)

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `[{"id":"b1","collection":"books","data":{"title":"Dune"},"created_at":"2024-01-15T12:00:00Z"},` +
		`{"id":"b2","collection":"books","data":{"title":"Emma"},"created_at":"2024-01-15T12:00:00Z"}]`
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %s\nwant   %s", got, want)
	}
	if !rec.Flushed {
		t.Error("response not flushed")
	}
}

func TestDocuments_ListEmptyAndPaged(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))
	if rec.Body.String() != "[]" {
		t.Errorf("empty body = %s, want []", rec.Body.String())
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		env.insert(t, "books", id, `{}`)
	}
	rec = env.do(httptest.NewRequest("GET", "/api/collections/books/ids?after=a&limit=2", nil))
	if rec.Body.String() != `["b","c"]` {
		t.Errorf("ids body = %s, want [\"b\",\"c\"]", rec.Body.String())
	}
}

func TestDocuments_ListBadRequest(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	tests := []struct {
		name string
		path string
	}{
		{"bad limit", "/api/collections/books/documents?limit=abc"},
		{"zero limit", "/api/collections/books/documents?limit=0"},
		{"negative limit", "/api/collections/books/ids?limit=-3"},
		{"bad collection", "/api/collections/b%20ooks/documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
			}
			var body apihttp.ErrorResponseBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code == "" {
				t.Errorf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestDocuments_SummaryProjection(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	env.insert(t, "books", "b1", `{"title":"Dune","secret":"x"}`)

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents/summary", nil))

	want := `[{"id":"b1","collection":"books","created_at":"2024-01-15T12:00:00Z"}]`
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestDocuments_View(t *testing.T) {
	env := setupTestEnv(t, envOptions{views: []apihttp.View{
		{Name: "titles", Expr: "{title: .data.title}"},
		{Name: "authors", Expr: "{author: .data.author}", Collection: "books"},
	}})
	env.insert(t, "books", "b1", `{"title":"Dune","author":"Herbert"}`)
	env.insert(t, "films", "f1", `{"title":"Alien"}`)

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/views/titles", nil))
	if got := rec.Body.String(); got != `[{"title":"Dune"}]` {
		t.Errorf("titles body = %s", got)
	}

	rec = env.do(httptest.NewRequest("GET", "/api/collections/films/views/authors", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("restricted view status = %d, want 404", rec.Code)
	}

	if md := env.registry.Lookup("views.titles"); !md.Streaming || md.Projection == nil {
		t.Errorf("views.titles metadata = %+v", md)
	}
}

func TestDocuments_GetAndCreate(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	rec := env.do(httptest.NewRequest("POST", "/api/collections/books/documents", strings.NewReader(`{"title":"Dune"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created document.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID != "doc-00000001" {
		t.Errorf("created id = %s", created.ID)
	}

	rec = env.do(httptest.NewRequest("GET", "/api/collections/books/documents/doc-00000001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"title":"Dune"`) {
		t.Errorf("get body = %s", rec.Body.String())
	}
	if env.registry.Lookup("documents.get").Streaming {
		t.Error("documents.get must not be marked for streaming")
	}

	rec = env.do(httptest.NewRequest("GET", "/api/collections/books/documents/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}

	rec = env.do(httptest.NewRequest("POST", "/api/collections/books/documents", strings.NewReader(`[1]`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", rec.Code)
	}
}

func TestArchives(t *testing.T) {
	dir := t.TempDir()
	content := "{\"n\": 1}\n{\"n\": 2}\n\"tail\"\n"
	if err := os.WriteFile(filepath.Join(dir, "2023.ndjson"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	env := setupTestEnv(t, envOptions{archiveDir: dir})

	rec := env.do(httptest.NewRequest("GET", "/api/archives/2023", nil))
	if got := rec.Body.String(); got != `[{"n":1},{"n":2},"tail"]` {
		t.Errorf("body = %s", got)
	}

	rec = env.do(httptest.NewRequest("GET", "/api/archives/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing archive status = %d, want 404", rec.Code)
	}
}

// failingStore fails the way a broken database does: either when the
// cursor is opened or after some rows.
type failingStore struct {
	*memory.DocumentStore
	openErr   error
	failAfter int
}

type failingQuery struct {
	s *failingStore
}

func (q failingQuery) Stream() (any, error) {
	if q.s.openErr != nil {
		return nil, q.s.openErr
	}
	n := 0
	return iterFunc(func(ctx context.Context) (any, bool, error) {
		if n == q.s.failAfter {
			return nil, false, errors.New("connection reset")
		}
		n++
		return map[string]int{"n": n}, true, nil
	}), nil
}

type iterFunc func(ctx context.Context) (any, bool, error)

func (f iterFunc) Next(ctx context.Context) (any, bool, error) { return f(ctx) }

func (s *failingStore) Find(ctx context.Context, opts document.FindOptions) streaming.Streamer {
	return failingQuery{s: s}
}

func TestStream_FailureBeforeHeaders(t *testing.T) {
	store := &failingStore{DocumentStore: memory.NewDocumentStore(), openErr: errors.New("database is locked")}
	env := setupTestEnv(t, envOptions{store: store})

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	want := `{"error":"An error occurred while processing the stream"}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
	if got := testutil.ToFloat64(env.metrics.StreamsTotal.WithLabelValues("documents.list", "aborted_before_headers")); got != 1 {
		t.Errorf("aborted_before_headers = %v, want 1", got)
	}
}

func TestStream_FailureAfterHeadersDropsConnection(t *testing.T) {
	store := &failingStore{DocumentStore: memory.NewDocumentStore(), failAfter: 2}
	env := setupTestEnv(t, envOptions{store: store})

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/collections/books/documents")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (headers were committed)", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Errorf("read succeeded with %s, want a truncated transfer", body)
	}
	if !strings.HasPrefix(string(body), `[{"n":1},{"n":2}`) {
		t.Errorf("body = %s, want the two items before the failure", body)
	}
	if json.Valid(body) {
		t.Errorf("body %s is valid JSON, want truncated array", body)
	}
}

func TestStream_FailureAfterHeadersWithoutFlush(t *testing.T) {
	tests := []struct {
		name      string
		failAfter int
		want      string
	}{
		{"after items", 2, `[{"n":1},{"n":2}`},
		{"first pull", 0, `[`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingStore{DocumentStore: memory.NewDocumentStore(), failAfter: tt.failAfter}
			env := setupTestEnv(t, envOptions{store: store, noFlush: true})

			srv := httptest.NewServer(env.router)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/api/collections/books/documents")
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err == nil {
				t.Errorf("read succeeded with %s, want a truncated transfer", body)
			}
			if string(body) != tt.want {
				t.Errorf("body = %s, want %s", body, tt.want)
			}
		})
	}
}

func TestStream_WithoutFlush(t *testing.T) {
	env := setupTestEnv(t, envOptions{noFlush: true})
	env.insert(t, "books", "b1", `{"title":"Dune"}`)
	env.insert(t, "books", "b2", `{"title":"Emma"}`)

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/ids", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `["b1","b2"]` {
		t.Errorf("body = %s", got)
	}
}

func TestServer_RegisterDuplicate(t *testing.T) {
	registry := streaming.NewRegistry()
	bridge := app.NewStreamBridge(app.BridgeDeps{Registry: registry, Projector: projection.NewEngine(), Logger: zerolog.Nop()})
	server := apihttp.NewServer(registry, bridge, zerolog.Nop(), apihttp.ServerConfig{})

	ep := apihttp.Endpoint{
		ID:     "dup",
		Method: "GET",
		Path:   "/a",
		Handle: func(*http.Request) (any, error) { return nil, nil },
		Stream: &streaming.Marker{},
	}
	second := ep
	second.Path = "/b"

	err := server.Register(chi.NewRouter(), ep, second)
	if !errors.Is(err, streaming.ErrAlreadyMarked) {
		t.Errorf("Register() error = %v, want ErrAlreadyMarked", err)
	}
}

func TestServer_MarkedNonStreamableValue(t *testing.T) {
	registry := streaming.NewRegistry()
	bridge := app.NewStreamBridge(app.BridgeDeps{Registry: registry, Projector: projection.NewEngine(), Logger: zerolog.Nop()})
	server := apihttp.NewServer(registry, bridge, zerolog.Nop(), apihttp.ServerConfig{})
	r := chi.NewRouter()

	err := server.Register(r,
		apihttp.Endpoint{
			ID: "plain", Method: "GET", Path: "/plain",
			Handle: func(*http.Request) (any, error) { return map[string]int{"x": 1}, nil },
			Stream: &streaming.Marker{},
		},
		apihttp.Endpoint{
			ID: "empty", Method: "GET", Path: "/empty",
			Handle: func(*http.Request) (any, error) { return nil, nil },
		},
	)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/plain", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != `{"x":1}` {
		t.Errorf("plain body = %s, want {\"x\":1}", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/empty", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("empty status = %d, want 204", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	raw, hash, err := key.Generate(key.DefaultPrefix)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	env := setupTestEnv(t, envOptions{hashes: []string{hash}})

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing key", "/api/collections/books/documents", nil, http.StatusUnauthorized},
		{"wrong key", "/api/collections/books/documents", map[string]string{"X-API-Key": "ds_nope"}, http.StatusUnauthorized},
		{"x-api-key", "/api/collections/books/documents", map[string]string{"X-API-Key": raw}, http.StatusOK},
		{"bearer", "/api/collections/books/documents", map[string]string{"Authorization": "Bearer " + raw}, http.StatusOK},
		{"query", "/api/collections/books/documents?api_key=" + raw, nil, http.StatusOK},
		{"health is public", "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := env.do(req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := setupTestEnv(t, envOptions{rateLimit: ratelimit.Policy{Limit: 2, Per: time.Minute}})

	for i := range 2 {
		rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("request %d: X-RateLimit-Remaining = %q", i, got)
		}
	}

	rec := env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if !strings.Contains(rec.Body.String(), `"rate_limit_exceeded"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := testutil.ToFloat64(env.metrics.RateLimited); got != 1 {
		t.Errorf("rate_limited_total = %v, want 1", got)
	}

	// A keyed client has its own budget.
	req := httptest.NewRequest("GET", "/api/collections/books/documents", nil)
	req.Header.Set("X-API-Key", "ds_other")
	if rec := env.do(req); rec.Code != http.StatusOK {
		t.Errorf("keyed client status = %d", rec.Code)
	}

	if rec := env.do(httptest.NewRequest("GET", "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
}

func TestInfrastructureEndpoints(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	tests := []struct {
		path     string
		want     int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/health/ready", http.StatusOK, `"status":"ok"`},
		{"/version", http.StatusOK, `"service":"docstream"`},
		{"/.well-known/openapi.json", http.StatusOK, `"openapi"`},
		{"/nope", http.StatusNotFound, `"not_found"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.contains)
			}
		})
	}

	if !json.Valid(apihttp.OpenAPISpec()) {
		t.Error("embedded OpenAPI document is not valid JSON")
	}
}

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	env.insert(t, "books", "b1", `{}`)

	env.do(httptest.NewRequest("GET", "/api/collections/books/documents", nil))
	env.do(httptest.NewRequest("GET", "/api/collections/films/documents", nil))

	got := testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("GET", "/api/collections/{collection}/documents", "2xx"))
	if got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(env.metrics.StreamItems.WithLabelValues("documents.list")); got != 1 {
		t.Errorf("stream_items_total = %v, want 1", got)
	}
}
