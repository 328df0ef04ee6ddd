package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/artpar/docstream/adapters/projection"
	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/go-chi/chi/v5"
)

// maxDocumentBytes caps the body of a document insert.
const maxDocumentBytes = 1 << 20

// View is a named jq projection served as a streaming endpoint.
type View struct {
	Name       string
	Expr       string
	Collection string // restricts the view to one collection; empty allows any
}

// DocumentHandler serves the document API.
type DocumentHandler struct {
	service *app.DocumentService
	views   []View
}

// NewDocumentHandler creates the document API handler.
func NewDocumentHandler(service *app.DocumentService, views []View) *DocumentHandler {
	return &DocumentHandler{service: service, views: views}
}

// Endpoints returns the document API routes, one per configured view included.
func (h *DocumentHandler) Endpoints() []Endpoint {
	eps := []Endpoint{
		{
			ID:     "documents.list",
			Method: http.MethodGet,
			Path:   "/api/collections/{collection}/documents",
			Handle: h.List,
			Stream: &streaming.Marker{},
		},
		{
			ID:     "documents.summary",
			Method: http.MethodGet,
			Path:   "/api/collections/{collection}/documents/summary",
			Handle: h.List,
			Stream: &streaming.Marker{Projection: projection.Struct[document.Summary]()},
		},
		{
			ID:     "documents.get",
			Method: http.MethodGet,
			Path:   "/api/collections/{collection}/documents/{id}",
			Handle: h.Get,
		},
		{
			ID:     "documents.create",
			Method: http.MethodPost,
			Path:   "/api/collections/{collection}/documents",
			Handle: h.Create,
		},
		{
			ID:     "documents.ids",
			Method: http.MethodGet,
			Path:   "/api/collections/{collection}/ids",
			Handle: h.IDs,
			Stream: &streaming.Marker{},
		},
		{
			ID:     "archives.get",
			Method: http.MethodGet,
			Path:   "/api/archives/{name}",
			Handle: h.Archive,
			Stream: &streaming.Marker{},
		},
	}

	for _, v := range h.views {
		eps = append(eps, Endpoint{
			ID:     "views." + v.Name,
			Method: http.MethodGet,
			Path:   "/api/collections/{collection}/views/" + v.Name,
			Handle: h.view(v),
			Stream: &streaming.Marker{Projection: projection.JQ(v.Expr)},
		})
	}
	return eps
}

// List streams the documents of a collection in id order.
//
//	@Summary		List documents
//	@Description	Streams documents as a JSON array. Items are written as they are read.
//	@Tags			Documents
//	@Produce		json
//	@Param			collection	path		string	true	"Collection name"
//	@Param			limit		query		int		false	"Maximum documents (default 1000)"
//	@Param			after		query		string	false	"Only ids after this one"
//	@Success		200			{array}		document.Document
//	@Failure		400			{object}	ErrorResponseBody
//	@Router			/api/collections/{collection}/documents [get]
func (h *DocumentHandler) List(r *http.Request) (any, error) {
	opts, err := findOptions(r)
	if err != nil {
		return nil, err
	}
	return h.service.Find(r.Context(), opts)
}

// IDs streams the ids of a collection's documents.
//
//	@Summary		List document ids
//	@Tags			Documents
//	@Produce		json
//	@Param			collection	path	string	true	"Collection name"
//	@Success		200			{array}	string
//	@Router			/api/collections/{collection}/ids [get]
func (h *DocumentHandler) IDs(r *http.Request) (any, error) {
	opts, err := findOptions(r)
	if err != nil {
		return nil, err
	}
	return h.service.IDs(r.Context(), opts)
}

// Get returns one document.
//
//	@Summary		Get document
//	@Tags			Documents
//	@Produce		json
//	@Param			collection	path		string	true	"Collection name"
//	@Param			id			path		string	true	"Document id"
//	@Success		200			{object}	document.Document
//	@Failure		404			{object}	ErrorResponseBody
//	@Router			/api/collections/{collection}/documents/{id} [get]
func (h *DocumentHandler) Get(r *http.Request) (any, error) {
	return h.service.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
}

// Create inserts a document from the JSON object in the body.
//
//	@Summary		Create document
//	@Tags			Documents
//	@Accept			json
//	@Produce		json
//	@Param			collection	path		string	true	"Collection name"
//	@Success		201			{object}	document.Document
//	@Failure		400			{object}	ErrorResponseBody
//	@Router			/api/collections/{collection}/documents [post]
func (h *DocumentHandler) Create(r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxDocumentBytes))
	if err != nil {
		return nil, BadRequest("request body too large or unreadable")
	}

	doc, err := h.service.Insert(r.Context(), chi.URLParam(r, "collection"), body)
	if err != nil {
		return nil, err
	}
	return Response{Status: http.StatusCreated, Body: doc}, nil
}

// Archive streams the records of an NDJSON archive file.
//
//	@Summary		Stream archive
//	@Tags			Archives
//	@Produce		json
//	@Param			name	path	string	true	"Archive name"
//	@Success		200		{array}	object
//	@Failure		404		{object}	ErrorResponseBody
//	@Router			/api/archives/{name} [get]
func (h *DocumentHandler) Archive(r *http.Request) (any, error) {
	return h.service.Archive(chi.URLParam(r, "name"))
}

func (h *DocumentHandler) view(v View) HandlerFunc {
	return func(r *http.Request) (any, error) {
		if v.Collection != "" && chi.URLParam(r, "collection") != v.Collection {
			return nil, NotFound("view " + v.Name + " is not defined for this collection")
		}
		opts, err := findOptions(r)
		if err != nil {
			return nil, err
		}
		return h.service.Find(r.Context(), opts)
	}
}

func findOptions(r *http.Request) (document.FindOptions, error) {
	opts := document.FindOptions{
		Collection: chi.URLParam(r, "collection"),
		After:      r.URL.Query().Get("after"),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return opts, BadRequest("limit must be a positive integer")
		}
		opts.Limit = n
	}
	return opts, nil
}
