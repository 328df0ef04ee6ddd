// Package http exposes docstream over HTTP. Endpoints return plain values;
// values from endpoints marked for streaming are written incrementally as
// a JSON array by the stream bridge.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/domain/streaming"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HandlerFunc produces an endpoint's value. A returned error is written as
// a JSON error response; the value goes through the stream bridge.
type HandlerFunc func(r *http.Request) (any, error)

// Endpoint declares one route.
type Endpoint struct {
	ID     string // handler identity, unique per process
	Method string
	Path   string
	Handle HandlerFunc

	// Stream opts the endpoint into streaming. Nil means a single JSON value.
	Stream *streaming.Marker
}

// Response overrides the status of a non-streamed value.
type Response struct {
	Status int
	Body   any
}

// Server mounts endpoints and routes their values through the bridge.
type Server struct {
	registry *streaming.Registry
	bridge   *app.StreamBridge
	flush    bool
	logger   zerolog.Logger
}

// ServerConfig contains configuration for Server.
type ServerConfig struct {
	Flush bool // flush after every streamed item
}

// NewServer creates an endpoint server.
func NewServer(registry *streaming.Registry, bridge *app.StreamBridge, logger zerolog.Logger, cfg ServerConfig) *Server {
	return &Server{
		registry: registry,
		bridge:   bridge,
		flush:    cfg.Flush,
		logger:   logger,
	}
}

// Register marks streaming endpoints and mounts all endpoints on r.
// It fails if a handler ID is used twice or the registry is frozen.
func (s *Server) Register(r chi.Router, endpoints ...Endpoint) error {
	for _, ep := range endpoints {
		if ep.Stream != nil {
			if err := s.registry.Mark(ep.ID, *ep.Stream); err != nil {
				return fmt.Errorf("register %s %s: %w", ep.Method, ep.Path, err)
			}
		}
		r.Method(ep.Method, ep.Path, s.serve(ep))
	}
	return nil
}

func (s *Server) serve(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := ep.Handle(r)
		if err != nil {
			herr := toError(err)
			if herr.Status >= http.StatusInternalServerError {
				s.logger.Error().
					Err(err).
					Str("handler", ep.ID).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("handler failed")
			}
			writeError(w, herr)
			return
		}

		ch := NewChannel(w, r, s.flush)
		err = s.bridge.Intercept(r.Context(), app.Call{Handler: ep.ID, Value: value}, ch, func(v any) error {
			return respond(w, v)
		})
		if err == nil {
			return
		}

		s.logger.Error().
			Err(err).
			Str("handler", ep.ID).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("response failed")

		if errors.Is(err, streaming.ErrStreamAborted) {
			// Push out what was written, then drop the connection so the
			// client cannot mistake the truncated array for a complete response.
			ch.Flush()
			panic(http.ErrAbortHandler)
		}
	}
}

// respond is the standard single-value path.
func respond(w http.ResponseWriter, v any) error {
	switch v := v.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
		return nil
	case Response:
		if v.Body == nil {
			w.WriteHeader(v.Status)
			return nil
		}
		return writeJSON(w, v.Status, v.Body)
	default:
		return writeJSON(w, http.StatusOK, v)
	}
}
