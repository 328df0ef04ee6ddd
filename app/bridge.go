// Package app provides application services that orchestrate domain logic.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/artpar/docstream/domain/streaming"
	"github.com/artpar/docstream/ports"
	"github.com/rs/zerolog"
)

// StreamErrorMessage is the body sent when a stream fails before any
// output was committed.
const StreamErrorMessage = "An error occurred while processing the stream"

// StreamErrorBody is the fixed error shape for pre-header stream failures.
type StreamErrorBody struct {
	Error string `json:"error"`
}

// Call is one handler invocation result handed to the bridge.
type Call struct {
	Handler string
	Value   any
}

// Responder is the standard single-value response path.
type Responder func(value any) error

// StreamBridge sits between handler invocation and response delivery.
// Values returned by handlers marked for streaming are drained item by item
// into a JSON array; everything else goes to the Responder unchanged.
type StreamBridge struct {
	registry  *streaming.Registry
	projector ports.Projector
	observer  ports.StreamObserver
	logger    zerolog.Logger
}

// BridgeDeps contains dependencies for StreamBridge.
type BridgeDeps struct {
	Registry  *streaming.Registry
	Projector ports.Projector
	Observer  ports.StreamObserver // optional
	Logger    zerolog.Logger
}

// NewStreamBridge creates a stream bridge.
func NewStreamBridge(deps BridgeDeps) *StreamBridge {
	return &StreamBridge{
		registry:  deps.Registry,
		projector: deps.Projector,
		observer:  deps.Observer,
		logger:    deps.Logger,
	}
}

// ValidateProjections checks every marked handler's projection descriptor.
// Call it at startup, after all handlers are marked.
func (b *StreamBridge) ValidateProjections() error {
	return b.registry.Each(func(handler string, md streaming.Metadata) error {
		if md.Projection == nil {
			return nil
		}
		if b.projector == nil {
			return fmt.Errorf("handler %s: projection %s set but no projector configured", handler, md.Projection.Name())
		}
		if err := b.projector.Validate(md.Projection); err != nil {
			return fmt.Errorf("handler %s: %w", handler, err)
		}
		return nil
	})
}

// Intercept delivers a handler's return value.
//
// A nil return means the response is complete, either rendered normally,
// streamed fully, rendered as an error before any output, or abandoned
// because the client went away. A non-nil error from the streaming path
// wraps streaming.ErrStreamAborted: the client got a truncated array.
// Errors from respond are returned as is.
func (b *StreamBridge) Intercept(ctx context.Context, call Call, ch ports.ResponseChannel, respond Responder) error {
	md := b.registry.Lookup(call.Handler)
	if !md.Streaming {
		return respond(call.Value)
	}

	src, ok := streaming.Classify(call.Value)
	if !ok {
		b.logger.Debug().
			Str("handler", call.Handler).
			Str("type", fmt.Sprintf("%T", call.Value)).
			Msg("value not streamable, using standard response")
		if b.observer != nil {
			b.observer.StreamPassthrough(call.Handler)
		}
		return respond(call.Value)
	}

	return b.stream(ctx, call.Handler, md, src, ch)
}

func (b *StreamBridge) stream(ctx context.Context, handler string, md streaming.Metadata, src streaming.Source, ch ports.ResponseChannel) error {
	var tr streaming.Tracker
	start := time.Now()

	if b.observer != nil {
		b.observer.StreamStarted(handler)
	}
	defer func() {
		if b.observer != nil {
			b.observer.StreamEnded(handler, tr.State(), tr.Items(), time.Since(start))
		}
		b.logger.Debug().
			Str("handler", handler).
			Str("kind", src.Kind.String()).
			Str("state", tr.State().String()).
			Int64("items", tr.Items()).
			Dur("duration", time.Since(start)).
			Msg("stream finished")
	}()

	opened, err := src.Open()
	if err != nil {
		return b.abort(&tr, handler, ch, err)
	}

	puller, err := opened.Pull()
	if err != nil {
		return b.abort(&tr, handler, ch, err)
	}
	defer func() {
		if err := puller.Close(); err != nil {
			b.logger.Warn().Err(err).Str("handler", handler).Msg("failed to close stream source")
		}
	}()

	if ch.Closed() {
		tr.Cancel()
		return nil
	}

	ch.SetHeader("Content-Type", "application/json")
	if err := ch.Write([]byte("[")); err != nil {
		b.cancel(&tr, handler, err)
		return nil
	}
	tr.HeaderSent()

	var buf bytes.Buffer
	for {
		if ch.Closed() {
			tr.Cancel()
			return nil
		}

		item, ok, err := puller.Next(ctx)
		if err != nil {
			if ch.Closed() {
				tr.Cancel()
				return nil
			}
			return b.abort(&tr, handler, ch, fmt.Errorf("read item %d: %w", tr.Items(), err))
		}
		if !ok {
			break
		}

		buf.Reset()
		if tr.NeedsSeparator() {
			buf.WriteByte(',')
		}
		if err := b.encode(ctx, &buf, md.Projection, item); err != nil {
			return b.abort(&tr, handler, ch, fmt.Errorf("encode item %d: %w", tr.Items(), err))
		}

		if ch.Closed() {
			tr.Cancel()
			return nil
		}
		if err := ch.Write(buf.Bytes()); err != nil {
			b.cancel(&tr, handler, err)
			return nil
		}
		tr.ItemWritten()
	}

	if err := ch.Write([]byte("]")); err != nil {
		b.cancel(&tr, handler, err)
		return nil
	}
	if err := ch.End(); err != nil {
		b.cancel(&tr, handler, err)
		return nil
	}
	tr.Close()
	return nil
}

// encode projects item if a descriptor is set and appends its JSON text to buf.
func (b *StreamBridge) encode(ctx context.Context, buf *bytes.Buffer, desc streaming.Descriptor, item any) error {
	if desc != nil {
		projected, err := b.projector.Project(ctx, desc, item)
		if err != nil {
			return err
		}
		item = projected
	}

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item); err != nil {
		return err
	}
	// Encode always terminates with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// abort ends a failed stream. Before headers the failure is rendered as a
// 500 with a fixed body; after headers the output stays truncated and the
// error is returned to the caller.
func (b *StreamBridge) abort(tr *streaming.Tracker, handler string, ch ports.ResponseChannel, cause error) error {
	headersSent := ch.HeadersSent()
	tr.Abort(headersSent)

	b.logger.Error().
		Err(cause).
		Str("handler", handler).
		Bool("headers_sent", headersSent).
		Int64("items", tr.Items()).
		Msg("error in stream processing")

	if headersSent {
		return fmt.Errorf("stream %s: %w: %w", handler, streaming.ErrStreamAborted, cause)
	}

	if err := ch.Fail(http.StatusInternalServerError, StreamErrorBody{Error: StreamErrorMessage}); err != nil {
		b.logger.Warn().Err(err).Str("handler", handler).Msg("failed to write stream error response")
	}
	return nil
}

// cancel records a channel that stopped accepting writes.
func (b *StreamBridge) cancel(tr *streaming.Tracker, handler string, cause error) {
	tr.Cancel()
	b.logger.Debug().
		Err(cause).
		Str("handler", handler).
		Int64("items", tr.Items()).
		Msg("response channel closed, stream cancelled")
}
