package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/docstream/ports"
)

// errHeadersSent is returned by Fail once the response is committed.
var errHeadersSent = errors.New("response headers already sent")

// Channel is the ports.ResponseChannel for one HTTP request.
// It is used by a single goroutine.
type Channel struct {
	w           http.ResponseWriter
	ctx         context.Context
	flush       bool
	headersSent bool
	writeErr    error
}

// NewChannel wraps a response writer. When flush is set every Write is
// pushed to the client immediately.
func NewChannel(w http.ResponseWriter, r *http.Request, flush bool) *Channel {
	return &Channel{w: w, ctx: r.Context(), flush: flush}
}

// SetHeader sets a response header before the response is committed.
func (c *Channel) SetHeader(key, value string) {
	if c.headersSent {
		return
	}
	c.w.Header().Set(key, value)
}

// Write sends p, committing a 200 status on the first call.
func (c *Channel) Write(p []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	if !c.headersSent {
		c.w.WriteHeader(http.StatusOK)
		c.headersSent = true
	}
	if _, err := c.w.Write(p); err != nil {
		c.writeErr = err
		return err
	}
	if c.flush {
		c.Flush()
	}
	return nil
}

// Flush pushes buffered output if the writer supports it.
func (c *Channel) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// End completes the response.
func (c *Channel) End() error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.Flush()
	return nil
}

// Closed reports whether the client disconnected or a write failed.
// A request that hit its deadline is not closed.
func (c *Channel) Closed() bool {
	if c.writeErr != nil {
		return true
	}
	return errors.Is(c.ctx.Err(), context.Canceled)
}

// HeadersSent reports whether the status line has been written.
func (c *Channel) HeadersSent() bool {
	return c.headersSent
}

// Fail writes body as a JSON response with the given status.
func (c *Channel) Fail(status int, body any) error {
	if c.headersSent {
		return fmt.Errorf("fail with %d: %w", status, errHeadersSent)
	}
	c.headersSent = true
	return writeJSON(c.w, status, body)
}

// writeJSON writes v as a complete JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Ensure interface compliance.
var _ ports.ResponseChannel = (*Channel)(nil)
