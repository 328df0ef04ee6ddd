package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ErrNotStreamable is returned when a stream factory produces something
// that is neither a stream nor an iterator.
var ErrNotStreamable = errors.New("value is not a streamable source")

// Receiver is a push stream with pull semantics. Recv blocks until the next
// item is ready and returns io.EOF once the stream is exhausted.
type Receiver interface {
	Recv() (any, error)
}

// Iterator is the asynchronous iteration capability. Next returns
// (nil, false, nil) when exhausted.
type Iterator interface {
	Next(ctx context.Context) (any, bool, error)
}

// Streamer exposes a zero-argument factory returning a Receiver, an
// io.Reader or an Iterator. Query builders that only hit the database when
// asked for a cursor implement it.
type Streamer interface {
	Stream() (any, error)
}

// Kind tags the shape of a classified source.
type Kind int

const (
	KindNone Kind = iota
	KindStream
	KindIterator
	KindFactory
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindIterator:
		return "iterator"
	case KindFactory:
		return "factory"
	default:
		return "none"
	}
}

// Source is the tagged union of recognized streamable shapes.
// Exactly one of the shape fields is set, matching Kind.
type Source struct {
	Kind Kind

	receiver Receiver
	reader   io.Reader
	iterator Iterator
	seq      iter.Seq2[any, error]
	factory  Streamer

	closers []io.Closer
}

// Classify inspects v by capability and reports whether it is streamable.
// Iteration capabilities win over stream capabilities, and both win over
// the factory, so a cursor that also exposes Stream is drained directly.
func Classify(v any) (Source, bool) {
	if v == nil {
		return Source{}, false
	}

	var src Source
	switch s := v.(type) {
	case Iterator:
		src = Source{Kind: KindIterator, iterator: s}
	case iter.Seq2[any, error]:
		src = Source{Kind: KindIterator, seq: s}
	case func(func(any, error) bool):
		src = Source{Kind: KindIterator, seq: s}
	case Receiver:
		src = Source{Kind: KindStream, receiver: s}
	case io.Reader:
		src = Source{Kind: KindStream, reader: s}
	case Streamer:
		src = Source{Kind: KindFactory, factory: s}
	default:
		return Source{}, false
	}

	if c, ok := v.(io.Closer); ok {
		src.closers = append(src.closers, c)
	}
	return src, true
}

// Open resolves a factory source by invoking it once and classifying the
// result, which must be a stream or an iterator. Non-factory sources are
// returned unchanged.
func (s Source) Open() (Source, error) {
	if s.Kind != KindFactory {
		return s, nil
	}

	v, err := s.factory.Stream()
	if err != nil {
		return Source{}, fmt.Errorf("open stream: %w", err)
	}

	opened, ok := Classify(v)
	if !ok || opened.Kind == KindFactory {
		if c, isCloser := v.(io.Closer); isCloser {
			c.Close()
		}
		return Source{}, fmt.Errorf("open stream: %T: %w", v, ErrNotStreamable)
	}

	opened.closers = append(opened.closers, s.closers...)
	return opened, nil
}

// Pull returns a one-item-at-a-time reader over an opened source.
// The caller must Close it.
func (s Source) Pull() (*Puller, error) {
	p := &Puller{closers: s.closers}

	switch {
	case s.iterator != nil:
		p.next = s.iterator.Next
	case s.seq != nil:
		next, stop := iter.Pull2(s.seq)
		p.stop = stop
		p.next = func(context.Context) (any, bool, error) {
			item, err, ok := next()
			if !ok {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return item, true, nil
		}
	case s.receiver != nil:
		p.next = func(context.Context) (any, bool, error) {
			item, err := s.receiver.Recv()
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return item, true, nil
		}
	case s.reader != nil:
		dec := json.NewDecoder(s.reader)
		p.next = func(context.Context) (any, bool, error) {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				if errors.Is(err, io.EOF) {
					return nil, false, nil
				}
				return nil, false, fmt.Errorf("decode stream item: %w", err)
			}
			return raw, true, nil
		}
	default:
		return nil, fmt.Errorf("pull %s source: %w", s.Kind, ErrNotStreamable)
	}

	return p, nil
}

// Puller drains a source in production order.
type Puller struct {
	next    func(context.Context) (any, bool, error)
	stop    func()
	closers []io.Closer
	closed  bool
}

// Next returns the next item, or ok=false once the source is exhausted.
func (p *Puller) Next(ctx context.Context) (item any, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return p.next(ctx)
}

// Close releases the source. It returns the first close error.
func (p *Puller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if p.stop != nil {
		p.stop()
	}

	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
