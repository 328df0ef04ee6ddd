package streaming

import "errors"

// ErrStreamAborted marks a stream that failed after the response headers
// were sent. The client received a truncated array.
var ErrStreamAborted = errors.New("stream aborted after headers were sent")

// State is the per-request stream state.
type State int

const (
	StateNotStarted State = iota
	StateHeaderSent
	StateWritingFirst
	StateWriting
	StateClosed
	StateAbortedBeforeHeaders
	StateAbortedAfterHeaders
	StateCancelled
)

var stateNames = map[State]string{
	StateNotStarted:           "not_started",
	StateHeaderSent:           "header_sent",
	StateWritingFirst:         "writing_first",
	StateWriting:              "writing",
	StateClosed:               "closed",
	StateAbortedBeforeHeaders: "aborted_before_headers",
	StateAbortedAfterHeaders:  "aborted_after_headers",
	StateCancelled:            "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateClosed, StateAbortedBeforeHeaders, StateAbortedAfterHeaders, StateCancelled:
		return true
	}
	return false
}

// Tracker follows one request through the stream state machine.
// It is not safe for concurrent use; a stream is drained by one goroutine.
type Tracker struct {
	state State
	items int64
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Items returns the number of items written so far.
func (t *Tracker) Items() int64 {
	return t.items
}

// HeaderSent records that the array-open bracket went out.
func (t *Tracker) HeaderSent() {
	if t.state == StateNotStarted {
		t.state = StateHeaderSent
	}
}

// ItemWritten advances the writing states.
func (t *Tracker) ItemWritten() {
	t.items++
	switch t.state {
	case StateHeaderSent:
		t.state = StateWritingFirst
	case StateWritingFirst:
		t.state = StateWriting
	}
}

// NeedsSeparator reports whether a comma must precede the next item.
func (t *Tracker) NeedsSeparator() bool {
	return t.items > 0
}

// Close records normal exhaustion.
func (t *Tracker) Close() {
	if !t.state.Terminal() {
		t.state = StateClosed
	}
}

// Cancel records a client disconnect.
func (t *Tracker) Cancel() {
	if !t.state.Terminal() {
		t.state = StateCancelled
	}
}

// Abort records a failure. headersSent selects which aborted state applies.
func (t *Tracker) Abort(headersSent bool) {
	if t.state.Terminal() {
		return
	}
	if headersSent {
		t.state = StateAbortedAfterHeaders
		return
	}
	t.state = StateAbortedBeforeHeaders
}
