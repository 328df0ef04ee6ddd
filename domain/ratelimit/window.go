// Package ratelimit provides the fixed-window request budget used to
// throttle API clients. All functions are pure: the caller owns the state.
package ratelimit

import "time"

// Policy is a per-client request budget.
type Policy struct {
	Limit int           // requests per window
	Per   time.Duration // window length
	Burst int           // extra requests allowed once Limit is spent
}

// Enabled reports whether the policy throttles anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Per > 0
}

// Window is one client's usage within the current window.
type Window struct {
	Used      int
	BurstUsed int
	Resets    time.Time
}

// Expired reports whether the window has ended at now.
func (w Window) Expired(now time.Time) bool {
	return w.Resets.IsZero() || !now.Before(w.Resets)
}

// Decision is the outcome of spending one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a denied client should wait.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Spend charges one request against w. Windows are aligned to multiples of
// p.Per so every client's budget resets on the same boundaries.
func Spend(w Window, p Policy, now time.Time) (Decision, Window) {
	if !p.Enabled() {
		return Decision{Allowed: true}, w
	}

	if w.Expired(now) {
		w = Window{Resets: now.Truncate(p.Per).Add(p.Per)}
	}

	d := Decision{Limit: p.Limit, ResetAt: w.Resets}
	switch {
	case w.Used < p.Limit:
		w.Used++
		d.Allowed = true
		d.Remaining = p.Limit - w.Used
	case w.BurstUsed < p.Burst:
		w.Used++
		w.BurstUsed++
		d.Allowed = true
	}
	return d, w
}
