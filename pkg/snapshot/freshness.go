package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSkipped is returned by a FetchFunc that cannot run yet for reasons
// local to the process. The write claim is dropped and nothing is published.
var ErrSkipped = errors.New("refresh skipped")

// Policy stamps refresh results with their next recheck time.
type Policy struct {
	// CacheTTL is how long a successful snapshot is served before it is
	// refreshed. Zero means a successful snapshot never expires.
	CacheTTL time.Duration

	// RetryDelay is the backoff after a failed refresh.
	RetryDelay time.Duration
}

func (p Policy) Success(now time.Time) Meta {
	m := Meta{OK: true}
	if p.CacheTTL > 0 {
		m.NextRecheck = now.Add(p.CacheTTL)
	}
	return m
}

func (p Policy) Failure(now time.Time, err error) Meta {
	m := Meta{OK: false, NextRecheck: now.Add(p.RetryDelay)}
	if err != nil {
		m.Log = err.Error()
	}
	return m
}

// NeedsRefresh is the freshness gate. A good snapshot is refreshed only once
// its recheck time has been reached; a failed one is refreshed immediately
// unless it is still inside its backoff window.
func NeedsRefresh(m Meta, now time.Time) bool {
	if m.OK {
		return !m.NextRecheck.IsZero() && !now.Before(m.NextRecheck)
	}
	return m.NextRecheck.IsZero() || !now.Before(m.NextRecheck)
}

// Settler is implemented by values that can reach a final state. A settled
// value is published without a recheck time.
type Settler interface {
	Settled() bool
}

// FetchFunc retrieves a fresh value for a slot. prev is the snapshot that
// was current when the write claim was taken and is valid only for the
// duration of the call.
type FetchFunc[T any] func(ctx context.Context, prev *Snapshot[T]) (T, error)

// Refresh runs fetch and publishes its result if the slot's snapshot is due
// for a refresh at now and no other refresh is underway. It reports whether
// a refresh was performed. Fetch errors are recorded in the published
// snapshot and never returned, except ErrSkipped, which leaves the slot
// untouched.
func Refresh[T any](ctx context.Context, slot *Slot[T], policy Policy, now time.Time, fetch FetchFunc[T]) bool {
	snap := slot.Acquire()
	due := NeedsRefresh(snap.Meta, now)
	snap.Release()
	if !due {
		return false
	}

	if !slot.TryBeginWrite() {
		return false
	}

	// Another writer may have published between the check and the claim.
	prev := slot.Acquire()
	if !NeedsRefresh(prev.Meta, now) {
		prev.Release()
		slot.writing.Store(false)
		return false
	}

	next := run(ctx, prev, policy, now, fetch)
	prev.Release()
	if next == nil {
		slot.writing.Store(false)
		return false
	}
	slot.Publish(next)
	return true
}

func run[T any](ctx context.Context, prev *Snapshot[T], policy Policy, now time.Time, fetch FetchFunc[T]) (next *Snapshot[T]) {
	defer func() {
		// A panicking fetch must not leave the write claim held forever.
		if r := recover(); r != nil {
			next = failed(prev, policy.Failure(now, panicError{r}))
		}
	}()

	value, err := fetch(ctx, prev)
	if errors.Is(err, ErrSkipped) {
		return nil
	}
	if err != nil {
		return failed(prev, policy.Failure(now, err))
	}

	meta := policy.Success(now)
	meta.Populated = true
	if s, ok := any(value).(Settler); ok && s.Settled() {
		meta.NextRecheck = time.Time{}
	}
	return New(meta, value)
}

// failed builds a failure snapshot that keeps serving the last good value.
func failed[T any](prev *Snapshot[T], meta Meta) *Snapshot[T] {
	meta.Populated = prev.Populated
	return New(meta, prev.Value)
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("refresh panicked: %v", e.value)
}

// Expire republishes the current snapshot of slot with its recheck moved to
// now, so the next gate evaluation refreshes it. It reports false if a
// refresh is already underway; that refresh will publish newer data anyway.
func Expire[T any](slot *Slot[T], now time.Time) bool {
	if !slot.TryBeginWrite() {
		return false
	}

	cur := slot.Acquire()
	next := New(cur.Meta, cur.Value)
	next.NextRecheck = now
	cur.Release()

	slot.Publish(next)
	return true
}
