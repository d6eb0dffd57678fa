package snapshot

import (
	"sync/atomic"
	"time"
)

// Meta is the freshness header carried by every snapshot.
type Meta struct {
	// OK reports whether the last refresh succeeded.
	OK bool

	// Log holds the error text of a failed refresh. Empty when OK.
	Log string

	// NextRecheck is the moment the snapshot must be refreshed again. The
	// zero value means no recheck is scheduled.
	NextRecheck time.Time

	// Populated reports whether Value came from a successful fetch. A failed
	// refresh keeps the last good value, so Populated can be true while OK is
	// false.
	Populated bool
}

// Snapshot is an immutable record published into a Slot. Fields must not be
// modified after Publish.
type Snapshot[T any] struct {
	Meta
	Value T

	// Version is assigned by Publish and increases by one per publication.
	// The placeholder installed by NewSlot has version 0.
	Version uint64

	refs    atomic.Int64
	reclaim func(*Snapshot[T])
}

// New builds an unpublished snapshot.
func New[T any](meta Meta, value T) *Snapshot[T] {
	return &Snapshot[T]{Meta: meta, Value: value}
}

// tryRetain takes a reference unless the count already drained to zero. A
// drained snapshot is never revived.
func (s *Snapshot[T]) tryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference obtained from Slot.Acquire.
func (s *Snapshot[T]) Release() {
	n := s.refs.Add(-1)
	if n < 0 {
		panic("snapshot: reference count went negative")
	}
	if n == 0 && s.reclaim != nil {
		s.reclaim(s)
	}
}

// Slot holds the current snapshot of one remote view. Any number of
// goroutines may Acquire concurrently; at most one writer holds the claim
// obtained by TryBeginWrite until it calls Publish.
type Slot[T any] struct {
	current atomic.Pointer[Snapshot[T]]
	writing atomic.Bool
	reclaim func(*Snapshot[T])
}

type SlotOption[T any] func(*Slot[T])

// WithReclaim registers fn to run once for every superseded snapshot, after
// its last reference is dropped.
func WithReclaim[T any](fn func(*Snapshot[T])) SlotOption[T] {
	return func(s *Slot[T]) {
		s.reclaim = fn
	}
}

func NewSlot[T any](opts ...SlotOption[T]) *Slot[T] {
	s := &Slot[T]{}
	for _, opt := range opts {
		opt(s)
	}

	placeholder := &Snapshot[T]{reclaim: s.reclaim}
	placeholder.refs.Store(1)
	s.current.Store(placeholder)
	return s
}

// Acquire returns the current snapshot with a reference held. It never
// waits for a writer. The caller must call Release on the result.
func (s *Slot[T]) Acquire() *Snapshot[T] {
	for {
		snap := s.current.Load()
		if snap.tryRetain() {
			return snap
		}
		// snap was superseded and drained between the load and the retain;
		// the slot already points at its successor.
	}
}

// TryBeginWrite claims the single writer position. It returns false if
// another refresh is in progress; callers must then use the existing
// snapshot instead of waiting.
func (s *Slot[T]) TryBeginWrite() bool {
	return s.writing.CompareAndSwap(false, true)
}

// Writing reports whether a writer currently holds the claim.
func (s *Slot[T]) Writing() bool {
	return s.writing.Load()
}

// Publish installs next as the current snapshot and releases the writer
// claim. The previous snapshot is reclaimed once its readers are done.
func (s *Slot[T]) Publish(next *Snapshot[T]) {
	if !s.writing.Load() {
		panic("snapshot: publish without a write claim")
	}

	prev := s.current.Load()
	next.Version = prev.Version + 1
	next.reclaim = s.reclaim
	next.refs.Store(1)

	s.current.Store(next)
	s.writing.Store(false)

	// Drop the reference the slot held on its previous snapshot.
	prev.Release()
}
