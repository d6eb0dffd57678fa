package index

import (
	"cmp"
	"sort"
	"sync"
)

const minCapacity = 4

type entry[K cmp.Ordered, V any] struct {
	key   K
	value V
}

// Sorted is a growable array of values kept in ascending key order. Lookups
// take a shared lock and binary search; a miss upgrades to the exclusive lock
// to insert. Entries are never removed.
type Sorted[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries []entry[K, V]
	create  func(K) V
}

// NewSorted returns an empty index that calls create to build the value for
// a key on its first GetOrCreate.
func NewSorted[K cmp.Ordered, V any](create func(K) V) *Sorted[K, V] {
	return &Sorted[K, V]{create: create}
}

// search returns the position of key, or the position where it would be
// inserted. Callers must hold mu.
func (s *Sorted[K, V]) search(key K) (int, bool) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].key >= key
	})
	return i, i < len(s.entries) && s.entries[i].key == key
}

func (s *Sorted[K, V]) Find(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.search(key); ok {
		return s.entries[i].value, true
	}
	var zero V
	return zero, false
}

func (s *Sorted[K, V]) GetOrCreate(key K) V {
	if v, ok := s.Find(key); ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Somebody may have inserted key between the two locks.
	i, ok := s.search(key)
	if ok {
		return s.entries[i].value
	}

	v := s.create(key)
	s.insertAt(i, entry[K, V]{key: key, value: v})
	return v
}

func (s *Sorted[K, V]) insertAt(i int, e entry[K, V]) {
	if len(s.entries) == cap(s.entries) {
		grown := make([]entry[K, V], len(s.entries), max(minCapacity, 2*cap(s.entries)))
		copy(grown, s.entries)
		s.entries = grown
	}
	s.entries = s.entries[:len(s.entries)+1]
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *Sorted[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns a copy of the keys in ascending order.
func (s *Sorted[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// Range calls fn for each entry in key order until fn returns false. fn runs
// on a copy of the array, so it may call back into the index.
func (s *Sorted[K, V]) Range(fn func(K, V) bool) {
	s.mu.RLock()
	entries := make([]entry[K, V], len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	for _, e := range entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}
