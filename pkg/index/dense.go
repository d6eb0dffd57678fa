package index

import (
	"fmt"
	"sync"

	"github.com/beam-cloud/contestfs/pkg/common"
)

// Dense indexes values by small non-negative integer keys directly into an
// array. Holes are allowed; the array grows to cover the largest key seen.
type Dense[V any] struct {
	mu      sync.RWMutex
	slots   []V
	present []bool
	maxKey  int
	create  func(int) V
}

// NewDense returns an index that accepts keys in [0, maxKey].
func NewDense[V any](maxKey int, create func(int) V) *Dense[V] {
	return &Dense[V]{maxKey: maxKey, create: create}
}

func (d *Dense[V]) Find(key int) (V, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if key >= 0 && key < len(d.slots) && d.present[key] {
		return d.slots[key], true
	}
	var zero V
	return zero, false
}

func (d *Dense[V]) GetOrCreate(key int) (V, error) {
	if key < 0 || key > d.maxKey {
		var zero V
		return zero, fmt.Errorf("%w: %d not in [0, %d]", common.ErrKeyOutOfRange, key, d.maxKey)
	}
	if v, ok := d.Find(key); ok {
		return v, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if key < len(d.slots) && d.present[key] {
		return d.slots[key], nil
	}
	if key >= len(d.slots) {
		d.grow(key + 1)
	}
	v := d.create(key)
	d.slots[key] = v
	d.present[key] = true
	return v, nil
}

func (d *Dense[V]) grow(n int) {
	size := max(minCapacity, 2*len(d.slots))
	for size < n {
		size *= 2
	}
	size = min(size, d.maxKey+1)

	slots := make([]V, size)
	copy(slots, d.slots)
	present := make([]bool, size)
	copy(present, d.present)
	d.slots, d.present = slots, present
}

// Len returns the number of populated keys.
func (d *Dense[V]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, p := range d.present {
		if p {
			n++
		}
	}
	return n
}

// Range calls fn for each populated key in ascending order until fn
// returns false.
func (d *Dense[V]) Range(fn func(int, V) bool) {
	d.mu.RLock()
	slots := make([]V, len(d.slots))
	copy(slots, d.slots)
	present := make([]bool, len(d.present))
	copy(present, d.present)
	d.mu.RUnlock()

	for k, p := range present {
		if p && !fn(k, slots[k]) {
			return
		}
	}
}
