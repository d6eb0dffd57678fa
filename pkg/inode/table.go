package inode

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/zeebo/blake3"
)

// RootInode is reserved for the filesystem root.
const RootInode uint64 = 1

const (
	initialSize = 31
	probeStride = 1
)

// Digest identifies a path. It is the BLAKE3 sum of the path string.
type Digest [32]byte

func Sum(path string) Digest {
	return blake3.Sum256([]byte(path))
}

type entry struct {
	digest Digest
	ino    uint64 // zero marks an empty slot
}

// Table assigns small stable integers to digests. It is an open-addressed
// hash table of prime size that is rebuilt into a larger prime once half of
// its slots are used. Deletion re-inserts the rest of the probe chain, so
// the table never holds tombstones.
type Table struct {
	mu    sync.RWMutex
	slots []entry
	used  int
	next  uint64
}

// NewTable returns a table whose first assigned inode is first. Zero marks
// an empty slot, so numbering starts at 1 at the earliest.
func NewTable(first uint64) *Table {
	if first == 0 {
		first = 1
	}
	return &Table{
		slots: make([]entry, initialSize),
		next:  first,
	}
}

func home(d Digest, size int) int {
	return int(binary.LittleEndian.Uint64(d[:8]) % uint64(size))
}

// probe walks the chain for d and returns the slot holding it or the first
// empty slot. Callers must hold mu.
func (t *Table) probe(d Digest) (int, bool) {
	size := len(t.slots)
	i := home(d, size)
	for steps := 0; steps < size; steps++ {
		e := &t.slots[i]
		if e.ino == 0 {
			return i, false
		}
		if e.digest == d {
			return i, true
		}
		i = (i + probeStride) % size
	}
	panic("inode: probe chain covers the whole table")
}

func (t *Table) Find(d Digest) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i, ok := t.probe(d); ok {
		return t.slots[i].ino, true
	}
	return 0, false
}

// Insert returns the inode assigned to d, assigning the next serial number
// if d is new.
func (t *Table) Insert(d Digest) uint64 {
	if ino, ok := t.Find(d); ok {
		return ino
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.probe(d)
	if ok {
		return t.slots[i].ino
	}

	if 2*(t.used+1) > len(t.slots) {
		t.rehash(nextPrime(2 * len(t.slots)))
		i, _ = t.probe(d)
	}

	ino := t.next
	t.next++
	t.slots[i] = entry{digest: d, ino: ino}
	t.used++
	return ino
}

// Delete removes d and reports whether it was present. Every entry that
// follows it in the probe chain is re-inserted so it stays reachable.
func (t *Table) Delete(d Digest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.probe(d)
	if !ok {
		return false
	}
	t.slots[i] = entry{}
	t.used--

	size := len(t.slots)
	for j := (i + probeStride) % size; t.slots[j].ino != 0; j = (j + probeStride) % size {
		moved := t.slots[j]
		t.slots[j] = entry{}
		k, _ := t.probe(moved.digest)
		t.slots[k] = moved
	}
	return true
}

func (t *Table) rehash(size int) {
	old := t.slots
	t.slots = make([]entry, size)
	for _, e := range old {
		if e.ino == 0 {
			continue
		}
		i, _ := t.probe(e.digest)
		t.slots[i] = e
	}
}

// Len returns the number of assigned digests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.used
}

// Size returns the number of slots.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// GetInode returns the stable inode number for path.
func (t *Table) GetInode(path string) uint64 {
	return t.Insert(Sum(path))
}

// Forget drops the mapping for path. A later GetInode assigns a new number.
func (t *Table) Forget(path string) bool {
	return t.Delete(Sum(path))
}

func nextPrime(n int) int {
	if n < 2 {
		return 2
	}
	for p := n; ; p++ {
		if big.NewInt(int64(p)).ProbablyPrime(20) {
			return p
		}
	}
}
