package inode

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// digestAt builds a digest whose home slot in a table of the given size is
// slot, with tag making it unique.
func digestAt(slot, size int, tag byte) Digest {
	var d Digest
	binary.LittleEndian.PutUint64(d[:8], uint64(slot+size*int(tag)))
	d[31] = tag
	return d
}

func TestInsertIsIdempotent(t *testing.T) {
	table := NewTable(2)

	a := table.GetInode("/1/problems/3")
	b := table.GetInode("/1/problems/4")
	assert.Equal(t, uint64(2), a)
	assert.Equal(t, uint64(3), b)
	assert.Equal(t, a, table.GetInode("/1/problems/3"))
	assert.Equal(t, 2, table.Len())
}

func TestInodesSurviveGrowth(t *testing.T) {
	table := NewTable(2)
	require.Equal(t, initialSize, table.Size())

	assigned := map[string]uint64{}
	for i := 0; i < initialSize/2; i++ {
		p := fmt.Sprintf("/contest/%d", i)
		assigned[p] = table.GetInode(p)
	}
	require.Equal(t, initialSize, table.Size(), "no growth below half load")

	// This insertion crosses 50% load.
	p := "/contest/trigger"
	assigned[p] = table.GetInode(p)
	grown := table.Size()
	assert.Greater(t, grown, 2*initialSize-1)
	assert.True(t, big.NewInt(int64(grown)).ProbablyPrime(20), "size %d must be prime", grown)

	for path, ino := range assigned {
		got, ok := table.Find(Sum(path))
		require.True(t, ok, path)
		assert.Equal(t, ino, got, path)
		assert.Equal(t, ino, table.GetInode(path), path)
	}

	// Many more insertions and several more growths.
	for i := 0; i < 5000; i++ {
		p := fmt.Sprintf("/contest/1/runs/%d", i)
		assigned[p] = table.GetInode(p)
	}
	for path, ino := range assigned {
		assert.Equal(t, ino, table.GetInode(path), path)
	}
	assert.LessOrEqual(t, 2*table.Len(), table.Size())
}

func TestDeleteRelocatesTrailingChain(t *testing.T) {
	table := NewTable(10)
	size := table.Size()

	head := digestAt(5, size, 0)
	chain := []Digest{digestAt(5, size, 1), digestAt(5, size, 2), digestAt(6, size, 3)}

	headIno := table.Insert(head)
	inos := make([]uint64, len(chain))
	for i, d := range chain {
		inos[i] = table.Insert(d)
	}
	// The last digest homes at 6 but had to be placed after the 5-chain.
	require.Equal(t, chain[2], table.slots[8].digest)

	require.True(t, table.Delete(head))
	_, ok := table.Find(head)
	assert.False(t, ok)

	for i, d := range chain {
		got, ok := table.Find(d)
		require.True(t, ok, "chain entry %d lost after delete", i)
		assert.Equal(t, inos[i], got)
	}
	assert.Equal(t, 3, table.Len())
	assert.NotEqual(t, headIno, table.Insert(head), "a deleted digest gets a fresh inode")
}

func TestDeleteWrapsAround(t *testing.T) {
	table := NewTable(2)
	size := table.Size()

	last := size - 1
	a := digestAt(last, size, 0)
	b := digestAt(last, size, 1)
	c := digestAt(last, size, 2)
	for _, d := range []Digest{a, b, c} {
		table.Insert(d)
	}
	require.Equal(t, b, table.slots[0].digest)

	require.True(t, table.Delete(a))
	for _, d := range []Digest{b, c} {
		_, ok := table.Find(d)
		assert.True(t, ok)
	}
	assert.False(t, table.Delete(a))
}

func TestForget(t *testing.T) {
	table := NewTable(2)
	ino := table.GetInode("/submit/a.c")
	assert.True(t, table.Forget("/submit/a.c"))
	assert.False(t, table.Forget("/submit/a.c"))
	assert.NotEqual(t, ino, table.GetInode("/submit/a.c"))
}

func TestZeroIsNeverAssigned(t *testing.T) {
	table := NewTable(0)
	ino := table.GetInode("/")
	assert.Equal(t, uint64(1), ino)

	got, ok := table.Find(Sum("/"))
	require.True(t, ok)
	assert.Equal(t, ino, got)
	assert.Equal(t, ino, table.GetInode("/"))
}

func TestConcurrentGetInode(t *testing.T) {
	table := NewTable(2)

	const goroutines = 8
	const paths = 2000
	results := make([][]uint64, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			out := make([]uint64, paths)
			for i := 0; i < paths; i++ {
				out[i] = table.GetInode(fmt.Sprintf("/p/%d", i))
			}
			results[g] = out
		}(g)
	}
	wg.Wait()

	for g := 1; g < goroutines; g++ {
		assert.Equal(t, results[0], results[g])
	}
	assert.Equal(t, paths, table.Len())
}
