package filestore

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Node is a writable in-memory file.
type Node struct {
	ID    uint64
	store *Store

	mu    sync.RWMutex
	data  []byte
	mode  uint32
	atime time.Time
	mtime time.Time
	ctime time.Time
	nlink int
	opens int

	refs atomic.Int32

	// Guarded by store.mu.
	parked bool
	dead   bool
}

type Attr struct {
	Mode  uint32
	Size  int64
	Nlink int
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func (n *Node) Attr() Attr {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return Attr{
		Mode:  n.mode,
		Size:  int64(len(n.data)),
		Nlink: n.nlink,
		Atime: n.atime,
		Mtime: n.mtime,
		Ctime: n.ctime,
	}
}

func (n *Node) Size() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return int64(len(n.data))
}

// Release drops a reference taken by CreateNode or GetNode.
func (n *Node) Release() {
	left := n.refs.Add(-1)
	if left < 0 {
		panic(fmt.Sprintf("filestore: node %d reference count went negative", n.ID))
	}
	if left == 0 {
		n.store.released(n)
	}
}

// Open records an open handle.
func (n *Node) Open() {
	n.mu.Lock()
	n.opens++
	n.atime = n.store.now()
	n.mu.Unlock()
}

// Close drops an open handle. Closing the last handle of an unlinked node
// makes it unreferenced.
func (n *Node) Close() {
	n.mu.Lock()
	if n.opens == 0 {
		n.mu.Unlock()
		panic(fmt.Sprintf("filestore: node %d closed more often than opened", n.ID))
	}
	n.opens--
	idle := n.opens == 0 && n.nlink == 0
	n.mu.Unlock()

	if idle {
		n.store.MarkUnreferenced(n)
	}
}

func (n *Node) link() {
	n.mu.Lock()
	n.nlink++
	n.ctime = n.store.now()
	n.mu.Unlock()
}

// unlink drops a directory link and reports whether none remain.
func (n *Node) unlink() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nlink--
	if n.nlink < 0 {
		panic(fmt.Sprintf("filestore: node %d link count went negative", n.ID))
	}
	n.ctime = n.store.now()
	return n.nlink == 0
}

// Truncate sets the node size.
func (n *Node) Truncate(size int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.truncateLocked(size); err != nil {
		return err
	}
	now := n.store.now()
	n.mtime, n.ctime = now, now
	return nil
}

// truncateLocked grows or shrinks the buffer. Growth is charged against the
// store byte quota and fails without side effects if it does not fit; the
// shrunk tail is zeroed. Callers must hold n.mu.
func (n *Node) truncateLocked(size int64) error {
	if size < 0 {
		return fmt.Errorf("negative size %d", size)
	}
	cur := int64(len(n.data))
	switch {
	case size > cur:
		if err := n.store.reserve(size - cur); err != nil {
			return err
		}
		if size > int64(cap(n.data)) {
			grown := make([]byte, size, max(size, 2*int64(cap(n.data))))
			copy(grown, n.data)
			n.data = grown
		} else {
			n.data = n.data[:size]
		}
	case size < cur:
		clear(n.data[size:cur])
		n.data = n.data[:size]
		n.store.total.Add(size - cur)
	}
	return nil
}

func (n *Node) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(n.data)) {
		if err := n.truncateLocked(end); err != nil {
			return 0, err
		}
	}
	copy(n.data[off:end], p)
	now := n.store.now()
	n.mtime, n.ctime = now, now
	return len(p), nil
}

func (n *Node) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if off >= int64(len(n.data)) {
		return 0, io.EOF
	}
	c := copy(p, n.data[off:])
	if c < len(p) {
		return c, io.EOF
	}
	return c, nil
}

// Bytes returns a copy of the contents.
func (n *Node) Bytes() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out
}

func (n *Node) SetMode(mode uint32) {
	n.mu.Lock()
	n.mode = mode
	n.ctime = n.store.now()
	n.mu.Unlock()
}
