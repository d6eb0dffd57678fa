package filestore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

const (
	DefaultMaxNodes = 1024
	DefaultMaxBytes = 64 << 20
)

type Options struct {
	// MaxNodes bounds the number of nodes that exist at once, including
	// unlinked nodes that are still referenced.
	MaxNodes int

	// MaxBytes bounds the total size of all node contents.
	MaxBytes int64

	// Now is used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

type parked struct {
	node *Node
	at   time.Time
}

// Store is a bounded in-memory set of writable file nodes.
type Store struct {
	opts Options

	mu      sync.Mutex
	live    btree.Map[uint64, *Node]
	reclaim []parked
	nextID  uint64
	count   int

	total atomic.Int64
}

func New(opts Options) *Store {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{opts: opts, nextID: 1}
}

// CreateNode allocates an empty node with one reference held by the caller.
func (s *Store) CreateNode(mode uint32) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count >= s.opts.MaxNodes {
		return nil, common.ErrNodeQuota
	}

	now := s.opts.Now()
	n := &Node{
		ID:    s.nextID,
		store: s,
		mode:  mode,
		atime: now,
		mtime: now,
		ctime: now,
	}
	n.refs.Store(1)

	s.nextID++
	s.count++
	s.live.Set(n.ID, n)
	return n, nil
}

// GetNode returns the live node with the given id and takes a reference on
// it. The caller must Release it.
func (s *Store) GetNode(id uint64) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.live.Get(id)
	if !ok {
		return nil, false
	}
	n.refs.Add(1)
	return n, true
}

// MarkUnreferenced removes n from the live index once it has neither links
// nor open handles. A node that still has references is parked until its
// last reference is released.
func (s *Store) MarkUnreferenced(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.mu.RLock()
	idle := n.nlink == 0 && n.opens == 0
	n.mu.RUnlock()
	if !idle || n.dead || n.parked {
		return
	}
	s.live.Delete(n.ID)
	if n.refs.Load() == 0 {
		s.destroyLocked(n)
		return
	}
	n.parked = true
	s.reclaim = append(s.reclaim, parked{node: n, at: s.opts.Now()})
}

// released runs when the last reference to n is dropped.
func (s *Store) released(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !n.parked || n.dead || n.refs.Load() != 0 {
		return
	}
	for i, p := range s.reclaim {
		if p.node == n {
			s.reclaim = append(s.reclaim[:i], s.reclaim[i+1:]...)
			break
		}
	}
	s.destroyLocked(n)
}

func (s *Store) destroyLocked(n *Node) {
	n.mu.Lock()
	size := int64(len(n.data))
	n.data = nil
	n.mu.Unlock()

	s.total.Add(-size)
	n.dead = true
	n.parked = false
	s.count--

	log.Debug().Uint64("node", n.ID).Int64("size", size).Msg("file node destroyed")
}

// reserve adds delta bytes to the store total unless that would exceed the
// quota.
func (s *Store) reserve(delta int64) error {
	for {
		cur := s.total.Load()
		if cur+delta > s.opts.MaxBytes {
			return common.ErrSizeQuota
		}
		if s.total.CompareAndSwap(cur, cur+delta) {
			return nil
		}
	}
}

type Stats struct {
	Live   int
	Parked int
	Bytes  int64
	// OldestParked is when the longest-waiting parked node was unlinked.
	OldestParked time.Time
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Live:   s.live.Len(),
		Parked: len(s.reclaim),
		Bytes:  s.total.Load(),
	}
	if len(s.reclaim) > 0 {
		st.OldestParked = s.reclaim[0].at
	}
	return st
}

func (s *Store) now() time.Time {
	return s.opts.Now()
}
