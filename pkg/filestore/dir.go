package filestore

import (
	"sync"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/tidwall/btree"
)

// Directory maps names to node ids, ordered by name.
type Directory struct {
	store *Store

	mu      sync.Mutex
	entries btree.Map[string, uint64]
}

func NewDirectory(store *Store) *Directory {
	return &Directory{store: store}
}

type DirEntry struct {
	Name string
	ID   uint64
}

func (d *Directory) lookup(name string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries.Get(name)
}

// Get returns the node linked under name with a reference held.
func (d *Directory) Get(name string) (*Node, error) {
	id, ok := d.lookup(name)
	if !ok {
		return nil, common.ErrNotFound
	}
	n, ok := d.store.GetNode(id)
	if !ok {
		return nil, common.ErrNotFound
	}
	return n, nil
}

// OpenOrCreate returns the node linked under name, creating it when create
// is set. With exclusive set an existing entry is an error. The returned
// node carries a reference the caller must Release.
func (d *Directory) OpenOrCreate(name string, create, exclusive bool, mode uint32) (*Node, error) {
	if id, ok := d.lookup(name); ok {
		if create && exclusive {
			return nil, common.ErrExists
		}
		if n, ok := d.store.GetNode(id); ok {
			return n, nil
		}
		return nil, common.ErrNotFound
	}
	if !create {
		return nil, common.ErrNotFound
	}

	// The node is allocated without holding the directory lock; a
	// concurrent creator of the same name may win the insert below.
	n, err := d.store.CreateNode(mode)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	existing, taken := d.entries.Get(name)
	if !taken {
		n.link()
		d.entries.Set(name, n.ID)
	}
	d.mu.Unlock()

	if !taken {
		return n, nil
	}

	d.store.MarkUnreferenced(n)
	n.Release()
	if exclusive {
		return nil, common.ErrExists
	}
	if other, ok := d.store.GetNode(existing); ok {
		return other, nil
	}
	return nil, common.ErrNotFound
}

// Unlink removes name from the directory.
func (d *Directory) Unlink(name string) error {
	return d.unlink(name, 0)
}

// UnlinkIf removes name only if it still refers to node id.
func (d *Directory) UnlinkIf(name string, id uint64) error {
	return d.unlink(name, id)
}

func (d *Directory) unlink(name string, want uint64) error {
	d.mu.Lock()
	id, ok := d.entries.Get(name)
	if !ok || (want != 0 && id != want) {
		d.mu.Unlock()
		return common.ErrNotFound
	}
	d.entries.Delete(name)
	d.mu.Unlock()

	n, ok := d.store.GetNode(id)
	if !ok {
		return nil
	}
	if n.unlink() {
		d.store.MarkUnreferenced(n)
	}
	n.Release()
	return nil
}

// List returns the entries in name order.
func (d *Directory) List() []DirEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DirEntry, 0, d.entries.Len())
	d.entries.Scan(func(name string, id uint64) bool {
		out = append(out, DirEntry{Name: name, ID: id})
		return true
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries.Len()
}
