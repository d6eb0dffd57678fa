package render

import (
	"fmt"

	"github.com/beam-cloud/contestfs/pkg/metrics"
	"github.com/beam-cloud/ristretto"
)

const DefaultCacheBytes = 16 << 20

// Key identifies one rendering of one snapshot.
type Key struct {
	View    string
	Entity  string
	Version uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%d", k.View, k.Entity, k.Version)
}

type Options struct {
	MaxBytes int64
	Metrics  *metrics.Metrics
}

// Cache memoizes rendered text by snapshot version. Snapshots are immutable,
// so a (view, entity, version) key never needs invalidation.
type Cache struct {
	cache   *ristretto.Cache[string, []byte]
	metrics *metrics.Metrics
}

func NewCache(opts Options) (*Cache, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultCacheBytes
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e5,
		MaxCost:     opts.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: cache, metrics: opts.Metrics}, nil
}

// Get returns the cached rendering for key, calling render on a miss.
func (c *Cache) Get(key Key, render func() []byte) []byte {
	k := key.String()
	if data, ok := c.cache.Get(k); ok {
		c.record(int64(len(data)), true)
		return data
	}

	data := render()
	c.cache.Set(k, data, int64(len(data)))
	c.record(int64(len(data)), false)
	return data
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	c.cache.Wait()
}

func (c *Cache) Close() {
	c.cache.Close()
}

func (c *Cache) record(n int64, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordRender(n, hit)
	}
}
