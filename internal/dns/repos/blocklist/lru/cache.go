package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist"
)

// decisionCache is an LRU-backed implementation of blocklist.DecisionCache.
// It tracks basic metrics: hits, misses, and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.BlockDecision]
	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// New creates a new DecisionCache with the given capacity. If size <= 0, a
// disabled no-op cache is returned that always misses and tracks no metrics.
func New(size int) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	cache, err := newLRU(size)
	if err != nil {
		return nil, err
	}
	return &decisionCache{lru: cache, capacity: size}, nil
}

// newLRU constructs the underlying LRU; tests replace it to simulate a
// construction failure.
var newLRU = func(size int) (*lru.Cache[string, domain.BlockDecision], error) {
	return lru.New[string, domain.BlockDecision](size)
}

// Get looks up a decision by name. When found, increments hits; otherwise increments misses.
func (c *decisionCache) Get(name string) (domain.BlockDecision, bool) {
	if val, ok := c.lru.Get(name); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	var zero domain.BlockDecision
	return zero, false
}

// Put stores a decision by name, counting an eviction when the add displaces
// the least recently used entry.
func (c *decisionCache) Put(name string, d domain.BlockDecision) {
	if c.lru.Add(name, d) {
		atomic.AddUint64(&c.evictions, 1)
	}
}

// Len returns the number of entries in the cache.
func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries, counting each removed entry as an eviction.
func (c *decisionCache) Purge() {
	n := c.lru.Len()
	c.lru.Purge()
	atomic.AddUint64(&c.evictions, uint64(n))
}

// Stats returns cumulative hit/miss/eviction counters plus capacity/size.
func (c *decisionCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

// disabledCache implementation

func (d *disabledCache) Get(string) (domain.BlockDecision, bool) {
	var zero domain.BlockDecision
	return zero, false
}

func (d *disabledCache) Put(string, domain.BlockDecision) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() blocklist.CacheStats { return blocklist.CacheStats{} }

var _ blocklist.DecisionCache = (*decisionCache)(nil)
var _ blocklist.DecisionCache = (*disabledCache)(nil)
