package dnscache

import (
	"errors"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// ErrEmptyRecordSet is returned by CacheAdapter.Set when given no records to
// derive a cache key from.
var ErrEmptyRecordSet = errors.New("dnscache: cannot cache an empty record set")

// CacheAdapter narrows the two-level Cache down to resolver.Cache's plain
// RRset-by-key contract, storing whole answer sets under CachedDataRecords
// rather than exercising the IP-address/canonical-name fast paths that the
// maintenance and negative-caching layers use directly.
type CacheAdapter struct {
	cache *Cache
	clock clock.Clock
}

// NewCacheAdapter wraps a Cache as a resolver.Cache.
func NewCacheAdapter(cache *Cache, clk clock.Clock) *CacheAdapter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &CacheAdapter{cache: cache, clock: clk}
}

func (a *CacheAdapter) Set(records []domain.ResourceRecord) error {
	if len(records) == 0 {
		return ErrEmptyRecordSet
	}
	key := records[0].CacheKey()
	ttl := records[0].TTL()
	now := a.clock.Now()
	rec := domain.NewCachedRecord(domain.RecordsData(records), domain.DnssecUnknown, ttl, now, false)
	a.cache.Insert(key, rec)
	return nil
}

func (a *CacheAdapter) Get(key string) ([]domain.ResourceRecord, bool) {
	rec, _, hit := a.cache.Get(key)
	if !hit || rec.Data.Kind != domain.CachedDataRecords {
		return nil, false
	}
	return rec.Data.Records, true
}

func (a *CacheAdapter) Delete(key string) { a.cache.Delete(key) }

func (a *CacheAdapter) Len() int { return a.cache.Len() }

func (a *CacheAdapter) Keys() []string { return a.cache.Keys() }

var _ resolver.Cache = (*CacheAdapter)(nil)
