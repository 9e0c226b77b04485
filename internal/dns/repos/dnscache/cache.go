// Package dnscache implements the two-level DNS answer cache described by
// §4.2: an L1 fast-path cache of positive IP-address lookups backed by an
// L2 sharded map of full CachedRecord entries, a shared Bloom pre-filter,
// stale-while-revalidate serving, probabilistic and batch eviction, negative
// caching, and single-flight upstream coalescing.
package dnscache

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/domain"
)

// EvictionStrategy selects how Cache scores entries for batch eviction.
// LRU is a spec addition beyond the original implementation's HitRate/LFU/
// LFU-K trio (see DESIGN.md) — added here as a fourth, genuinely distinct
// scoring function rather than an alias of one of the others.
type EvictionStrategy uint8

const (
	EvictionHitRate EvictionStrategy = iota
	EvictionLFU
	EvictionLFUK
	EvictionLRU
)

// Options configures a Cache.
type Options struct {
	MaxEntries       int
	L1Capacity       int // capacity of the single shared L1 LRU, typically 64-128
	BloomFPRate      float64
	RefreshThreshold float64 // fraction of TTL at which a record becomes a refresh candidate
	Strategy         EvictionStrategy
	Clock            clock.Clock
	Logger           log.Logger
	// StaleChannelSize bounds the stale-revalidation channel (§4.6). A read
	// that wins the refresh CAS on a stale-usable entry posts its key here;
	// on a full channel the refresh is deferred to the next scheduled cycle.
	StaleChannelSize int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 100_000
	}
	if o.L1Capacity <= 0 {
		o.L1Capacity = 128
	}
	if o.BloomFPRate <= 0 {
		o.BloomFPRate = 0.01
	}
	if o.RefreshThreshold <= 0 {
		o.RefreshThreshold = 0.8
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.StaleChannelSize <= 0 {
		o.StaleChannelSize = 256
	}
	return o
}

// Cache is the two-level DNS cache. It is safe for concurrent use.
type Cache struct {
	opts   Options
	shards [shardCount]*shard

	l1 *lru.Cache[string, []string] // positive A/AAAA hits only, per §4.2

	bloom atomic.Pointer[bitsbloom.BloomFilter]

	size  atomic.Int64 // approximate L2 entry count
	sf    singleflight.Group
	evict evictCounters

	staleCh chan string
}

type evictCounters struct {
	probabilistic atomic.Uint64
	batch         atomic.Uint64
	compacted     atomic.Uint64
}

// New constructs a Cache. L1 is modeled as a single shared LRU front-end
// rather than a literal per-OS-thread cache: Go's goroutine scheduler does
// not pin work to threads the way the original implementation's runtime
// does, so a shared, lock-protected LRU of the same bounded size gives the
// same "small fast front door" behavior without a false thread-affinity
// abstraction.
func New(opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	l1, err := lru.New[string, []string](opts.L1Capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{opts: opts, l1: l1, staleCh: make(chan string, opts.StaleChannelSize)}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	c.bloom.Store(bitsbloom.NewWithEstimates(uint(maxUint(opts.MaxEntries*2, 1000)), opts.BloomFPRate))
	return c, nil
}

func maxUint(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Cache) shardFor(key string) *shard { return c.shards[shardIndex(key)] }

// Get implements the §4.2 read path: bloom miss -> Miss; L1 hit (positive
// IPs only) -> Hit without touching L2; otherwise probe L2, handling stale-
// usable (serve + signal revalidation), hard-expired/tombstoned (lazy
// remove + Miss), and the plain-hit bookkeeping path.
func (c *Cache) Get(key string) (rec *domain.CachedRecord, staleSignal bool, hit bool) {
	bf := c.bloom.Load()
	if bf != nil && !bf.Test([]byte(key)) {
		return nil, false, false
	}
	if ips, ok := c.l1.Get(key); ok {
		// L1 only ever stores already-valid positive answers; construct a
		// lightweight transient record so callers have a uniform return type.
		return domain.NewCachedRecord(domain.IPAddressesData(ips), domain.DnssecUnknown, 0, c.opts.Clock.Now(), false), false, true
	}

	sh := c.shardFor(key)
	rec, ok := sh.get(key)
	if !ok {
		return nil, false, false
	}

	now := c.opts.Clock.Now()
	if rec.IsMarkedForDelete() || rec.IsHardExpired(now) {
		sh.delete(key)
		c.size.Add(-1)
		return nil, false, false
	}

	if rec.IsStaleUsable(now) {
		won := rec.TryStartRefresh()
		if won {
			select {
			case c.staleCh <- key:
			default:
				// Consumer isn't keeping up; don't strand the record in
				// refreshing=true forever, let the next scheduled refresh
				// cycle pick it up instead.
				rec.ClearRefresh()
			}
		}
		return rec, won, true
	}

	rec.RecordHit(now)
	if rec.Data.Kind == domain.CachedDataIPAddresses {
		c.l1.Add(key, rec.Data.Addresses)
	}
	return rec, false, true
}

// Insert writes a record into L2, applying probabilistic eviction when the
// cache is at capacity. Empty, non-negative data is a no-op.
func (c *Cache) Insert(key string, rec *domain.CachedRecord) {
	if rec.Data.IsEmpty() && rec.Data.Kind != domain.CachedDataNegative {
		return
	}
	sh := c.shardFor(key)
	_, existed := sh.get(key)

	if !existed && int(c.size.Load()) >= c.opts.MaxEntries {
		// 1/100 probabilistic single-entry eviction; batch eviction (via
		// maintenance) handles the bulk of capacity pressure.
		if rand.Intn(100) == 0 {
			c.evictOneRandom(sh)
		}
	}

	sh.set(key, rec)
	if !existed {
		c.size.Add(1)
	}
	bf := c.bloom.Load()
	if bf != nil {
		bf.Add([]byte(key))
	}
}

// InsertPermanent inserts a record that bypasses eviction/expiration.
func (c *Cache) InsertPermanent(key string, rec *domain.CachedRecord) {
	rec.Permanent = true
	c.Insert(key, rec)
}

// Delete removes a key from both cache levels.
func (c *Cache) Delete(key string) {
	sh := c.shardFor(key)
	if _, ok := sh.get(key); ok {
		sh.delete(key)
		c.size.Add(-1)
	}
	c.l1.Remove(key)
}

// Len returns the approximate number of L2 entries.
func (c *Cache) Len() int { return int(c.size.Load()) }

// Keys returns a snapshot of all L2 keys across every shard.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.Len())
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k := range sh.data {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}

func (c *Cache) evictOneRandom(sh *shard) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for k, v := range sh.data {
		if v.Permanent {
			continue
		}
		delete(sh.data, k)
		c.size.Add(-1)
		c.evict.probabilistic.Add(1)
		return
	}
}

// Resolver is the upstream lookup invoked on a cache miss, coalesced via
// single-flight so concurrent misses for the same key call upstream exactly
// once (§4.2, §8 invariant #3).
type Resolver func(ctx context.Context) (*domain.CachedRecord, error)

// GetOrResolve implements the cache-then-upstream-with-coalescing pattern:
// a cache hit returns immediately with cacheHit=true; a miss funnels all
// concurrent callers for the same key through singleflight, resolves once,
// inserts the result, and reports cacheHit=false only to the caller that
// actually performed the resolution.
func (c *Cache) GetOrResolve(ctx context.Context, key string, resolve Resolver) (rec *domain.CachedRecord, cacheHit bool, err error) {
	if rec, _, hit := c.Get(key); hit {
		return rec, true, nil
	}

	performed := false
	v, err, _ := c.sf.Do(key, func() (any, error) {
		performed = true
		r, err := resolve(ctx)
		if err != nil {
			return nil, err
		}
		c.Insert(key, r)
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*domain.CachedRecord), !performed, nil
}

// BatchEvict implements the §4.6 maintenance batch-eviction pass: sample up
// to sampleSize non-permanent, non-tombstoned candidates, score them per the
// configured strategy, and remove the worst scoring targetCount below
// minThreshold. Returns the number of entries actually evicted.
func (c *Cache) BatchEvict(sampleSize, targetCount int, minThreshold float64) int {
	now := c.opts.Clock.Now()
	type scored struct {
		key   string
		shard *shard
		score float64
	}
	candidates := make([]scored, 0, sampleSize)

	for _, sh := range c.shards {
		if len(candidates) >= sampleSize {
			break
		}
		sh.mu.RLock()
		for k, v := range sh.data {
			if v.Permanent || v.IsMarkedForDelete() {
				continue
			}
			candidates = append(candidates, scored{key: k, shard: sh, score: c.score(v, now)})
			if len(candidates) >= sampleSize {
				break
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	evicted := 0
	for _, cand := range candidates {
		if evicted >= targetCount {
			break
		}
		if cand.score >= minThreshold {
			continue
		}
		cand.shard.delete(cand.key)
		c.l1.Remove(cand.key)
		c.size.Add(-1)
		c.evict.batch.Add(1)
		evicted++
	}
	return evicted
}

func (c *Cache) score(rec *domain.CachedRecord, now time.Time) float64 {
	switch c.opts.Strategy {
	case EvictionLRU:
		return float64(rec.LastAccess())
	case EvictionLFU:
		return float64(rec.HitCount())
	case EvictionLFUK:
		span := now.Sub(rec.InsertedAt).Seconds()
		if span <= 0 {
			span = 1
		}
		return float64(rec.HitCount()) / span
	default: // EvictionHitRate
		span := now.Sub(rec.InsertedAt).Seconds()
		if span <= 0 {
			span = 1
		}
		return float64(rec.HitCount()) / span
	}
}

// Compact removes marked-for-deletion or hard-expired entries across all
// shards (§4.6 compaction cycle). Returns the number removed.
func (c *Cache) Compact() int {
	now := c.opts.Clock.Now()
	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, v := range sh.data {
			if v.Permanent {
				continue
			}
			if v.IsMarkedForDelete() || v.IsHardExpired(now) {
				delete(sh.data, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		c.size.Add(int64(-removed))
		c.evict.compacted.Add(uint64(removed))
	}
	return removed
}

// RotateBloom rebuilds the Bloom filter from the current L2 contents,
// per §4.6's refresh-cycle bloom rotation step.
func (c *Cache) RotateBloom() {
	n := maxUint(int(c.size.Load())*2, 1000)
	next := bitsbloom.NewWithEstimates(uint(n), c.opts.BloomFPRate)
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k := range sh.data {
			next.Add([]byte(k))
		}
		sh.mu.RUnlock()
	}
	c.bloom.Store(next)
}

// RefreshCandidates collects keys eligible for optimistic refresh: age past
// the refresh threshold but not yet expired, per §4.6 step 3.
func (c *Cache) RefreshCandidates(limit int) []string {
	now := c.opts.Clock.Now()
	out := make([]string, 0, limit)
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k, v := range sh.data {
			if v.ShouldRefresh(c.opts.RefreshThreshold, now) {
				out = append(out, k)
				if len(out) >= limit {
					sh.mu.RUnlock()
					return out
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// EvictionCounters exposes cumulative eviction bookkeeping for observability.
func (c *Cache) EvictionCounters() (probabilistic, batch, compacted uint64) {
	return c.evict.probabilistic.Load(), c.evict.batch.Load(), c.evict.compacted.Load()
}

// StaleRevalidations exposes the channel a maintenance consumer drains to
// immediately revalidate entries a reader found stale-usable, per the §4.6
// stale-revalidation channel. Each key is posted at most once per CAS win.
func (c *Cache) StaleRevalidations() <-chan string {
	return c.staleCh
}

// RawGet fetches the raw L2 record for a key without bloom/L1 fast paths,
// used by the maintenance service to re-fetch a record it already knows the
// key for (refresh candidates, stale-revalidation channel entries).
func (c *Cache) RawGet(key string) (*domain.CachedRecord, bool) {
	return c.shardFor(key).get(key)
}
