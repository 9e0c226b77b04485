// Package maintenance runs the cache's background upkeep: optimistic
// refresh of soon-to-expire entries, periodic compaction, and an immediate
// consumer for entries a reader found stale-usable. Each is a cooperative
// goroutine started and stopped the way pool.HealthChecker manages its probe
// loop - a context for cancellation plus an explicit stopCh for Stop().
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// Cache is the subset of dnscache.Cache the maintenance service drives. It
// is declared here, narrow, rather than imported from repos/dnscache, so
// this package stays a pure service with no dependency on a concrete
// storage implementation.
type Cache interface {
	Len() int
	RefreshCandidates(limit int) []string
	BatchEvict(sampleSize, targetCount int, minThreshold float64) int
	Compact() int
	RotateBloom()
	StaleRevalidations() <-chan string
	RawGet(key string) (*domain.CachedRecord, bool)
	Insert(key string, rec *domain.CachedRecord)
}

// Validator verifies the DNSSEC chain for a name refreshed by this service.
// Only consulted when Options.DnssecEnabled is set.
type Validator interface {
	Validate(ctx context.Context, name string, rrtype domain.RRType, now time.Time) (domain.DnssecStatus, error)
}

// Options configures a Service.
type Options struct {
	Cache     Cache
	Upstream  resolver.UpstreamClient
	QueryLog  resolver.QueryLogSink
	Validator Validator
	Clock     clock.Clock
	Logger    log.Logger

	DnssecEnabled bool

	RefreshInterval time.Duration // N: how often the refresh cycle runs
	CompactInterval time.Duration // M, M > N: how often compaction runs
	QueryTimeout    time.Duration // per-candidate upstream deadline

	RefreshLimit             int     // candidates pulled per refresh cycle
	EvictHighWater           int     // cache.Len() at/above which eviction is deferred-run
	EvictSampleSize          int
	EvictTargetCount         int
	EvictMinThreshold        float64
	BackpressurePerCandidate time.Duration // sleep added per candidate processed
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.CompactInterval <= 0 {
		o.CompactInterval = 5 * time.Minute
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 2 * time.Second
	}
	if o.RefreshLimit <= 0 {
		o.RefreshLimit = 100
	}
	if o.EvictHighWater <= 0 {
		o.EvictHighWater = 90_000
	}
	if o.EvictSampleSize <= 0 {
		o.EvictSampleSize = 200
	}
	if o.EvictTargetCount <= 0 {
		o.EvictTargetCount = 50
	}
	if o.BackpressurePerCandidate <= 0 {
		o.BackpressurePerCandidate = 5 * time.Millisecond
	}
	return o
}

// Service runs the refresh, compaction, and stale-revalidation loops.
type Service struct {
	opts Options

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// New constructs a Service. Start must be called to begin its loops.
func New(opts Options) *Service {
	return &Service{opts: opts.withDefaults(), stopCh: make(chan struct{})}
}

// Start launches the three cooperative loops in background goroutines and
// returns immediately.
func (s *Service) Start(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	wg.Add(3)
	go s.refreshLoop(ctx, wg)
	go s.compactionLoop(ctx, wg)
	go s.staleLoop(ctx, wg)
}

// Stop signals every loop to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

func (s *Service) refreshLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runRefreshCycle(ctx)
		}
	}
}

func (s *Service) compactionLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.opts.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			removed := s.opts.Cache.Compact()
			if removed > 0 && s.opts.Logger != nil {
				s.opts.Logger.Debug(map[string]any{"removed": removed}, "cache compaction removed entries")
			}
		}
	}
}

func (s *Service) staleLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ch := s.opts.Cache.StaleRevalidations()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case key := <-ch:
			s.revalidate(ctx, key)
		}
	}
}

// runRefreshCycle implements one pass of the refresh cycle: deferred
// eviction, bloom rotation, candidate collection, per-candidate
// revalidation, and a backpressure sleep proportional to the work done.
func (s *Service) runRefreshCycle(ctx context.Context) {
	if s.opts.Cache.Len() >= s.opts.EvictHighWater {
		evicted := s.opts.Cache.BatchEvict(s.opts.EvictSampleSize, s.opts.EvictTargetCount, s.opts.EvictMinThreshold)
		if evicted > 0 && s.opts.Logger != nil {
			s.opts.Logger.Debug(map[string]any{"evicted": evicted}, "deferred batch eviction ran")
		}
	}

	s.opts.Cache.RotateBloom()

	candidates := s.opts.Cache.RefreshCandidates(s.opts.RefreshLimit)
	for _, key := range candidates {
		if ctx.Err() != nil {
			return
		}
		s.revalidate(ctx, key)
	}

	if n := len(candidates); n > 0 {
		sleep := time.Duration(n) * s.opts.BackpressurePerCandidate
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-time.After(sleep):
		}
	}
}

// revalidate issues an upstream query for key's name/type, optionally
// validates its DNSSEC chain, and on success atomically replaces the
// cache entry's data. On failure it only clears the refreshing flag, per
// the stale-while-revalidate contract: a failed refresh never evicts data
// that is still within the stale-usable window.
func (s *Service) revalidate(ctx context.Context, key string) {
	name, rrtype, class, ok := domain.ParseCacheKey(key)
	if !ok {
		s.warn(map[string]any{"key": key}, "cache maintenance: unparsable cache key")
		return
	}
	q, err := domain.NewQuestion(0, name, rrtype, class)
	if err != nil {
		s.warn(map[string]any{"key": key, "error": err}, "cache maintenance: invalid question from cache key")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	now := s.opts.Clock.Now()

	if s.opts.Upstream == nil {
		s.clearRefreshing(key)
		return
	}

	records, err := s.opts.Upstream.Resolve(cctx, q, now)
	if err != nil {
		s.clearRefreshing(key)
		s.logRefresh(q, now, false, nil)
		return
	}

	var status domain.DnssecStatus
	var statusPtr *domain.DnssecStatus
	if s.opts.DnssecEnabled && s.opts.Validator != nil {
		st, verr := s.opts.Validator.Validate(cctx, name, rrtype, now)
		if verr != nil {
			s.warn(map[string]any{"name": name, "error": verr}, "dnssec validation failed during refresh")
		} else {
			status = st
			statusPtr = &st
			if status == domain.DnssecBogus {
				s.clearRefreshing(key)
				s.logRefresh(q, now, false, statusPtr)
				return
			}
		}
	}

	var ttl uint32
	if len(records) > 0 {
		ttl = records[0].TTL()
	}
	rec := domain.NewCachedRecord(domain.RecordsData(records), status, ttl, now, false)
	s.opts.Cache.Insert(key, rec)
	s.logRefresh(q, now, true, statusPtr)
}

func (s *Service) clearRefreshing(key string) {
	if rec, ok := s.opts.Cache.RawGet(key); ok {
		rec.ClearRefresh()
	}
}

func (s *Service) logRefresh(q domain.Question, now time.Time, success bool, status *domain.DnssecStatus) {
	if s.opts.QueryLog == nil {
		return
	}
	st := domain.ResponseServfail
	if success {
		st = domain.ResponseNoError
	}
	s.opts.QueryLog.Enqueue(domain.QueryLog{
		Domain:         q.Name,
		RecordType:     q.Type,
		CacheRefresh:   true,
		DnssecStatus:   status,
		ResponseStatus: st,
		QuerySource:    domain.QuerySourceInternal,
		Timestamp:      now,
	})
}

func (s *Service) warn(fields map[string]any, msg string) {
	if s.opts.Logger != nil {
		s.opts.Logger.Warn(fields, msg)
	}
}
