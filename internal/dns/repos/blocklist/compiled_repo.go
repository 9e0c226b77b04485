package blocklist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist/groupindex"
)

// cnameEntry is a cached CNAME-cloaking decision keyed by (query name, group).
type cnameEntry struct {
	outcome   domain.FilterOutcome
	expiresAt time.Time
}

// Engine is the multi-group, multi-source Block-Filter Engine (§4.1). It
// holds the compiled BlockIndex and the client-group index behind atomic
// pointers so concurrent readers never lock, and maintains the bounded
// CNAME-cloaking decision cache described by §9's "decision-cache lifetime"
// design note.
type Engine struct {
	index  atomic.Pointer[BlockIndex]
	groups atomic.Pointer[groupindex.Index]
	clock  clock.Clock
	factory BloomFactory

	cnameMu    chanMutex
	cnameCache map[string]cnameEntry
}

// chanMutex is a tiny mutex built from a buffered channel, matching the
// teacher's preference for explicit primitives over sync.Mutex wrappers when
// the critical section must be short and contention low (CNAME decision
// cache writes happen once per resolved CNAME chain, not per query).
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}
func (c chanMutex) Lock()   { <-c }
func (c chanMutex) Unlock() { c <- struct{}{} }

// NewEngine constructs an Engine with an empty index; call Reload to compile
// and publish the first BlockIndex before serving queries.
func NewEngine(clk clock.Clock, factory BloomFactory) *Engine {
	e := &Engine{
		clock:      clk,
		factory:    factory,
		cnameMu:    newChanMutex(),
		cnameCache: make(map[string]cnameEntry),
	}
	empty := Compile(context.Background(), CompileOptions{DefaultGroupID: 0}, factory)
	e.index.Store(empty)
	idx, _ := groupindex.Build(nil, 0)
	e.groups.Store(idx)
	return e
}

// Reload recompiles the BlockIndex and atomically swaps it in. Fetch
// failures for individual sources are tolerated (§4.1 "never fail reload"),
// and Reload returns no error: Compile always produces an index.
func (e *Engine) Reload(ctx context.Context, opts CompileOptions) {
	opts.Fetcher = opts.Fetcher
	next := Compile(ctx, opts, e.factory)
	e.index.Store(next)
	// Clearing decision cache is unnecessary for Check (it consults the
	// fresh index directly), but the CNAME-cloak cache's ttl values were
	// computed against the old index's block decisions, so drop it.
	e.cnameMu.Lock()
	e.cnameCache = make(map[string]cnameEntry)
	e.cnameMu.Unlock()
}

// ReloadClientGroups rebuilds the client-group CIDR index and swaps it in.
func (e *Engine) ReloadClientGroups(assignments map[string]int64, defaultGroupID int64) []string {
	idx, bad := groupindex.Build(assignments, defaultGroupID)
	e.groups.Store(idx)
	return bad
}

// ResolveGroup maps a client IP to its group ID via the current CIDR index.
func (e *Engine) ResolveGroup(ip string) int64 {
	parsed := parseIP(ip)
	return e.groups.Load().Resolve(parsed)
}

// Check runs the hot-path decision for a query name against the current
// BlockIndex for the resolved group.
func (e *Engine) Check(name string, groupID int64) domain.FilterOutcome {
	return e.index.Load().Check(name, groupID)
}

// cnameKey formats the CNAME-cloak decision cache key as "name|group".
func cnameKey(name string, groupID int64) string {
	return name + "|" + itoa64(groupID)
}

// CheckCnameCloak looks up a previously cached CNAME-cloaking decision.
func (e *Engine) CheckCnameCloak(name string, groupID int64) (domain.FilterOutcome, bool) {
	e.cnameMu.Lock()
	entry, ok := e.cnameCache[cnameKey(name, groupID)]
	e.cnameMu.Unlock()
	if !ok {
		return domain.FilterOutcome{}, false
	}
	if e.clock.Now().After(entry.expiresAt) {
		return domain.FilterOutcome{}, false
	}
	return entry.outcome, true
}

// StoreCnameCloak caches a cloaking block decision for the original query
// name+group with ttl = min(observed upstream TTLs, 300s), per §4.1.
func (e *Engine) StoreCnameCloak(name string, groupID int64, outcome domain.FilterOutcome, ttlSeconds uint32) {
	if ttlSeconds > 300 {
		ttlSeconds = 300
	}
	e.cnameMu.Lock()
	e.cnameCache[cnameKey(name, groupID)] = cnameEntry{
		outcome:   outcome,
		expiresAt: e.clock.Now().Add(time.Duration(ttlSeconds) * time.Second),
	}
	e.cnameMu.Unlock()
}

// CurrentIndex exposes the live BlockIndex snapshot (for stats/diagnostics).
func (e *Engine) CurrentIndex() *BlockIndex { return e.index.Load() }
