package domain

import (
	"sync/atomic"
	"time"
)

// DnssecStatus is the closed outcome set of DNSSEC chain validation (§4.5).
// Values are fixed on the wire/cache boundary and must not be renumbered.
type DnssecStatus uint8

const (
	DnssecUnknown DnssecStatus = iota
	DnssecSecure
	DnssecInsecure
	DnssecBogus
	DnssecIndeterminate
)

func (s DnssecStatus) String() string {
	switch s {
	case DnssecSecure:
		return "secure"
	case DnssecInsecure:
		return "insecure"
	case DnssecBogus:
		return "bogus"
	case DnssecIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// CachedDataKind discriminates the payload carried by a CachedRecord.
type CachedDataKind uint8

const (
	CachedDataIPAddresses CachedDataKind = iota
	CachedDataCanonicalName
	CachedDataNegative
	CachedDataRecords
)

// CachedData is the tagged payload of a cache entry. Addresses, CanonicalName
// and Records are shared (read-only after construction) so clones can reuse
// the same backing slice/string without copying.
type CachedData struct {
	Kind          CachedDataKind
	Addresses     []string         // shared; CachedDataIPAddresses
	CanonicalName string           // CachedDataCanonicalName
	Records       []ResourceRecord // shared; CachedDataRecords - full answer RRset
}

func IPAddressesData(addrs []string) CachedData {
	return CachedData{Kind: CachedDataIPAddresses, Addresses: addrs}
}

func CanonicalNameData(name string) CachedData {
	return CachedData{Kind: CachedDataCanonicalName, CanonicalName: name}
}

func NegativeResponseData() CachedData {
	return CachedData{Kind: CachedDataNegative}
}

// RecordsData wraps a full answer RRset, for query types the IP-address and
// canonical-name fast paths don't model (MX, TXT, SRV, multi-type answers).
func RecordsData(records []ResourceRecord) CachedData {
	return CachedData{Kind: CachedDataRecords, Records: records}
}

func (d CachedData) IsEmpty() bool {
	switch d.Kind {
	case CachedDataIPAddresses:
		return len(d.Addresses) == 0
	case CachedDataCanonicalName:
		return d.CanonicalName == ""
	case CachedDataNegative:
		return false // explicit negative responses are never "empty"
	case CachedDataRecords:
		return len(d.Records) == 0
	default:
		return true
	}
}

// CachedRecord is an L2 cache entry (§3, §4.2). Counters are atomic so
// concurrent readers can bump hit/access bookkeeping without a shard lock;
// cloning (for promotion into an L1 shard) copies the value fields and the
// current counter values into fresh atomics, so later hits on the clone and
// on the original are counted separately.
type CachedRecord struct {
	Data            CachedData
	DnssecStatus    DnssecStatus
	InsertedAt      time.Time
	ExpiresAt       time.Time
	TTL             uint32
	Permanent       bool // immune to eviction, expiration, and tombstoning
	hitCount        atomic.Uint64
	lastAccessUnix  atomic.Int64
	markedForDelete atomic.Bool
	refreshing      atomic.Bool
}

// NewCachedRecord constructs a CachedRecord. now is injected so the entry's
// InsertedAt/ExpiresAt reflect the caller's clock rather than wall time.
func NewCachedRecord(data CachedData, status DnssecStatus, ttl uint32, now time.Time, permanent bool) *CachedRecord {
	r := &CachedRecord{
		Data:         data,
		DnssecStatus: status,
		InsertedAt:   now,
		ExpiresAt:    now.Add(time.Duration(ttl) * time.Second),
		TTL:          ttl,
		Permanent:    permanent,
	}
	r.lastAccessUnix.Store(now.Unix())
	return r
}

// Clone produces a copy suitable for L1 promotion: same data/status/timing
// values and the same hit count and last access, held in fresh atomics so the
// clone's counters don't entangle with the L2 original's.
func (r *CachedRecord) Clone() *CachedRecord {
	c := &CachedRecord{
		Data:         r.Data,
		DnssecStatus: r.DnssecStatus,
		InsertedAt:   r.InsertedAt,
		ExpiresAt:    r.ExpiresAt,
		TTL:          r.TTL,
		Permanent:    r.Permanent,
	}
	c.hitCount.Store(r.hitCount.Load())
	c.lastAccessUnix.Store(r.lastAccessUnix.Load())
	return c
}

// RecordHit bumps the hit counter and last-access timestamp. Safe for
// concurrent callers; uses relaxed atomics (no synchronization with Data).
func (r *CachedRecord) RecordHit(now time.Time) {
	r.hitCount.Add(1)
	r.lastAccessUnix.Store(now.Unix())
}

func (r *CachedRecord) HitCount() uint64    { return r.hitCount.Load() }
func (r *CachedRecord) LastAccess() int64   { return r.lastAccessUnix.Load() }
func (r *CachedRecord) IsMarkedForDelete() bool {
	return !r.Permanent && r.markedForDelete.Load()
}
func (r *CachedRecord) MarkForDelete() {
	if !r.Permanent {
		r.markedForDelete.Store(true)
	}
}

// TryStartRefresh attempts to transition refreshing false->true, returning
// true only to the single caller that won the race. Used to ensure a stale
// entry triggers exactly one async revalidation.
func (r *CachedRecord) TryStartRefresh() bool {
	return r.refreshing.CompareAndSwap(false, true)
}

// ClearRefresh resets the refreshing flag whether or not the revalidation
// succeeded, per §4.6 (failure clears refreshing without replacing data).
func (r *CachedRecord) ClearRefresh() { r.refreshing.Store(false) }

func (r *CachedRecord) IsRefreshing() bool { return r.refreshing.Load() }

// Age returns how long ago the record was inserted, relative to now.
func (r *CachedRecord) Age(now time.Time) time.Duration { return now.Sub(r.InsertedAt) }

// IsHardExpired reports whether the record is beyond the stale-while-
// revalidate window (age >= 2x TTL) and therefore must be treated as an
// unconditional miss. Permanent records are never hard-expired.
func (r *CachedRecord) IsHardExpired(now time.Time) bool {
	if r.Permanent {
		return false
	}
	if r.TTL == 0 {
		return now.After(r.ExpiresAt)
	}
	return r.Age(now) >= 2*time.Duration(r.TTL)*time.Second
}

// IsStaleUsable reports whether the record has expired but is still within
// the 2x-TTL SWR window, making it eligible to be served immediately while a
// refresh is triggered in the background.
func (r *CachedRecord) IsStaleUsable(now time.Time) bool {
	if r.Permanent {
		return false
	}
	if !now.After(r.ExpiresAt) {
		return false
	}
	return !r.IsHardExpired(now)
}

// ShouldRefresh reports whether a non-expired record has crossed the
// optimistic-refresh threshold (age >= threshold * ttl) and is a maintenance
// refresh candidate.
func (r *CachedRecord) ShouldRefresh(threshold float64, now time.Time) bool {
	if r.Permanent || r.IsMarkedForDelete() {
		return false
	}
	if r.TTL == 0 {
		return false
	}
	limit := time.Duration(float64(r.TTL)*threshold) * time.Second
	return r.Age(now) >= limit && !now.After(r.ExpiresAt)
}
