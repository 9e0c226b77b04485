// Package zonecache provides an in-memory, concurrency-safe store of
// authoritative resource records, grouped by zone root, implementing
// resolver.ZoneCache.
package zonecache

import (
	"sync"

	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// ZoneCache is an in-memory implementation of resolver.ZoneCache.
// It provides fast access to authoritative DNS records with concurrent safety.
type ZoneCache struct {
	mu    sync.RWMutex
	zones map[string]map[string][]domain.ResourceRecord
	//    zoneRoot → CacheKey → RRset
}

// Ensure ZoneCache implements resolver.ZoneCache at compile time.
var _ resolver.ZoneCache = (*ZoneCache)(nil)

// New creates a new ZoneCache instance.
func New() *ZoneCache {
	return &ZoneCache{
		zones: make(map[string]map[string][]domain.ResourceRecord),
	}
}

// FindRecords returns authoritative resource records matching the question.
// The most specific zone containing the question's owner name is searched;
// an owner name outside every cached zone is a miss.
func (zc *ZoneCache) FindRecords(query domain.Question) ([]domain.ResourceRecord, bool) {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	fqdn := query.Name

	var zoneRecords map[string][]domain.ResourceRecord
	found := false
	bestLen := -1
	for zoneRoot, zone := range zc.zones {
		if isInZone(fqdn, zoneRoot) && len(zoneRoot) > bestLen {
			zoneRecords = zone
			found = true
			bestLen = len(zoneRoot)
		}
	}
	if !found {
		return nil, false
	}

	key := query.CacheKey()
	records, exists := zoneRecords[key]
	if !exists || len(records) == 0 {
		return nil, false
	}
	return records, true
}

// PutZone replaces all records for a zone with new records, grouping
// same-owner same-type records into a single RRset.
func (zc *ZoneCache) PutZone(zoneRoot string, records []domain.ResourceRecord) {
	zoneRoot = canonicalZoneRoot(zoneRoot)

	zoneMap := make(map[string][]domain.ResourceRecord, len(records))
	for _, record := range records {
		key := record.CacheKey()
		zoneMap[key] = append(zoneMap[key], record)
	}

	zc.mu.Lock()
	zc.zones[zoneRoot] = zoneMap
	zc.mu.Unlock()
}

// RemoveZone removes all records for a zone. Removing an unknown zone is a no-op.
func (zc *ZoneCache) RemoveZone(zoneRoot string) {
	zoneRoot = canonicalZoneRoot(zoneRoot)
	zc.mu.Lock()
	delete(zc.zones, zoneRoot)
	zc.mu.Unlock()
}

// Zones returns a list of all zone roots currently cached.
func (zc *ZoneCache) Zones() []string {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	zones := make([]string, 0, len(zc.zones))
	for zoneRoot := range zc.zones {
		zones = append(zones, zoneRoot)
	}
	return zones
}

// Count returns the total number of records across all zones.
func (zc *ZoneCache) Count() int {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	count := 0
	for _, zone := range zc.zones {
		count += len(zone)
	}
	return count
}

func canonicalZoneRoot(zoneRoot string) string {
	if zoneRoot == "" {
		return zoneRoot
	}
	if zoneRoot[len(zoneRoot)-1] != '.' {
		return zoneRoot + "."
	}
	return zoneRoot
}

// isInZone checks if an FQDN belongs to a given zone.
func isInZone(fqdn, zoneRoot string) bool {
	fqdn = canonicalZoneRoot(fqdn)
	zoneRoot = canonicalZoneRoot(zoneRoot)

	if fqdn == zoneRoot {
		return true
	}

	if len(fqdn) > len(zoneRoot) {
		if fqdn[len(fqdn)-len(zoneRoot):] == zoneRoot {
			prefixLen := len(fqdn) - len(zoneRoot)
			return prefixLen > 0 && fqdn[prefixLen-1] == '.'
		}
	}
	return false
}
