// Package groupindex resolves a client IP address to a client-group ID via
// longest-prefix-match CIDR lookup (§4.1 "load_client_groups"), falling back
// to a configured default group when no CIDR matches.
package groupindex

import (
	"net"
	"sort"
)

// Assignment binds one CIDR to a group ID, as enumerated from the
// ClientRepository collaborator (§6).
type Assignment struct {
	CIDR    *net.IPNet
	GroupID int64
}

// Index is an immutable, built-once-then-swapped CIDR table. Readers never
// lock: Resolve only touches the slice captured at Build time.
type Index struct {
	assignments []Assignment // sorted by prefix length, most specific first
	defaultID   int64
}

// Build compiles a set of (CIDR string, group ID) pairs into an Index.
// Malformed CIDRs are skipped (logged by the caller) rather than failing the
// whole build, matching the engine's "tolerate partial failure" policy.
func Build(raw map[string]int64, defaultGroupID int64) (*Index, []string) {
	var bad []string
	assignments := make([]Assignment, 0, len(raw))
	for cidr, gid := range raw {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			bad = append(bad, cidr)
			continue
		}
		assignments = append(assignments, Assignment{CIDR: ipnet, GroupID: gid})
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		si, _ := assignments[i].CIDR.Mask.Size()
		sj, _ := assignments[j].CIDR.Mask.Size()
		return si > sj // longest prefix first
	})
	return &Index{assignments: assignments, defaultID: defaultGroupID}, bad
}

// Resolve returns the group ID for a client IP, using longest-prefix match
// across both IPv4 and IPv6 assignments, falling back to the default group.
func (idx *Index) Resolve(ip net.IP) int64 {
	for _, a := range idx.assignments {
		if a.CIDR.Contains(ip) {
			return a.GroupID
		}
	}
	return idx.defaultID
}

// DefaultGroupID returns the fallback group ID used when no CIDR matches.
func (idx *Index) DefaultGroupID() int64 { return idx.defaultID }
