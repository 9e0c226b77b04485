package resolver

import (
	"net"
	"strings"
)

// QueryFilters configures the pre-upstream policy short-circuits described
// in §4.4: decisions a query never needs to leave the process for. Local
// records are served by the authoritative zone lookup that already runs
// first in HandleQuery, so they have no separate entry here.
type QueryFilters struct {
	// BlockNonFQDN rejects single-label queries (bare hostnames with no
	// search-domain suffix applied) before they ever reach a pool.
	BlockNonFQDN bool
	// BlockPrivatePTR rejects PTR lookups into RFC1918 / link-local / ULA
	// address space, which no public upstream can usefully answer.
	BlockPrivatePTR bool
	// ConditionalForwards routes queries for a configured suffix straight to
	// a dedicated client, bypassing the upstream pool manager entirely.
	ConditionalForwards []ConditionalForward
}

// ConditionalForward pairs a domain suffix with the client that handles it.
type ConditionalForward struct {
	Suffix string
	Client UpstreamClient
}

// matchConditionalForward returns the client configured for name's longest
// matching suffix, or nil if none match.
func (f QueryFilters) matchConditionalForward(name string) (UpstreamClient, string) {
	name = strings.ToLower(name)
	var best ConditionalForward
	matched := false
	for _, cf := range f.ConditionalForwards {
		suffix := strings.ToLower(cf.Suffix)
		if name == suffix || strings.HasSuffix(name, "."+suffix) {
			if !matched || len(suffix) > len(best.Suffix) {
				best = cf
				matched = true
			}
		}
	}
	if !matched {
		return nil, ""
	}
	return best.Client, best.Suffix
}

// isSingleLabel reports whether name (FQDN, trailing dot optional) has
// exactly one label, e.g. "printer" rather than "printer.lan.".
func isSingleLabel(name string) bool {
	trimmed := strings.TrimSuffix(name, ".")
	return trimmed != "" && !strings.Contains(trimmed, ".")
}

// isPrivatePTR reports whether a PTR query name resolves (via the standard
// in-addr.arpa / ip6.arpa reverse encoding) to an address in RFC1918,
// link-local, or unique-local space.
func isPrivatePTR(name string) bool {
	ip := ptrNameToIP(name)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// ptrNameToIP reverses the RFC1035/RFC3596 PTR owner-name encoding back into
// the address it represents, or nil if name isn't validly encoded.
func ptrNameToIP(name string) net.IP {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	switch {
	case strings.HasSuffix(name, ".in-addr.arpa"):
		labels := strings.Split(strings.TrimSuffix(name, ".in-addr.arpa"), ".")
		if len(labels) != 4 {
			return nil
		}
		reverseStrings(labels)
		return net.ParseIP(strings.Join(labels, ".")).To4()
	case strings.HasSuffix(name, ".ip6.arpa"):
		labels := strings.Split(strings.TrimSuffix(name, ".ip6.arpa"), ".")
		if len(labels) != 32 {
			return nil
		}
		reverseStrings(labels)
		var sb strings.Builder
		for i := 0; i < len(labels); i += 4 {
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(strings.Join(labels[i:i+4], ""))
		}
		return net.ParseIP(sb.String())
	default:
		return nil
	}
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
