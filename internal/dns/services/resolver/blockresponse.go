package resolver

import (
	"net"

	"github.com/haukened/rr-dns/internal/dns/domain"
)

// BlockStrategy selects how a blocked query is answered at the wire level
// (config.BlocklistConfig.Strategy).
type BlockStrategy uint8

const (
	// BlockStrategyNXDomain answers a blocked query with NXDOMAIN.
	BlockStrategyNXDomain BlockStrategy = iota
	// BlockStrategyRefused answers a blocked query with REFUSED.
	BlockStrategyRefused
	// BlockStrategySinkhole answers A/AAAA queries with a configured sinkhole
	// address instead of an error RCode, so clients fail open to a landing
	// page or null route rather than retrying a broken lookup.
	BlockStrategySinkhole
)

// BlockResponsePolicy configures how HandleQuery answers a blocked query.
type BlockResponsePolicy struct {
	Strategy  BlockStrategy
	Sinkhole4 []net.IP
	Sinkhole6 []net.IP
	TTL       uint32
}

// blockedResponse builds the DNSResponse for a blocked query under the
// configured strategy, falling back to NXDOMAIN for query types a sinkhole
// can't answer (anything but A/AAAA).
func (p BlockResponsePolicy) blockedResponse(query domain.Question) domain.DNSResponse {
	if p.Strategy == BlockStrategyRefused {
		return buildResponse(query, domain.REFUSED, nil)
	}
	if p.Strategy == BlockStrategySinkhole {
		if rr, ok := p.sinkholeRecord(query); ok {
			return buildResponse(query, domain.NOERROR, []domain.ResourceRecord{rr})
		}
	}
	return buildResponse(query, domain.NXDOMAIN, nil)
}

func (p BlockResponsePolicy) sinkholeRecord(query domain.Question) (domain.ResourceRecord, bool) {
	var targets []net.IP
	switch query.Type {
	case domain.RRTypeA:
		targets = p.Sinkhole4
	case domain.RRTypeAAAA:
		targets = p.Sinkhole6
	default:
		return domain.ResourceRecord{}, false
	}
	if len(targets) == 0 {
		return domain.ResourceRecord{}, false
	}
	ip := targets[0]
	data := ip.To4()
	if query.Type == domain.RRTypeAAAA {
		data = ip.To16()
	}
	rr, err := domain.NewAuthoritativeResourceRecord(query.Name, query.Type, query.Class, p.TTL, data, ip.String())
	if err != nil {
		return domain.ResourceRecord{}, false
	}
	return rr, true
}
