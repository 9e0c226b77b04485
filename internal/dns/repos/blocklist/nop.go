package blocklist

import (
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// NoopBlocklist passes every name through unfiltered and assigns every
// client to the default group. Used before a block-filter engine has
// finished its first compile, or in tests that don't exercise filtering.
type NoopBlocklist struct{}

func (n *NoopBlocklist) Check(name string, groupID int64) domain.FilterOutcome {
	return domain.PassThroughOutcome()
}

func (n *NoopBlocklist) ResolveGroup(clientIP string) int64 {
	return 0
}

func (n *NoopBlocklist) CheckCnameCloak(name string, groupID int64) (domain.FilterOutcome, bool) {
	return domain.FilterOutcome{}, false
}

func (n *NoopBlocklist) StoreCnameCloak(name string, groupID int64, outcome domain.FilterOutcome, ttlSeconds uint32) {
}

var _ resolver.Blocklist = (*NoopBlocklist)(nil)
