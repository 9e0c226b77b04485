// Package ports declares the narrow collaborator interfaces the core
// resolver depends on but does not implement: everything the REST
// management API, SQLite-backed persistence, and hostname/ARP sync jobs
// provide from outside the query pipeline's process of record.
package ports

import (
	"context"
	"time"

	"github.com/haukened/rr-dns/internal/dns/domain"
)

// ClientRepository persists known clients and their last-seen timestamps,
// and supplies the (CIDR -> group ID) assignments the block-filter engine's
// client-group index is built from.
type ClientRepository interface {
	Touch(ctx context.Context, clientIP string, at time.Time) error
	GroupAssignments(ctx context.Context) (assignments map[string]int64, defaultGroupID int64, err error)
}

// BlocklistSourceRepository enumerates configured blocklist sources and
// fetches their raw text, implementing blocklist.SourceFetcher's backing
// store independently of the compile-time source descriptors.
type BlocklistSourceRepository interface {
	Sources(ctx context.Context) ([]BlocklistSource, error)
	Fetch(ctx context.Context, source BlocklistSource) (string, error)
}

// BlocklistSource names one configured feed or manual entry.
type BlocklistSource struct {
	ID      int64
	Name    string
	GroupID int64
	Locator string
}

// WhitelistSourceRepository enumerates global and per-group allowlist
// entries, independent of the blocklist feeds themselves.
type WhitelistSourceRepository interface {
	GlobalAllowlist(ctx context.Context) ([]string, error)
	GroupAllowlist(ctx context.Context, groupID int64) ([]string, error)
}

// QueryLogRepository durably stores QueryLog batches. Append must not block
// the caller on a slow disk/network; implementations are expected to buffer
// internally if needed.
type QueryLogRepository interface {
	Append(ctx context.Context, entries []domain.QueryLog) error
}

// ConfigFilePersistence reads and writes the on-disk configuration file that
// backs the REST management API's runtime configuration changes.
type ConfigFilePersistence interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// HostnameResolver maps a client IP to a display hostname, typically via
// reverse DNS or a DHCP lease table, for QueryLog enrichment.
type HostnameResolver interface {
	Lookup(ctx context.Context, clientIP string) (hostname string, ok bool)
}

// ArpReader reads the local ARP/neighbor table to correlate client IPs with
// MAC addresses for client identification.
type ArpReader interface {
	Entries(ctx context.Context) (map[string]string, error) // ip -> mac
}
