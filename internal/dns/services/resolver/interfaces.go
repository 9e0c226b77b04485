package resolver

import (
	"context"
	"net"
	"time"

	"github.com/haukened/rr-dns/internal/dns/domain"
)

// UpstreamClient defines an interface for DNS upstream resolution.
// Implementations of this interface are responsible for sending DNS queries
// to an upstream server and returning the corresponding resource records.
// The Resolve method takes a context for cancellation and timeout control,
// as well as a Question, and returns the answer RRset or an error.
type UpstreamClient interface {
	Resolve(ctx context.Context, query domain.Question, now time.Time) ([]domain.ResourceRecord, error)
}

// Blocklist resolves a client IP to its policy group and decides whether a
// queried name is Allowed, Blocked(source), or PassThrough for that group
// (§4.1). CheckCnameCloak/StoreCnameCloak give the pipeline access to the
// engine's short-lived CNAME-cloaking decision cache so a direct re-query of
// an already-cloaked name doesn't have to re-chase the CNAME to discover it.
type Blocklist interface {
	Check(name string, groupID int64) domain.FilterOutcome
	ResolveGroup(clientIP string) int64
	CheckCnameCloak(name string, groupID int64) (domain.FilterOutcome, bool)
	StoreCnameCloak(name string, groupID int64, outcome domain.FilterOutcome, ttlSeconds uint32)
}

// QueryLogSink accepts terminal QueryLog entries without blocking the
// caller; a full internal buffer drops the entry rather than stalling query
// handling.
type QueryLogSink interface {
	Enqueue(entry domain.QueryLog)
}

// ClientTracker records that a client IP was just seen, asynchronously and
// without blocking query handling.
type ClientTracker interface {
	Touch(clientIP string)
}

// Cache defines the interface for a DNS resource record cache.
// It provides methods to store, retrieve, and delete records, as well as to
// query cache statistics and keys.
type Cache interface {
	Set(record []domain.ResourceRecord) error
	Get(key string) ([]domain.ResourceRecord, bool)
	Delete(key string)
	Len() int
	Keys() []string
}

// DNSResponder defines an interface for handling DNS queries and generating responses.
// Implementations of this interface process DNS requests, abstracting away network protocol details.
type DNSResponder interface {
	// HandleQuery processes a DNS query and returns a DNS response.
	// The transport handles all network protocol details - the handler only sees domain objects.
	HandleQuery(ctx context.Context, query domain.Question, clientAddr net.Addr) (domain.DNSResponse, error)
}

// ZoneCache defines the interface for in-memory authoritative record storage with value-based records
type ZoneCache interface {
	// FindRecords returns authoritative resource records matching the question (value-based)
	FindRecords(query domain.Question) ([]domain.ResourceRecord, bool)

	// PutZone replaces all records for a zone with new records (value-based)
	PutZone(zoneRoot string, records []domain.ResourceRecord)

	// RemoveZone removes all records for a zone
	RemoveZone(zoneRoot string)

	// Zones returns a list of all zone roots currently cached
	Zones() []string

	// Count returns the total number of records across all zones
	Count() int
}

// AliasResolver expands a CNAME chain beginning with the provided initial
// records, returning the ordered hops plus (when resolvable) the terminal
// RRset answering the original question.
type AliasResolver interface {
	Chase(query domain.Question, initial []domain.ResourceRecord) ([]domain.ResourceRecord, error)
}
