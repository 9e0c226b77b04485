package domain

import "errors"

// Sentinel errors the query pipeline maps to response_status per §7. Each is
// returned by a collaborator (blocklist, cache, pool manager, validator) and
// classified by the pipeline's terminal switch — never by string matching.
var (
	// ErrBlocked means the block-filter engine matched a rule for this query.
	ErrBlocked = errors.New("dns: query blocked")
	// ErrNxDomain means upstream returned a definitive NXDOMAIN.
	ErrNxDomain = errors.New("dns: nxdomain")
	// ErrLocalNxDomain means a pre-upstream query filter (non-FQDN, private PTR)
	// short-circuited the query without ever consulting a pool.
	ErrLocalNxDomain = errors.New("dns: local nxdomain")
	// ErrQueryTimeout means the per-query deadline elapsed before any pool
	// produced an answer.
	ErrQueryTimeout = errors.New("dns: query timeout")
	// ErrTransport means every endpoint in a pool failed at the transport
	// layer (refused, reset, malformed reply) and no further pool remains.
	ErrTransport = errors.New("dns: transport error")
	// ErrInvalidResponse means an upstream reply could not be decoded or
	// violated basic wire invariants (ID mismatch, malformed RR).
	ErrInvalidResponse = errors.New("dns: invalid response")
	// ErrDnssecBogus means DNSSEC chain validation produced Bogus; the
	// pipeline always overrides the answer with SERVFAIL when this occurs.
	ErrDnssecBogus = errors.New("dns: dnssec validation failed")
	// ErrDatabase wraps a failure from an external collaborator (client
	// repository, query-log sink, config persistence). The pipeline logs and
	// continues; it is never fatal to query handling.
	ErrDatabase = errors.New("dns: collaborator error")
)
