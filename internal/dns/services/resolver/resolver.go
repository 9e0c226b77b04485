// Package resolver implements the query pipeline: client-group resolution,
// block-filter evaluation, authoritative zone lookup, alias (CNAME) chasing,
// cache lookup, and upstream fallback, in that order, producing a single
// domain.DNSResponse and exactly one QueryLog entry per query (§4.4).
package resolver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/domain"
)

// Resolver orchestrates the DNS query pipeline described above. All
// collaborators are injected narrow interfaces so the pipeline can be
// exercised without a live network or cache.
type Resolver struct {
	blocklist     Blocklist
	clock         clock.Clock
	logger        log.Logger
	upstream      UpstreamClient
	upstreamCache Cache
	zoneCache     ZoneCache
	aliasResolver AliasResolver
	queryLog      QueryLogSink
	clientTracker ClientTracker
	filters       QueryFilters
	blockPolicy   BlockResponsePolicy
}

var _ DNSResponder = (*Resolver)(nil)

// ResolverOptions configures a Resolver. Any collaborator field may be nil;
// a nil collaborator is treated as "this stage has nothing to contribute"
// rather than a configuration error, so a partially-wired Resolver degrades
// to SERVFAIL instead of panicking.
type ResolverOptions struct {
	Blocklist     Blocklist
	Clock         clock.Clock
	Logger        log.Logger
	Upstream      UpstreamClient
	UpstreamCache Cache
	ZoneCache     ZoneCache
	AliasResolver AliasResolver
	QueryLog      QueryLogSink
	ClientTracker ClientTracker
	Filters       QueryFilters
	BlockPolicy   BlockResponsePolicy
}

// NewResolver constructs a Resolver from the supplied collaborators.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.AliasResolver == nil {
		opts.AliasResolver = NewNoOpAliasResolver()
	}
	return &Resolver{
		blocklist:     opts.Blocklist,
		clock:         opts.Clock,
		logger:        opts.Logger,
		upstream:      opts.Upstream,
		upstreamCache: opts.UpstreamCache,
		zoneCache:     opts.ZoneCache,
		aliasResolver: opts.AliasResolver,
		queryLog:      opts.QueryLog,
		clientTracker: opts.ClientTracker,
		filters:       opts.Filters,
		blockPolicy:   opts.BlockPolicy,
	}
}

// HandleQuery runs a single question through the pipeline. It never returns
// a non-nil error for query-processing failures: those are reported as an
// RCode on the returned response and as a terminal QueryLog entry. The error
// return is reserved for caller misuse (currently unused) so callers can
// treat a non-nil err as a programming bug rather than a DNS-level failure.
func (r *Resolver) HandleQuery(ctx context.Context, query domain.Question, clientAddr net.Addr) (domain.DNSResponse, error) {
	start := r.clock.Now()
	clientIP := clientIPFromAddr(clientAddr)
	r.touchClient(clientIP)

	var groupID int64
	if r.blocklist != nil {
		groupID = r.blocklist.ResolveGroup(clientIP)
	}

	if r.blocklist != nil {
		if outcome := r.blocklist.Check(query.Name, groupID); outcome.IsBlocked() {
			r.logQuery(query, clientIP, groupID, start, queryOutcome{
				blocked:  true,
				source:   outcome.Source,
				status:   domain.ResponseBlocked,
				querySrc: domain.QuerySourceClient,
			})
			return r.blockPolicy.blockedResponse(query), nil
		}
	}

	if r.filters.BlockNonFQDN && isSingleLabel(query.Name) {
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseLocalDns})
		return buildResponse(query, domain.NXDOMAIN, nil), nil
	}
	if r.filters.BlockPrivatePTR && query.Type == domain.RRTypePTR && isPrivatePTR(query.Name) {
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseLocalDns})
		return buildResponse(query, domain.NXDOMAIN, nil), nil
	}

	if records, found := r.zoneLookup(query); found {
		if r.aliasResolver != nil {
			chased, err := r.aliasResolver.Chase(query, records)
			if err != nil && r.isFatalAliasError(err) {
				r.logf("alias chase failed fatally", query, err)
				r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseServfail})
				return buildResponse(query, domain.SERVFAIL, nil), nil
			} else if err != nil {
				r.logf("alias chase returned partial chain", query, err)
			}
			records = chased
		}
		if outcome, blocked := r.cnameCloakCheck(records, query.Name, groupID); blocked {
			r.logQuery(query, clientIP, groupID, start, queryOutcome{
				blocked:  true,
				source:   outcome.Source,
				status:   domain.ResponseBlocked,
				querySrc: domain.QuerySourceClient,
			})
			return r.blockPolicy.blockedResponse(query), nil
		}
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseLocalDns})
		return buildResponse(query, domain.NOERROR, records), nil
	}

	if fwdClient, suffix := r.filters.matchConditionalForward(query.Name); fwdClient != nil {
		records, err := fwdClient.Resolve(ctx, query, r.clock.Now())
		if err != nil {
			status := classifyUpstreamError(err)
			r.logf("conditional forward failed", query, err)
			r.logQuery(query, clientIP, groupID, start, queryOutcome{status: status, upstreamServer: suffix})
			return buildResponse(query, rcodeForStatus(status), nil), nil
		}
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseNoError, upstreamServer: suffix})
		return buildResponse(query, domain.NOERROR, records), nil
	}

	key := query.CacheKey()
	if r.upstreamCache != nil {
		if records, hit := r.upstreamCache.Get(key); hit {
			if outcome, blocked := r.cnameCloakCheck(records, query.Name, groupID); blocked {
				r.logQuery(query, clientIP, groupID, start, queryOutcome{
					blocked:  true,
					source:   outcome.Source,
					status:   domain.ResponseBlocked,
					querySrc: domain.QuerySourceClient,
				})
				return r.blockPolicy.blockedResponse(query), nil
			}
			r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseNoError, cacheHit: true})
			return buildResponse(query, domain.NOERROR, records), nil
		}
	}

	if r.upstream == nil {
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseServfail})
		return buildResponse(query, domain.SERVFAIL, nil), nil
	}

	records, err := r.upstream.Resolve(ctx, query, r.clock.Now())
	if err != nil {
		status := classifyUpstreamError(err)
		r.logf("upstream resolution failed", query, err)
		r.logQuery(query, clientIP, groupID, start, queryOutcome{status: status})
		return buildResponse(query, rcodeForStatus(status), nil), nil
	}

	if outcome, blocked := r.cnameCloakCheck(records, query.Name, groupID); blocked {
		r.logQuery(query, clientIP, groupID, start, queryOutcome{
			blocked:  true,
			source:   outcome.Source,
			status:   domain.ResponseBlocked,
			querySrc: domain.QuerySourceClient,
		})
		return r.blockPolicy.blockedResponse(query), nil
	}

	if err := r.cacheUpstreamResponse(records); err != nil {
		r.logf("failed to cache upstream response", query, err)
	}

	r.logQuery(query, clientIP, groupID, start, queryOutcome{status: domain.ResponseNoError})
	return buildResponse(query, domain.NOERROR, records), nil
}

// cnameCloakCheck re-evaluates every intermediate CNAME hop in records
// (other than the owner name itself) against the block-filter engine,
// consulting and populating its short-lived CNAME-cloaking decision cache so
// a direct re-query of an already-cloaked name doesn't have to re-chase the
// CNAME to discover it (§4.4 step 5).
func (r *Resolver) cnameCloakCheck(records []domain.ResourceRecord, owner string, groupID int64) (domain.FilterOutcome, bool) {
	if r.blocklist == nil {
		return domain.FilterOutcome{}, false
	}
	if outcome, cached := r.blocklist.CheckCnameCloak(owner, groupID); cached && outcome.IsBlocked() {
		return outcome, true
	}
	for _, rr := range records {
		if rr.Type != domain.RRTypeCNAME || rr.Name == owner {
			continue
		}
		outcome := r.blocklist.Check(rr.Name, groupID)
		if outcome.IsBlocked() {
			r.blocklist.StoreCnameCloak(owner, groupID, domain.BlockOutcome(domain.BlockSourceCnameCloaking, rr.Name), rr.TTL())
			return domain.BlockOutcome(domain.BlockSourceCnameCloaking, rr.Name), true
		}
	}
	return domain.FilterOutcome{}, false
}

// zoneLookup consults the authoritative zone cache, tolerating a nil cache.
// This is also the query pipeline's "local_records" short-circuit (§4.4):
// a name preloaded into the zone cache is answered here before any upstream
// or pool is consulted.
func (r *Resolver) zoneLookup(query domain.Question) ([]domain.ResourceRecord, bool) {
	if r.zoneCache == nil {
		return nil, false
	}
	return r.zoneCache.FindRecords(query)
}

// cacheUpstreamResponse stores a successful upstream answer, tolerating a
// nil cache (caching is an optimization, never a correctness requirement).
func (r *Resolver) cacheUpstreamResponse(records []domain.ResourceRecord) error {
	if r.upstreamCache == nil {
		return nil
	}
	return r.upstreamCache.Set(records)
}

// isFatalAliasError reports whether an alias-chase error should collapse the
// response to SERVFAIL rather than return the partial chain gathered so far.
func (r *Resolver) isFatalAliasError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAliasDepthExceeded) || errors.Is(err, ErrAliasLoopDetected)
}

// touchClient enqueues a non-blocking last-seen update for clientIP (§4.4
// "Client tracking side-effect"), tolerating a nil tracker or empty address.
func (r *Resolver) touchClient(clientIP string) {
	if r.clientTracker == nil || clientIP == "" {
		return
	}
	r.clientTracker.Touch(clientIP)
}

// queryOutcome carries the fields logQuery needs to assemble a terminal
// domain.QueryLog entry for one pipeline invocation.
type queryOutcome struct {
	blocked        bool
	source         domain.BlockSourceKind
	status         domain.ResponseStatus
	cacheHit       bool
	cacheRefresh   bool
	upstreamServer string
	upstreamPool   string
	querySrc       domain.QuerySource
}

// logQuery emits exactly one QueryLog entry per HandleQuery invocation
// (§3, §4.4), tolerating a nil sink.
func (r *Resolver) logQuery(query domain.Question, clientIP string, groupID int64, start time.Time, outcome queryOutcome) {
	if r.queryLog == nil {
		return
	}
	entry := domain.QueryLog{
		Domain:         query.Name,
		RecordType:     query.Type,
		ClientIP:       clientIP,
		Blocked:        outcome.blocked,
		ResponseTimeUs: r.clock.Now().Sub(start).Microseconds(),
		CacheHit:       outcome.cacheHit,
		CacheRefresh:   outcome.cacheRefresh,
		UpstreamServer: outcome.upstreamServer,
		UpstreamPool:   outcome.upstreamPool,
		ResponseStatus: outcome.status,
		QuerySource:    outcome.querySrc,
		GroupID:        &groupID,
		Timestamp:      r.clock.Now(),
	}
	if outcome.blocked {
		source := outcome.source
		entry.BlockSource = &source
	}
	r.queryLog.Enqueue(entry)
}

func (r *Resolver) logf(msg string, query domain.Question, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(map[string]any{"query": query, "error": err}, msg)
}

// buildResponse assembles a DNSResponse carrying the given answers (nil for
// error responses) under the supplied RCode.
func buildResponse(query domain.Question, rcode domain.RCode, answers []domain.ResourceRecord) domain.DNSResponse {
	return domain.DNSResponse{
		ID:      query.ID,
		RCode:   rcode,
		Answers: answers,
	}
}

// clientIPFromAddr extracts the bare IP portion of a net.Addr, tolerating a
// nil address (e.g. in unit tests that never construct a transport).
func clientIPFromAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// classifyUpstreamError maps a collaborator-returned sentinel error to the
// closed ResponseStatus set the pipeline logs (§4.4 step 7).
func classifyUpstreamError(err error) domain.ResponseStatus {
	switch {
	case errors.Is(err, domain.ErrNxDomain):
		return domain.ResponseNxDomain
	case errors.Is(err, domain.ErrLocalNxDomain):
		return domain.ResponseLocalDns
	case errors.Is(err, domain.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ResponseTimeout
	default:
		return domain.ResponseServfail
	}
}

// rcodeForStatus maps a logged ResponseStatus back to the RCode returned to
// the client.
func rcodeForStatus(status domain.ResponseStatus) domain.RCode {
	switch status {
	case domain.ResponseNxDomain, domain.ResponseLocalDns:
		return domain.NXDOMAIN
	case domain.ResponseTimeout, domain.ResponseServfail:
		return domain.SERVFAIL
	default:
		return domain.NOERROR
	}
}
