// Package dnssec implements the chain-of-trust validator: starting from a
// configured trust anchor, it walks a name's labels parent to child,
// confirming each level's DS digest matches a DNSKEY in the level below,
// then cryptographically verifies the RRSIG covering the originally
// queried RRset. Digest matching and signature verification are delegated
// to github.com/miekg/dns's DNSKEY.ToDS and RRSIG.Verify, which in turn use
// the standard library's crypto/rsa, crypto/ecdsa, crypto/ed25519, and
// crypto/sha256 / crypto/sha512 packages - this package canonicalizes raw
// cached rdata into miekg/dns's typed RRs but never reimplements the
// cryptography itself.
package dnssec

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/maintenance"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

var (
	// ErrTrustAnchorUnreachable means the root DNSKEY set could not be
	// matched against any configured trust anchor.
	ErrTrustAnchorUnreachable = errors.New("dnssec: trust anchor unreachable")
	// ErrChainBroken means a DS record was published but no DNSKEY in the
	// child zone hashed to match it.
	ErrChainBroken = errors.New("dnssec: delegation signer chain broken")
	// ErrMissingSignature means no usable RRSIG covered the queried RRset.
	ErrMissingSignature = errors.New("dnssec: missing or unusable signature")
)

// Supported digest types for DS matching, per §4.5: SHA-256 and SHA-384.
const (
	digestSHA256 = 2
	digestSHA384 = 4
)

// TrustAnchor is a configured, out-of-band-verified DS record used to seed
// chain validation at a zone with no parent to delegate trust from
// (ordinarily ".", the root).
type TrustAnchor struct {
	Zone       string
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     string // hex, matching dns.DS.Digest's formatting
}

// Options configures a Validator.
type Options struct {
	TrustAnchors []TrustAnchor
	Upstream     resolver.UpstreamClient
	Clock        clock.Clock
	Logger       log.Logger
	CacheSize    int
	CacheTTL     time.Duration // how long a fetched DS/DNSKEY set is trusted
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 512
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	return o
}

type cacheEntry struct {
	records   []domain.ResourceRecord
	fetchedAt time.Time
}

// Validator implements maintenance.Validator and is also called directly
// from the query pipeline when DNSSEC validation is enabled for a query.
type Validator struct {
	opts         Options
	trustAnchors map[string][]TrustAnchor
	cache        *lru.Cache[string, cacheEntry]
}

// New constructs a Validator. A Validator with no trust anchors configured
// always reports Indeterminate, never Secure or Bogus.
func New(opts Options) (*Validator, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, cacheEntry](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	byZone := make(map[string][]TrustAnchor, len(opts.TrustAnchors))
	for _, a := range opts.TrustAnchors {
		byZone[a.Zone] = append(byZone[a.Zone], a)
	}
	return &Validator{opts: opts, trustAnchors: byZone, cache: cache}, nil
}

var _ maintenance.Validator = (*Validator)(nil)

// Validate runs the §4.5 chain-of-trust algorithm for name/rrtype.
func (v *Validator) Validate(ctx context.Context, name string, rrtype domain.RRType, now time.Time) (domain.DnssecStatus, error) {
	anchors := v.trustAnchors["."]
	if len(anchors) == 0 {
		return domain.DnssecIndeterminate, nil
	}
	if v.opts.Upstream == nil {
		return domain.DnssecIndeterminate, nil
	}

	rootKeys, err := v.fetchDNSKEY(ctx, ".", now)
	if err != nil {
		return domain.DnssecIndeterminate, err
	}
	validated := matchTrustAnchors(rootKeys, anchors)
	if len(validated) == 0 {
		return domain.DnssecIndeterminate, ErrTrustAnchorUnreachable
	}

	for _, zone := range cumulativeZones(name) {
		ds, err := v.fetchDS(ctx, zone, now)
		if err != nil {
			return domain.DnssecIndeterminate, err
		}
		if len(ds) == 0 {
			// No DS published at this level: the spec's proof-of-nonexistence
			// case collapses here to "unsigned delegation below this point".
			return domain.DnssecInsecure, nil
		}

		zoneKeys, err := v.fetchDNSKEY(ctx, zone, now)
		if err != nil {
			return domain.DnssecIndeterminate, err
		}
		matched := matchDSToDNSKEY(ds, zoneKeys)
		if len(matched) == 0 {
			return domain.DnssecBogus, ErrChainBroken
		}
		validated = matched
	}

	rrsigs, err := v.fetchRRSIG(ctx, name, rrtype, now)
	if err != nil {
		return domain.DnssecIndeterminate, err
	}
	if len(rrsigs) == 0 {
		return domain.DnssecBogus, ErrMissingSignature
	}

	rrset, err := v.fetchRRSet(ctx, name, rrtype, now)
	if err != nil || len(rrset) == 0 {
		return domain.DnssecBogus, ErrMissingSignature
	}

	for _, sig := range rrsigs {
		if !sig.ValidityPeriod(now) {
			continue
		}
		for _, key := range validated {
			if key.KeyTag() != sig.KeyTag || key.Algorithm != sig.Algorithm {
				continue
			}
			if err := sig.Verify(key, rrset); err == nil {
				return domain.DnssecSecure, nil
			}
		}
	}
	return domain.DnssecBogus, domain.ErrDnssecBogus
}

func (v *Validator) fetchCached(ctx context.Context, kind, zone string, rrtype domain.RRType, now time.Time) ([]domain.ResourceRecord, error) {
	key := kind + "|" + zone
	if entry, ok := v.cache.Get(key); ok && now.Sub(entry.fetchedAt) < v.opts.CacheTTL {
		return entry.records, nil
	}
	q, err := domain.NewQuestion(0, zone, rrtype, domain.RRClassIN)
	if err != nil {
		return nil, err
	}
	records, err := v.opts.Upstream.Resolve(ctx, q, now)
	if err != nil {
		return nil, err
	}
	v.cache.Add(key, cacheEntry{records: records, fetchedAt: now})
	return records, nil
}

func (v *Validator) fetchDS(ctx context.Context, zone string, now time.Time) ([]*dns.DS, error) {
	records, err := v.fetchCached(ctx, "DS", zone, domain.RRTypeDS, now)
	if err != nil {
		return nil, err
	}
	out := make([]*dns.DS, 0, len(records))
	for _, rr := range records {
		if ds, ok := asDS(rr); ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (v *Validator) fetchDNSKEY(ctx context.Context, zone string, now time.Time) ([]*dns.DNSKEY, error) {
	records, err := v.fetchCached(ctx, "DNSKEY", zone, domain.RRTypeDNSKEY, now)
	if err != nil {
		return nil, err
	}
	out := make([]*dns.DNSKEY, 0, len(records))
	for _, rr := range records {
		if key, ok := asDNSKEY(rr); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (v *Validator) fetchRRSIG(ctx context.Context, name string, rrtype domain.RRType, now time.Time) ([]*dns.RRSIG, error) {
	records, err := v.fetchCached(ctx, "RRSIG", name, domain.RRTypeRRSIG, now)
	if err != nil {
		return nil, err
	}
	out := make([]*dns.RRSIG, 0, len(records))
	for _, rr := range records {
		sig, ok := asRRSIG(rr)
		if !ok || sig.TypeCovered != uint16(rrtype) {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func (v *Validator) fetchRRSet(ctx context.Context, name string, rrtype domain.RRType, now time.Time) ([]dns.RR, error) {
	records, err := v.fetchCached(ctx, "TARGET", name, rrtype, now)
	if err != nil {
		return nil, err
	}
	out := make([]dns.RR, 0, len(records))
	for _, rr := range records {
		if parsed, ok := asRR(rr); ok {
			out = append(out, parsed)
		}
	}
	return out, nil
}

// matchDSToDNSKEY returns every key in keys for which at least one ds
// record's digest, key tag, and algorithm match the key's own computed DS
// (§4.5 step 3, "verify >=1 DS hashes to >=1 DNSKEY").
func matchDSToDNSKEY(ds []*dns.DS, keys []*dns.DNSKEY) []*dns.DNSKEY {
	var matched []*dns.DNSKEY
	for _, key := range keys {
		for _, d := range ds {
			if !isSupportedDigest(d.DigestType) {
				continue
			}
			candidate := key.ToDS(d.DigestType)
			if candidate == nil {
				continue
			}
			if strings.EqualFold(candidate.Digest, d.Digest) &&
				candidate.KeyTag == d.KeyTag && candidate.Algorithm == d.Algorithm {
				matched = append(matched, key)
				break
			}
		}
	}
	return matched
}

func matchTrustAnchors(keys []*dns.DNSKEY, anchors []TrustAnchor) []*dns.DNSKEY {
	var matched []*dns.DNSKEY
	for _, key := range keys {
		for _, a := range anchors {
			if !isSupportedDigest(a.DigestType) {
				continue
			}
			candidate := key.ToDS(a.DigestType)
			if candidate == nil {
				continue
			}
			if strings.EqualFold(candidate.Digest, a.Digest) &&
				candidate.KeyTag == a.KeyTag && candidate.Algorithm == a.Algorithm {
				matched = append(matched, key)
				break
			}
		}
	}
	return matched
}

func isSupportedDigest(dt uint8) bool {
	return dt == digestSHA256 || dt == digestSHA384
}

// cumulativeZones returns name's ancestor levels from the TLD down through
// name itself, root excluded (the caller seeds validation at root
// separately via the trust anchor). "www.example.com." yields
// ["com.", "example.com.", "www.example.com."].
func cumulativeZones(name string) []string {
	trimmed := strings.TrimSuffix(name, ".")
	if trimmed == "" {
		return nil
	}
	labels := strings.Split(trimmed, ".")
	zones := make([]string, 0, len(labels))
	for i := len(labels) - 1; i >= 0; i-- {
		zones = append(zones, strings.Join(labels[i:], ".")+".")
	}
	return zones
}
