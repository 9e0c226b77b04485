package blocklist

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/common/utils"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist/ahocorasick"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist/wildcard"
)

// ManualSourceBit is the fixed bit reserved for operator-managed domains
// (§3 "group_masks always includes bit 63"). It is never assigned to a
// fetched source.
const ManualSourceBit uint64 = 1 << 63

// MaxCompiledSources is the number of fetched-feed bits available (0-62);
// the 64th-and-beyond source is skipped with a warning during compile.
const MaxCompiledSources = 63

// SourceMeta describes one compiled blocklist source's identity and bit
// assignment within a BlockIndex.
type SourceMeta struct {
	ID      int64
	Name    string
	GroupID int64
	Bit     uint8
}

// SourceFetcher retrieves the raw text of a blocklist source (file or URL).
// Implementations are supplied by the BlocklistSourceRepository collaborator
// (§6); the engine only depends on this narrow capability.
type SourceFetcher interface {
	Fetch(ctx context.Context, source SourceDescriptor) (string, error)
}

// SourceDescriptor names one configured source to compile.
type SourceDescriptor struct {
	ID      int64
	Name    string
	GroupID int64
	Locator string // file path or URL
}

// AllowlistIndex holds the compiled allowlist data: a global exact set plus
// per-group exact/wildcard overrides.
type AllowlistIndex struct {
	GlobalExact  map[string]struct{}
	GroupExact   map[int64]map[string]struct{}
	GroupWild    map[int64]*wildcard.Trie
}

func newAllowlistIndex() *AllowlistIndex {
	return &AllowlistIndex{
		GlobalExact: make(map[string]struct{}),
		GroupExact:  make(map[int64]map[string]struct{}),
		GroupWild:   make(map[int64]*wildcard.Trie),
	}
}

// patternAutomaton pairs one compiled Aho-Corasick automaton with the single
// source bit it represents, per §4.1 "per-source-bit Aho-Corasick search".
type patternAutomaton struct {
	ac  *ahocorasick.Automaton
	bit uint64
}

// BlockIndex is the fully compiled, immutable snapshot of §3's data model.
// A new BlockIndex is built by Compile and published via atomic swap; no
// reader ever locks against it.
type BlockIndex struct {
	Sources       []SourceMeta
	GroupMasks    map[int64]uint64
	DefaultGroup  int64
	exact         map[string]uint64
	bloom         BloomFilter
	wc            *wildcard.Trie
	patterns      []patternAutomaton
	allow         *AllowlistIndex
	TotalExact    int
}

// Check implements the §4.1 hot path: allowlist → bloom → exact → wildcard →
// pattern, returning PassThrough if nothing matches.
func (idx *BlockIndex) Check(name string, groupID int64) domain.FilterOutcome {
	cn := strings.TrimSuffix(utils.CanonicalDNSName(name), ".")

	if _, ok := idx.allow.GlobalExact[cn]; ok {
		return domain.AllowOutcome(cn)
	}
	if gset, ok := idx.allow.GroupExact[groupID]; ok {
		if _, ok := gset[cn]; ok {
			return domain.AllowOutcome(cn)
		}
	}
	if gtrie, ok := idx.allow.GroupWild[groupID]; ok {
		if gtrie.Match(cn) != 0 {
			return domain.AllowOutcome(cn)
		}
	}

	if idx.bloom != nil && !idx.bloom.MightContain([]byte(cn)) {
		return domain.PassThroughOutcome()
	}

	mask := idx.GroupMasks[groupID]
	if mask == 0 {
		mask = idx.GroupMasks[idx.DefaultGroup]
	}

	if bits, ok := idx.exact[cn]; ok {
		if hit := bits & mask; hit != 0 {
			if hit&ManualSourceBit != 0 {
				return domain.BlockOutcome(domain.BlockSourceManagedDomain, cn)
			}
			return domain.BlockOutcome(domain.BlockSourceBlocklist, cn)
		}
	}

	if idx.wc != nil {
		if hit := idx.wc.Match(cn) & mask; hit != 0 {
			return domain.BlockOutcome(domain.BlockSourceBlocklist, cn)
		}
	}

	if len(idx.patterns) > 0 {
		lower := strings.ToLower(cn)
		for _, pa := range idx.patterns {
			if pa.bit&mask == 0 {
				continue
			}
			if pa.ac.MatchAny(lower) {
				return domain.BlockOutcome(domain.BlockSourceRegexFilter, cn)
			}
		}
	}

	return domain.PassThroughOutcome()
}

// ParsedKind discriminates how a parsed blocklist line should be indexed.
type ParsedKind uint8

const (
	ParsedExact ParsedKind = iota
	ParsedWildcard
	ParsedPattern
)

// ParsedEntry is one line parsed from a source's text, grounded on the
// original implementation's parse_list_line (ABP/hosts/wildcard/regex forms
// not otherwise pinned down by the distilled spec).
type ParsedEntry struct {
	Kind ParsedKind
	Text string
}

// ParseListLine recognizes hosts-style ("0.0.0.0 example.com"), ABP
// ("||example.com^", with optional "*." wildcard inner domain), bare
// wildcard ("*.example.com"), raw pattern ("/substring/"), and bare-domain
// forms. Comments ('#', '!') and allowlist exceptions ("@@...") are ignored.
func ParseListLine(line string) (ParsedEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ParsedEntry{}, false
	}
	if strings.HasPrefix(line, "@@") {
		return ParsedEntry{}, false
	}
	if strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") && len(line) > 2 {
		return ParsedEntry{Kind: ParsedPattern, Text: strings.ToLower(line[1 : len(line)-1])}, true
	}
	if strings.HasPrefix(line, "||") {
		inner := strings.TrimPrefix(line, "||")
		d := inner
		if i := strings.IndexByte(inner, '^'); i >= 0 {
			d = inner[:i]
		}
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || !strings.Contains(d, ".") {
			return ParsedEntry{}, false
		}
		if strings.HasPrefix(d, "*.") {
			return ParsedEntry{Kind: ParsedWildcard, Text: d}, true
		}
		return ParsedEntry{Kind: ParsedExact, Text: d}, true
	}
	if strings.HasPrefix(line, "*.") {
		return ParsedEntry{Kind: ParsedWildcard, Text: strings.ToLower(line)}, true
	}

	fields := strings.Fields(line)
	if len(fields) >= 2 {
		addr, d := fields[0], fields[1]
		switch addr {
		case "0.0.0.0", "127.0.0.1", "::", "::1":
			switch d {
			case "localhost", "0.0.0.0", "broadcasthost", "ip6-localhost", "ip6-loopback":
				return ParsedEntry{}, false
			}
			if !strings.Contains(d, ".") {
				return ParsedEntry{}, false
			}
			return ParsedEntry{Kind: ParsedExact, Text: strings.ToLower(d)}, true
		}
	}
	if len(fields) == 1 && strings.Contains(fields[0], ".") {
		return ParsedEntry{Kind: ParsedExact, Text: strings.ToLower(fields[0])}, true
	}
	return ParsedEntry{}, false
}

// ParseListText parses every line of text via ParseListLine.
func ParseListText(text string) []ParsedEntry {
	lines := strings.Split(text, "\n")
	out := make([]ParsedEntry, 0, len(lines))
	for _, l := range lines {
		if e, ok := ParseListLine(l); ok {
			out = append(out, e)
		}
	}
	return out
}

// CompileOptions parameterizes Compile.
type CompileOptions struct {
	Sources        []SourceDescriptor
	ManualDomains  []string // operator-managed domains, always mapped to ManualSourceBit
	Whitelist      []string // global allowlist exact domains
	GroupWhitelist map[int64][]SourceDescriptor
	DefaultGroupID int64
	BloomFPRate    float64
	FetchTimeout   time.Duration
	Fetcher        SourceFetcher
	Logger         log.Logger
}

// Compile builds a BlockIndex from configured sources, grounded on the
// original implementation's compile_block_index: sources are enumerated in
// id order, truncated to 63 with a warning, fetched concurrently under a
// bounded deadline tolerating partial failure, then folded into exact map,
// wildcard trie, per-bit pattern automata, bloom filter, and group masks.
func Compile(ctx context.Context, opts CompileOptions, factory BloomFactory) *BlockIndex {
	logger := opts.Logger
	sources := append([]SourceDescriptor(nil), opts.Sources...)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	if len(sources) > MaxCompiledSources {
		if logger != nil {
			logger.Warn(map[string]any{"count": len(sources)}, "more than 63 blocklist sources; only the first 63 will be used")
		}
		sources = sources[:MaxCompiledSources]
	}

	metas := make([]SourceMeta, len(sources))
	for i, s := range sources {
		metas[i] = SourceMeta{ID: s.ID, Name: s.Name, GroupID: s.GroupID, Bit: uint8(i)}
	}

	defaultMask := ManualSourceBit
	for _, m := range metas {
		if m.GroupID == opts.DefaultGroupID {
			defaultMask |= 1 << m.Bit
		}
	}
	groupMasks := map[int64]uint64{opts.DefaultGroupID: defaultMask}
	for _, m := range metas {
		if m.GroupID == opts.DefaultGroupID {
			continue
		}
		gm, ok := groupMasks[m.GroupID]
		if !ok {
			gm = defaultMask
		}
		gm |= 1 << m.Bit
		groupMasks[m.GroupID] = gm
	}

	fetchCtx := ctx
	var cancel context.CancelFunc
	if opts.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		defer cancel()
	}

	entriesByBit := fetchAll(fetchCtx, sources, opts.Fetcher, logger)

	exactCount := len(opts.ManualDomains)
	for _, entries := range entriesByBit {
		for _, e := range entries {
			if e.Kind == ParsedExact {
				exactCount++
			}
		}
	}

	bloomCapacity := uint64(exactCount + 100)
	if bloomCapacity < 1000 {
		bloomCapacity = 1000
	}
	fp := opts.BloomFPRate
	if fp <= 0 {
		fp = 0.001
	}
	bf := factory.New(bloomCapacity, fp)

	exact := make(map[string]uint64, exactCount)
	wc := wildcard.New()
	patternsBySource := make(map[uint8][]string)

	for _, d := range opts.ManualDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		bf.Add([]byte(d))
		exact[d] |= ManualSourceBit
	}

	for bit, entries := range entriesByBit {
		sourceBit := uint64(1) << bit
		for _, e := range entries {
			switch e.Kind {
			case ParsedExact:
				bf.Add([]byte(e.Text))
				exact[e.Text] |= sourceBit
			case ParsedWildcard:
				wc.Insert(e.Text, sourceBit)
			case ParsedPattern:
				patternsBySource[bit] = append(patternsBySource[bit], e.Text)
			}
		}
	}

	var patterns []patternAutomaton
	for bit, pats := range patternsBySource {
		if ac, ok := ahocorasick.Build(pats); ok {
			patterns = append(patterns, patternAutomaton{ac: ac, bit: uint64(1) << bit})
		}
	}

	allow := newAllowlistIndex()
	for _, d := range opts.Whitelist {
		allow.GlobalExact[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for gid, descs := range opts.GroupWhitelist {
		groupEntries := fetchAll(fetchCtx, descs, opts.Fetcher, logger)
		exactSet := make(map[string]struct{})
		trie := wildcard.New()
		for _, entries := range groupEntries {
			for _, e := range entries {
				switch e.Kind {
				case ParsedExact:
					exactSet[e.Text] = struct{}{}
				case ParsedWildcard:
					trie.Insert(e.Text, 1)
				}
			}
		}
		allow.GroupExact[gid] = exactSet
		allow.GroupWild[gid] = trie
	}

	if logger != nil {
		logger.Info(map[string]any{
			"exact":     len(exact),
			"patterns":  len(patterns),
			"sources":   len(metas),
		}, "block index compiled")
	}

	return &BlockIndex{
		Sources:      metas,
		GroupMasks:   groupMasks,
		DefaultGroup: opts.DefaultGroupID,
		exact:        exact,
		bloom:        bf,
		wc:           wc,
		patterns:     patterns,
		allow:        allow,
		TotalExact:   len(exact),
	}
}

// fetchAll retrieves every source's text concurrently, tolerating partial
// failure: a failed fetch logs a warning and simply omits that bit.
func fetchAll(ctx context.Context, sources []SourceDescriptor, fetcher SourceFetcher, logger log.Logger) map[uint8][]ParsedEntry {
	out := make(map[uint8][]ParsedEntry, len(sources))
	if fetcher == nil {
		return out
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, s := range sources {
		if s.Locator == "" {
			continue
		}
		wg.Add(1)
		go func(bit uint8, desc SourceDescriptor) {
			defer wg.Done()
			text, err := fetcher.Fetch(ctx, desc)
			if err != nil {
				if logger != nil {
					logger.Warn(map[string]any{"source": desc.Name, "locator": desc.Locator, "error": err.Error()}, "failed to fetch blocklist source")
				}
				return
			}
			entries := ParseListText(text)
			mu.Lock()
			out[bit] = entries
			mu.Unlock()
		}(uint8(i), s)
	}
	wg.Wait()
	return out
}
