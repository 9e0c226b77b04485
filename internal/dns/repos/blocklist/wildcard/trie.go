// Package wildcard implements a label-wise suffix trie for "*.example.com"
// style blocklist entries. Each node corresponds to one DNS label walked
// right-to-left (apex first); terminal nodes accumulate a 64-bit source mask
// via OR so multiple sources can register the same wildcard independently.
package wildcard

import "strings"

type node struct {
	children map[string]*node
	mask     uint64
	terminal bool
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Trie indexes wildcard domains ("*.example.com") by walking labels from the
// apex down, so a lookup for "a.b.example.com" can find the "*.example.com"
// terminal by descending the same path.
type Trie struct {
	root *node
}

// New constructs an empty Trie.
func New() *Trie {
	return &Trie{root: newNode()}
}

// labelsReversed splits a canonical domain into labels ordered apex-first,
// e.g. "a.b.example.com" -> ["com", "example", "b", "a"].
func labelsReversed(domain string) []string {
	parts := strings.Split(domain, ".")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[len(parts)-1-i] = p
	}
	return out
}

// Insert registers a wildcard pattern of the form "*.suffix" (suffix may
// itself contain multiple labels) against the given source bit mask.
func (t *Trie) Insert(pattern string, bit uint64) {
	suffix := strings.TrimPrefix(pattern, "*.")
	labels := labelsReversed(suffix)
	cur := t.root
	for _, l := range labels {
		next, ok := cur.children[l]
		if !ok {
			next = newNode()
			cur.children[l] = next
		}
		cur = next
	}
	cur.terminal = true
	cur.mask |= bit
}

// Match walks the domain's labels apex-first and OR-accumulates the mask of
// every terminal node encountered along the path, returning the union of all
// matching wildcard suffixes (e.g. both "*.com" and "*.example.com" if both
// are registered and the queried domain is "a.example.com").
func (t *Trie) Match(domain string) uint64 {
	labels := labelsReversed(domain)
	cur := t.root
	var mask uint64
	// A wildcard "*.example.com" must not match the bare apex "example.com"
	// itself — only proper subdomains. We therefore only consider terminal
	// nodes reached after consuming at least one label beyond the node where
	// that terminal was registered, which naturally falls out of requiring
	// the walk to continue past the terminal's own depth.
	for i, l := range labels {
		next, ok := cur.children[l]
		if !ok {
			break
		}
		cur = next
		if cur.terminal && i < len(labels)-1 {
			mask |= cur.mask
		}
	}
	return mask
}

// Empty reports whether the trie has no registered patterns (for stats/tests).
func (t *Trie) Empty() bool {
	return len(t.root.children) == 0
}
