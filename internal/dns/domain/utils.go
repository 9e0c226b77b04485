package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GenerateCacheKey returns a consistent cache key derived from a DNS name, type, and class.
func GenerateCacheKey(name string, t RRType, c RRClass) string {
	return fmt.Sprintf("%s:%d:%d", name, t, c)
}

// generateCacheKey is kept for callers written against the unexported name.
func generateCacheKey(name string, t RRType, c RRClass) string {
	return GenerateCacheKey(name, t, c)
}

// ParseCacheKey reverses GenerateCacheKey, used by the maintenance loops to
// recover a Question from a key surfaced through the stale-revalidation
// channel or a refresh-candidate scan.
func ParseCacheKey(key string) (name string, t RRType, c RRClass, ok bool) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return "", 0, 0, false
	}
	rest := key[idx+1:]
	head := key[:idx]
	idx2 := strings.LastIndex(head, ":")
	if idx2 < 0 {
		return "", 0, 0, false
	}
	name = head[:idx2]
	typeStr := head[idx2+1:]

	tv, err := strconv.ParseUint(typeStr, 10, 16)
	if err != nil {
		return "", 0, 0, false
	}
	cv, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return "", 0, 0, false
	}
	return name, RRType(tv), RRClass(cv), true
}
