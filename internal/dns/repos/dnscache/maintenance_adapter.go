package dnscache

import "github.com/haukened/rr-dns/internal/dns/services/maintenance"

// Cache already exposes every method maintenance.Cache needs (Len,
// RefreshCandidates, BatchEvict, Compact, RotateBloom, StaleRevalidations,
// RawGet, Insert); this assertion just pins the contract so a signature
// drift on either side fails to compile instead of failing at wiring time.
var _ maintenance.Cache = (*Cache)(nil)
