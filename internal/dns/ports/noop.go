package ports

import (
	"context"
	"time"

	"github.com/haukened/rr-dns/internal/dns/domain"
)

// NoopClientRepository discards touch events and reports no group
// assignments, leaving every client in the default group.
type NoopClientRepository struct{}

func (NoopClientRepository) Touch(ctx context.Context, clientIP string, at time.Time) error {
	return nil
}

func (NoopClientRepository) GroupAssignments(ctx context.Context) (map[string]int64, int64, error) {
	return nil, 0, nil
}

var _ ClientRepository = NoopClientRepository{}

// NoopQueryLogRepository discards every batch. Used when query logging is
// configured off or during tests that don't care about the audit trail.
type NoopQueryLogRepository struct{}

func (NoopQueryLogRepository) Append(ctx context.Context, entries []domain.QueryLog) error {
	return nil
}

var _ QueryLogRepository = NoopQueryLogRepository{}

// NoopHostnameResolver never resolves a hostname.
type NoopHostnameResolver struct{}

func (NoopHostnameResolver) Lookup(ctx context.Context, clientIP string) (string, bool) {
	return "", false
}

var _ HostnameResolver = NoopHostnameResolver{}

// NoopArpReader reports an empty neighbor table.
type NoopArpReader struct{}

func (NoopArpReader) Entries(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

var _ ArpReader = NoopArpReader{}
