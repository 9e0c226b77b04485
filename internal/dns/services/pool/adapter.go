package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/gateways/wire"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// ClientAdapter wraps a Manager as a resolver.UpstreamClient, encoding and
// decoding wire bytes through codec the same way gateways/upstream.ClientAdapter
// does for a flat server list, so HandleQuery doesn't need to know whether
// pooled, health-checked endpoints or a single server list answered upstream.
type ClientAdapter struct {
	manager *Manager
	codec   wire.DNSCodec
	timeout time.Duration
}

// NewClientAdapter wraps manager as a resolver.UpstreamClient. timeout bounds
// each query when ctx carries no deadline of its own.
func NewClientAdapter(manager *Manager, codec wire.DNSCodec, timeout time.Duration) *ClientAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClientAdapter{manager: manager, codec: codec, timeout: timeout}
}

func (a *ClientAdapter) Resolve(ctx context.Context, query domain.Question, now time.Time) ([]domain.ResourceRecord, error) {
	queryBytes, err := a.codec.EncodeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}

	timeout := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	replyBytes, err := a.manager.Resolve(ctx, queryBytes, timeout)
	if err != nil {
		return nil, err
	}

	resp, err := a.codec.DecodeResponse(replyBytes, query.ID, now)
	if err != nil {
		return nil, err
	}

	switch resp.RCode {
	case domain.NOERROR:
		return resp.Answers, nil
	case domain.NXDOMAIN:
		return nil, domain.ErrNxDomain
	default:
		return nil, fmt.Errorf("upstream returned %s", resp.RCode)
	}
}

var _ resolver.UpstreamClient = (*ClientAdapter)(nil)
