package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

// ClientAdapter narrows a Resolver's full DNSResponse down to the answer
// RRset expected by resolver.UpstreamClient, translating NXDOMAIN into the
// domain.ErrNxDomain sentinel and any other non-NOERROR code into a plain
// error, so the query pipeline's error-handling switch can classify it
// without inspecting wire-level RCodes itself.
type ClientAdapter struct {
	r *Resolver
}

// NewClientAdapter wraps a Resolver as a resolver.UpstreamClient.
func NewClientAdapter(r *Resolver) *ClientAdapter {
	return &ClientAdapter{r: r}
}

func (a *ClientAdapter) Resolve(ctx context.Context, query domain.Question, now time.Time) ([]domain.ResourceRecord, error) {
	resp, err := a.r.Resolve(ctx, query, now)
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
