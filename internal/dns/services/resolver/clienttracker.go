package resolver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/ports"
)

// ClientLastSeenTracker enqueues client-seen events onto a non-blocking
// channel and batches writes to a ClientRepository (§4.4 "client tracking
// side-effect"). A full channel drops the event and increments a counter;
// query handling is never stalled waiting on the repository.
type ClientLastSeenTracker struct {
	repo   ports.ClientRepository
	clock  clock.Clock
	logger log.Logger

	events   chan string
	dropped  atomic.Uint64
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ClientTrackerOptions configures a ClientLastSeenTracker.
type ClientTrackerOptions struct {
	Repo       ports.ClientRepository
	Clock      clock.Clock
	Logger     log.Logger
	BufferSize int
}

// NewClientLastSeenTracker constructs a ClientLastSeenTracker. A nil Repo
// defaults to a no-op sink.
func NewClientLastSeenTracker(opts ClientTrackerOptions) *ClientLastSeenTracker {
	if opts.Repo == nil {
		opts.Repo = ports.NoopClientRepository{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 512
	}
	return &ClientLastSeenTracker{
		repo:   opts.Repo,
		clock:  opts.Clock,
		logger: opts.Logger,
		events: make(chan string, opts.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Touch enqueues a last-seen update for clientIP without blocking.
func (c *ClientLastSeenTracker) Touch(clientIP string) {
	if clientIP == "" {
		return
	}
	select {
	case c.events <- clientIP:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the cumulative count of touch events dropped due to a
// full buffer.
func (c *ClientLastSeenTracker) Dropped() uint64 { return c.dropped.Load() }

// Start runs the batching consumer until ctx is cancelled or Stop is called.
func (c *ClientLastSeenTracker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case ip := <-c.events:
				if err := c.repo.Touch(ctx, ip, c.clock.Now()); err != nil && c.logger != nil {
					c.logger.Warn(map[string]any{"error": err.Error(), "client": ip}, "failed to persist client last-seen")
				}
			}
		}
	}()
}

// Stop signals the consumer to exit.
func (c *ClientLastSeenTracker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

var _ ClientTracker = (*ClientLastSeenTracker)(nil)
