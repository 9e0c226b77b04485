package pool

import (
	"context"
	"sync"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/log"
)

// HealthChecker periodically probes every endpoint in a set of pools with a
// minimal query and updates their health flags, independent of whatever
// traffic the pools are carrying. Grounded on the teacher's
// UDPTransport.listenLoop cooperative-goroutine/stopCh shutdown pattern.
type HealthChecker struct {
	pools    []*Pool
	probe    []byte
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewHealthChecker builds a checker that probes every endpoint in pools
// every interval, using probe as the query payload (typically a minimal
// well-formed query for a root-server lookup) and timeout as the
// per-endpoint probe deadline.
func NewHealthChecker(pools []*Pool, probe []byte, interval, timeout time.Duration, logger log.Logger) *HealthChecker {
	return &HealthChecker{
		pools:    pools,
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic probe loop in a background goroutine and
// returns immediately, like transport.UDPTransport.Start.
func (h *HealthChecker) Start(ctx context.Context, wg *sync.WaitGroup) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	wg.Add(1)
	go h.loop(ctx, wg)
}

// Stop signals the probe loop to exit.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	close(h.stopCh)
	h.running = false
}

func (h *HealthChecker) loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.probeAll(ctx)
		}
	}
}

func (h *HealthChecker) probeAll(ctx context.Context) {
	for _, p := range h.pools {
		for _, e := range p.Endpoints() {
			_, err := e.Transport.Send(ctx, h.probe, h.timeout)
			if err != nil {
				e.recordFailure(p.maxFailures)
				if h.logger != nil {
					h.logger.Debug(map[string]any{
						"pool":     p.Name,
						"endpoint": e.Transport.Address(),
						"error":    err.Error(),
					}, "health probe failed")
				}
				continue
			}
			e.healthy.Store(true)
			e.failures.Store(0)
		}
	}
}
