// Package pool generalizes the single flat upstream server list of
// gateways/upstream.Resolver into ordered pools of endpoints, each with its
// own selection strategy and health state. A Manager tries pools in
// priority order, falling through to the next pool only when every
// endpoint in the current one is unhealthy or fails the query outright.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
)

// Strategy selects how a Pool distributes a query across its endpoints.
type Strategy int

const (
	// StrategySequential tries endpoints one at a time in order, stopping at
	// the first success.
	StrategySequential Strategy = iota
	// StrategyParallel fires the query at every endpoint simultaneously and
	// returns the first successful reply.
	StrategyParallel
	// StrategyWeighted picks one endpoint per query, favoring higher-weight
	// endpoints, and falls through the remaining endpoints (by descending
	// weight) on failure.
	StrategyWeighted
	// StrategyFastestResponse tracks each endpoint's rolling average latency
	// and always tries the currently-fastest healthy endpoint first.
	StrategyFastestResponse
)

// UpstreamTransport is the outbound half of the wire boundary: send a raw
// query and get a raw reply, or an error. Disjoint from
// transport.ServerTransport (the inbound listener contract) because the two
// have no methods in common.
type UpstreamTransport interface {
	Send(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error)
	Address() string
}

var (
	// ErrNoHealthyEndpoints means every endpoint in a pool was marked
	// unhealthy and none was tried.
	ErrNoHealthyEndpoints = errors.New("pool: no healthy endpoints")
	// ErrNoPoolsConfigured means a Manager was asked to resolve with zero
	// pools registered.
	ErrNoPoolsConfigured = errors.New("pool: no pools configured")
	// ErrAllPoolsFailed means every pool, in priority order, failed to
	// produce an answer.
	ErrAllPoolsFailed = errors.New("pool: all pools failed")
)

// Endpoint pairs an UpstreamTransport with pool-scoped weighting and
// health/latency bookkeeping. Health state is held behind atomics so the
// query hot path never takes a lock to read it.
type Endpoint struct {
	Transport UpstreamTransport
	Weight    int

	healthy     atomic.Bool
	avgLatency  atomic.Int64 // nanoseconds, exponential moving average
	failures    atomic.Int64
	lastChecked atomic.Int64 // unix nanos
}

// NewEndpoint wraps a transport as a healthy pool member with the given
// weight (only meaningful under StrategyWeighted).
func NewEndpoint(t UpstreamTransport, weight int) *Endpoint {
	e := &Endpoint{Transport: t, Weight: weight}
	e.healthy.Store(true)
	return e
}

// Healthy reports the endpoint's current health flag.
func (e *Endpoint) Healthy() bool { return e.healthy.Load() }

// AvgLatency returns the endpoint's exponential moving average round-trip
// time, zero if no query has completed yet.
func (e *Endpoint) AvgLatency() time.Duration {
	return time.Duration(e.avgLatency.Load())
}

func (e *Endpoint) recordSuccess(d time.Duration) {
	e.healthy.Store(true)
	e.failures.Store(0)
	prev := e.avgLatency.Load()
	if prev == 0 {
		e.avgLatency.Store(int64(d))
		return
	}
	// EMA with alpha = 0.2, matching the cache's preference for smoothed
	// rather than instantaneous signals.
	next := prev + (int64(d)-prev)/5
	e.avgLatency.Store(next)
}

func (e *Endpoint) recordFailure(maxFailures int64) {
	if e.failures.Add(1) >= maxFailures {
		e.healthy.Store(false)
	}
}

// Pool is one priority tier of upstream endpoints sharing a selection
// strategy.
type Pool struct {
	Name     string
	strategy Strategy
	clock    clock.Clock
	logger   log.Logger

	mu        sync.RWMutex
	endpoints []*Endpoint

	// maxFailures is the number of consecutive failures before an endpoint
	// is marked unhealthy.
	maxFailures int64
}

// NewPool builds a Pool with the given strategy and initial endpoint set.
func NewPool(name string, strategy Strategy, endpoints []*Endpoint, clk clock.Clock, logger log.Logger) *Pool {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Pool{
		Name:        name,
		strategy:    strategy,
		clock:       clk,
		logger:      logger,
		endpoints:   endpoints,
		maxFailures: 3,
	}
}

// Endpoints returns a snapshot of the pool's current endpoint set.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

func (p *Pool) healthyEndpoints() []*Endpoint {
	all := p.Endpoints()
	out := make([]*Endpoint, 0, len(all))
	for _, e := range all {
		if e.Healthy() {
			out = append(out, e)
		}
	}
	// Every endpoint unhealthy: try them all anyway rather than declaring the
	// whole pool dead, since the health signal may simply be stale.
	if len(out) == 0 {
		return all
	}
	return out
}

// Resolve dispatches query across the pool's endpoints per its strategy.
func (p *Pool) Resolve(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	endpoints := p.healthyEndpoints()
	if len(endpoints) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	switch p.strategy {
	case StrategyParallel:
		return p.resolveParallel(ctx, endpoints, query, timeout)
	case StrategyWeighted:
		return p.resolveOrdered(ctx, weightOrder(endpoints), query, timeout)
	case StrategyFastestResponse:
		return p.resolveOrdered(ctx, latencyOrder(endpoints), query, timeout)
	default: // StrategySequential
		return p.resolveOrdered(ctx, endpoints, query, timeout)
	}
}

func (p *Pool) resolveOrdered(ctx context.Context, endpoints []*Endpoint, query []byte, timeout time.Duration) ([]byte, error) {
	var lastErr error
	for _, e := range endpoints {
		reply, err := p.send(ctx, e, query, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("pool %s: all %d endpoints failed: %w", p.Name, len(endpoints), lastErr)
}

func (p *Pool) resolveParallel(ctx context.Context, endpoints []*Endpoint, query []byte, timeout time.Duration) ([]byte, error) {
	type result struct {
		reply []byte
		err   error
	}
	resCh := make(chan result, len(endpoints))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, e := range endpoints {
		go func(e *Endpoint) {
			reply, err := p.send(ctx, e, query, timeout)
			resCh <- result{reply, err}
		}(e)
	}

	var lastErr error
	for range endpoints {
		r := <-resCh
		if r.err == nil {
			return r.reply, nil
		}
		lastErr = r.err
	}
	return nil, fmt.Errorf("pool %s: all %d endpoints failed: %w", p.Name, len(endpoints), lastErr)
}

func (p *Pool) send(ctx context.Context, e *Endpoint, query []byte, timeout time.Duration) ([]byte, error) {
	start := p.clock.Now()
	reply, err := e.Transport.Send(ctx, query, timeout)
	if err != nil {
		e.recordFailure(p.maxFailures)
		if p.logger != nil {
			p.logger.Debug(map[string]any{
				"pool":     p.Name,
				"endpoint": e.Transport.Address(),
				"error":    err.Error(),
			}, "upstream endpoint failed")
		}
		return nil, err
	}
	e.recordSuccess(p.clock.Now().Sub(start))
	return reply, nil
}

// weightOrder returns endpoints sorted by descending weight, so
// StrategyWeighted tries the heaviest first and falls through lighter ones.
func weightOrder(endpoints []*Endpoint) []*Endpoint {
	out := make([]*Endpoint, len(endpoints))
	copy(out, endpoints)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Weight < out[j].Weight {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// latencyOrder returns endpoints sorted by ascending average latency, zero
// (never-measured) endpoints first so they get a chance to establish a
// baseline.
func latencyOrder(endpoints []*Endpoint) []*Endpoint {
	out := make([]*Endpoint, len(endpoints))
	copy(out, endpoints)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1]) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func less(a, b *Endpoint) bool {
	al, bl := a.AvgLatency(), b.AvgLatency()
	if al == 0 {
		return bl != 0
	}
	if bl == 0 {
		return false
	}
	return al < bl
}

// Manager holds pools in priority order and tries each in turn.
type Manager struct {
	pools  []*Pool
	logger log.Logger
}

// NewManager builds a Manager from pools in priority order (index 0 tried
// first).
func NewManager(pools []*Pool, logger log.Logger) *Manager {
	return &Manager{pools: pools, logger: logger}
}

// Resolve tries each pool in priority order, returning the first successful
// reply.
func (m *Manager) Resolve(ctx context.Context, query []byte, timeout time.Duration) ([]byte, error) {
	if len(m.pools) == 0 {
		return nil, ErrNoPoolsConfigured
	}
	var lastErr error
	for _, p := range m.pools {
		reply, err := p.Resolve(ctx, query, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if m.logger != nil {
			m.logger.Warn(map[string]any{
				"pool":  p.Name,
				"error": err.Error(),
			}, "pool resolution failed, falling through")
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllPoolsFailed, lastErr)
}
