package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/ports"
)

// QueryLogger is a bounded-channel batching consumer for domain.QueryLog
// entries (§3 QueryLog, §4.7 observability). Enqueue never blocks query
// handling: a full channel drops the entry and increments a counter instead.
type QueryLogger struct {
	repo   ports.QueryLogRepository
	logger log.Logger

	entries      chan domain.QueryLog
	batchSize    int
	flushEvery   time.Duration
	dropped      atomic.Uint64
	stopOnce     sync.Once
	stopCh       chan struct{}
}

// QueryLoggerOptions configures a QueryLogger.
type QueryLoggerOptions struct {
	Repo       ports.QueryLogRepository
	Logger     log.Logger
	BufferSize int
	BatchSize  int
	FlushEvery time.Duration
}

// NewQueryLogger constructs a QueryLogger. A nil Repo defaults to a no-op
// sink so the resolver can always be given a non-nil QueryLogSink.
func NewQueryLogger(opts QueryLoggerOptions) *QueryLogger {
	if opts.Repo == nil {
		opts.Repo = ports.NoopQueryLogRepository{}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = time.Second
	}
	return &QueryLogger{
		repo:       opts.Repo,
		logger:     opts.Logger,
		entries:    make(chan domain.QueryLog, opts.BufferSize),
		batchSize:  opts.BatchSize,
		flushEvery: opts.FlushEvery,
		stopCh:     make(chan struct{}),
	}
}

// Enqueue posts a terminal QueryLog entry. On a full buffer the entry is
// dropped and the drop counter is incremented; the caller is never blocked.
func (q *QueryLogger) Enqueue(entry domain.QueryLog) {
	select {
	case q.entries <- entry:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns the cumulative count of entries dropped due to a full
// buffer.
func (q *QueryLogger) Dropped() uint64 { return q.dropped.Load() }

// Start runs the batching consumer until ctx is cancelled or Stop is
// called, flushing whenever the batch reaches batchSize or flushEvery
// elapses, whichever comes first.
func (q *QueryLogger) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.flushEvery)
		defer ticker.Stop()

		batch := make([]domain.QueryLog, 0, q.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := q.repo.Append(ctx, batch); err != nil && q.logger != nil {
				q.logger.Warn(map[string]any{"error": err.Error(), "count": len(batch)}, "failed to persist query log batch")
			}
			batch = make([]domain.QueryLog, 0, q.batchSize)
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case <-q.stopCh:
				flush()
				return
			case entry := <-q.entries:
				batch = append(batch, entry)
				if len(batch) >= q.batchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Stop signals the consumer to flush and exit.
func (q *QueryLogger) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

var _ QueryLogSink = (*QueryLogger)(nil)
