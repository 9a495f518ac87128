// Package recorder keeps optional history of the bridge's traffic: status
// snapshots in InfluxDB and raw frames in ClickHouse. Recording never blocks
// the bridge; when a sink falls behind, records are dropped.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	flushTimeout         = 5 * time.Second
)

// batcher queues records and writes them in batches from one goroutine.
type batcher[T any] struct {
	in       chan T
	size     int
	interval time.Duration
	flush    func(ctx context.Context, batch []T) error
	logger   *slog.Logger

	dropped atomic.Uint64
	closed  atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newBatcher[T any](size int, interval time.Duration, logger *slog.Logger, flush func(context.Context, []T) error) *batcher[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &batcher[T]{
		in:       make(chan T, size*2),
		size:     size,
		interval: interval,
		flush:    flush,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.run(ctx)
	return b
}

// add queues v and reports whether it was accepted.
func (b *batcher[T]) add(v T) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.in <- v:
		return true
	default:
		if b.dropped.Add(1)%100 == 1 {
			b.logger.Warn("recorder queue full, dropping records", "dropped", b.dropped.Load())
		}
		return false
	}
}

func (b *batcher[T]) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]T, 0, b.size)
	write := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := b.flush(flushCtx, batch); err != nil {
			b.logger.Warn("failed to flush records", "count", len(batch), "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what was queued before close.
			for {
				select {
				case v := <-b.in:
					batch = append(batch, v)
					if len(batch) >= b.size {
						write()
					}
				default:
					write()
					return
				}
			}
		case v := <-b.in:
			batch = append(batch, v)
			if len(batch) >= b.size {
				write()
			}
		case <-ticker.C:
			write()
		}
	}
}

// close stops accepting records, flushes the queue and waits for the loop.
func (b *batcher[T]) close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		<-b.done
	})
}
