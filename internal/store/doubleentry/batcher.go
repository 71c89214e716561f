package doubleentry

import (
	"context"
	"sync"
	"time"
)

// Batcher coalesces transfer submissions into size/time-bounded batches. The
// engine rewards batched submission heavily, so individual reservation and
// posting calls queue here and wait for the flush that carries them.
//
// Guarantees: submission order within a batch is the enqueue (FIFO) order;
// every enqueued operation is resolved exactly once — entries the engine
// reports no error for resolve nil, reported entries resolve *EngineError,
// and a failure of the whole batch call resolves every queued entry with
// that failure.
type Batcher struct {
	client   Client
	size     int
	interval time.Duration

	mu    sync.Mutex
	queue []pendingOp

	kick chan struct{}
	wg   sync.WaitGroup
}

type pendingOp struct {
	transfer Transfer
	done     chan error
}

func NewBatcher(client Client, size int, interval time.Duration) *Batcher {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Batcher{
		client:   client,
		size:     size,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Start runs the flush loop until ctx is cancelled, then drains the queue.
func (b *Batcher) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				for b.flush(context.Background()) {
				}
				return
			case <-b.kick:
				for b.flush(ctx) {
				}
			case <-ticker.C:
				b.flush(ctx)
			}
		}
	}()
}

// Wait blocks until the flush loop has exited.
func (b *Batcher) Wait() {
	b.wg.Wait()
}

// Enqueue submits one transfer and blocks until its batch resolves. The
// returned error is nil on success, an *EngineError for a per-entry failure,
// or the batch-call error. If ctx expires first the operation may still be
// executed by a later flush.
func (b *Batcher) Enqueue(ctx context.Context, transfer Transfer) error {
	op := pendingOp{transfer: transfer, done: make(chan error, 1)}

	b.mu.Lock()
	b.queue = append(b.queue, op)
	full := len(b.queue) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush submits up to one full batch and reports whether a full batch remains
// queued behind it.
func (b *Batcher) flush(ctx context.Context) bool {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return false
	}
	n := len(b.queue)
	if n > b.size {
		n = b.size
	}
	batch := b.queue[:n:n]
	b.queue = b.queue[n:]
	more := len(b.queue) >= b.size
	b.mu.Unlock()

	transfers := make([]Transfer, n)
	for i, op := range batch {
		transfers[i] = op.transfer
	}

	events, err := b.client.CreateTransfers(ctx, transfers)
	if err != nil {
		for _, op := range batch {
			op.done <- err
		}
		return more
	}

	failed := make(map[int]ErrCode, len(events))
	for _, ev := range events {
		failed[ev.Index] = ev.Code
	}
	for i, op := range batch {
		if code, ok := failed[i]; ok {
			op.done <- &EngineError{Code: code}
		} else {
			op.done <- nil
		}
	}
	return more
}
