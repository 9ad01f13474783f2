package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// DefaultFlushThreshold is the buffered-row count that triggers a flush.
const DefaultFlushThreshold = 100

// Inserter is the batched write surface of the columnar store. Satisfied
// by *Store.
type Inserter interface {
	InsertBatch(ctx context.Context, rows []StoredEvent) error
}

// Writer buffers rows and drains them to the store in batched writes. On a
// failed flush the batch is re-prepended to the buffer and the error
// propagates so the caller can withhold its ack; redelivered duplicates
// collapse in the ReplacingMergeTree table.
type Writer struct {
	inserter  Inserter
	threshold int
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []StoredEvent

	// depthGauge, when set, observes the buffer depth after every change.
	depthGauge func(int)

	// newPolicy is swapped in tests to avoid real backoff sleeps.
	newPolicy func() backoff.BackOff
}

func NewWriter(inserter Inserter, threshold int) *Writer {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Writer{
		inserter:  inserter,
		threshold: threshold,
		logger:    slog.Default().With("component", "analytics.writer"),
		newPolicy: func() backoff.BackOff { return newRetryPolicy(3) },
	}
}

// SetDepthGauge registers an observer for the buffer depth. Must be called
// before the writer is shared.
func (w *Writer) SetDepthGauge(fn func(int)) {
	w.depthGauge = fn
}

// Insert appends a row to the buffer, flushing when the threshold is
// reached. The returned error is the flush error, if one occurred.
func (w *Writer) Insert(ctx context.Context, row StoredEvent) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, row)
	w.observeDepth()
	shouldFlush := len(w.buffer) >= w.threshold
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Flush drains the buffer to the store with retry. Also invoked explicitly
// on shutdown.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = nil
	w.observeDepth()
	w.mu.Unlock()

	operation := func() error {
		return w.inserter.InsertBatch(ctx, batch)
	}
	policy := backoff.WithContext(w.newPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.observeDepth()
		w.mu.Unlock()

		w.logger.Error("Flush failed, batch returned to buffer",
			"batch_size", len(batch),
			"error", err)
		return fmt.Errorf("flushing %d events: %w", len(batch), err)
	}

	w.logger.Debug("Flushed event batch", "batch_size", len(batch))
	return nil
}

// Depth returns the current buffer depth.
func (w *Writer) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *Writer) observeDepth() {
	if w.depthGauge != nil {
		w.depthGauge(len(w.buffer))
	}
}
