// Package ingest admits batches of alerts into the triage store: it
// validates, deduplicates, and applies backpressure, then persists accepted
// alerts in admission order through a bounded write queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/triage"
)

// Default buffer configuration.
const (
	DefaultMaxBatch      = 10000
	DefaultQueueCapacity = 50000
	DefaultHighWater     = 40000
)

// Rejection reports a single item that failed validation.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the outcome of an ingest call. For a fully processed batch,
// Accepted + Duplicates + len(Rejected) equals the batch length.
type Result struct {
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// Notifier forwards a persisted alert to an external channel.
type Notifier interface {
	Notify(ctx context.Context, a *alert.Alert) error
}

// Auditor appends a persisted alert to an external append-only log.
type Auditor interface {
	Record(ctx context.Context, a *alert.Alert) error
}

// Buffer is the ingestion boundary in front of a triage.Store. Accepted
// alerts flow through a bounded queue to a single background writer, which
// preserves admission order. An in-flight seen-set plus a store existence
// check give identity-level dedup; the store's unique insert is the final
// arbiter for writes racing across processes.
type Buffer struct {
	store   triage.Store
	logger  log.Logger
	metrics *triage.Metrics

	notifier  Notifier
	notifyMin float64
	audit     Auditor

	maxBatch  int
	capacity  int
	highWater int

	queue   chan *alert.Alert
	pending atomic.Int64

	// sendMu guards queue sends against Close.
	sendMu sync.RWMutex
	closed bool

	seenMu sync.Mutex
	seen   map[alert.Identity]struct{}

	done chan struct{}
}

// New creates an ingestion buffer over the store. Call Start before Ingest.
func New(store triage.Store, logger log.Logger, opts ...Option) *Buffer {
	if logger == nil {
		logger = log.Nop()
	}
	b := &Buffer{
		store:     store,
		logger:    logger,
		maxBatch:  DefaultMaxBatch,
		capacity:  DefaultQueueCapacity,
		highWater: DefaultHighWater,
		seen:      make(map[alert.Identity]struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.highWater > b.capacity {
		b.highWater = b.capacity
	}
	b.queue = make(chan *alert.Alert, b.capacity)
	return b
}

// Start launches the background writer. ctx should outlive request contexts;
// the writer drains remaining admitted alerts during Close.
func (b *Buffer) Start(ctx context.Context) {
	go b.run(ctx)
}

// Ingest validates and admits the batch. Oversized batches fail wholesale
// with ErrBatchTooLarge and pending-write depth at or above the high-water
// mark fails fast with ErrOverloaded; neither admits any alert from the
// batch. Per-item validation failures and duplicate identities are reported
// in the result and are not fatal to the batch.
func (b *Buffer) Ingest(ctx context.Context, batch []alert.Input) (Result, error) {
	var res Result

	if len(batch) > b.maxBatch {
		b.countBatch("too_large")
		return res, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(batch), b.maxBatch)
	}
	if depth := b.pending.Load(); depth >= int64(b.highWater) {
		b.countBatch("overloaded")
		return res, fmt.Errorf("%w: %d pending writes", ErrOverloaded, depth)
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return res, ErrClosed
	}

	if b.metrics != nil {
		b.metrics.IngestBatchSize.Observe(float64(len(batch)))
	}

	for i, in := range batch {
		if err := ctx.Err(); err != nil {
			// Abandoned mid-flight: already-admitted alerts stay committed.
			b.finish(res, "")
			return res, err
		}

		a, err := alert.New(in)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: err.Error()})
			continue
		}
		id := a.Identity()

		if !b.admit(id) {
			res.Duplicates++
			continue
		}
		if _, ok, err := b.store.Get(ctx, id); err != nil {
			b.forget(id)
			b.finish(res, "store_error")
			return res, fmt.Errorf("check identity %s: %w", id, err)
		} else if ok {
			b.forget(id)
			res.Duplicates++
			continue
		}

		b.pending.Add(1)
		select {
		case b.queue <- a:
			res.Accepted++
		default:
			b.pending.Add(-1)
			b.forget(id)
			b.finish(res, "overloaded")
			return res, fmt.Errorf("%w: queue full", ErrOverloaded)
		}
	}

	b.finish(res, "ok")
	return res, nil
}

// Drain blocks until every admitted alert has been written or ctx expires.
func (b *Buffer) Drain(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops admission and waits for the writer to drain the queue, or for
// ctx to expire.
func (b *Buffer) Close(ctx context.Context) error {
	b.sendMu.Lock()
	if b.closed {
		b.sendMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.sendMu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Buffer) run(ctx context.Context) {
	defer close(b.done)
	for a := range b.queue {
		b.write(ctx, a)
	}
}

func (b *Buffer) write(ctx context.Context, a *alert.Alert) {
	id := a.Identity()
	defer b.pending.Add(-1)
	defer b.forget(id)
	defer b.observeDepth()

	start := time.Now()
	err := b.store.Put(ctx, a)
	if b.metrics != nil {
		b.metrics.StoreWriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, triage.ErrConflict) {
			// Lost an insert race with another process; the stored copy wins.
			b.logger.Warn(ctx, "admitted alert already stored", "identity", id.String())
			return
		}
		if b.metrics != nil {
			b.metrics.StoreWriteFailures.Inc()
		}
		b.logger.Error(ctx, err, "alert write failed", "identity", id.String())
		return
	}

	if b.audit != nil {
		if err := b.audit.Record(ctx, a); err != nil {
			b.logger.Warn(ctx, "audit record failed", "identity", id.String(), "error", err)
		}
	}
	if b.notifier != nil && a.Severity >= b.notifyMin {
		go func(cp *alert.Alert) {
			nctx := context.WithoutCancel(ctx)
			if err := b.notifier.Notify(nctx, cp); err != nil {
				b.logger.Warn(nctx, "alert notification failed", "identity", cp.Identity().String(), "error", err)
			}
		}(a.Clone())
	}
}

// admit atomically checks and records an in-flight identity.
func (b *Buffer) admit(id alert.Identity) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	return true
}

func (b *Buffer) forget(id alert.Identity) {
	b.seenMu.Lock()
	delete(b.seen, id)
	b.seenMu.Unlock()
}

func (b *Buffer) observeDepth() {
	if b.metrics != nil {
		b.metrics.QueueDepth.Set(float64(b.pending.Load()))
	}
}

// finish records per-item and batch outcome metrics.
func (b *Buffer) finish(res Result, batchOutcome string) {
	if b.metrics == nil {
		return
	}
	if res.Accepted > 0 {
		b.metrics.IngestedTotal.WithLabelValues("accepted").Add(float64(res.Accepted))
	}
	if res.Duplicates > 0 {
		b.metrics.IngestedTotal.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	}
	if len(res.Rejected) > 0 {
		b.metrics.IngestedTotal.WithLabelValues("rejected").Add(float64(len(res.Rejected)))
	}
	if batchOutcome != "" {
		b.metrics.IngestBatchesTotal.WithLabelValues(batchOutcome).Inc()
	}
	b.observeDepth()
}

func (b *Buffer) countBatch(outcome string) {
	if b.metrics != nil {
		b.metrics.IngestBatchesTotal.WithLabelValues(outcome).Inc()
	}
}
