package ingest

import "github.com/linnemanlabs/hyperstream/internal/triage"

// Option applies a configuration option to the Buffer.
type Option func(*Buffer)

// WithMaxBatch sets the maximum accepted batch size.
func WithMaxBatch(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxBatch = n
		}
	}
}

// WithQueueCapacity sets the pending-write queue capacity.
func WithQueueCapacity(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithHighWater sets the pending-write depth at which ingest fails fast
// with ErrOverloaded.
func WithHighWater(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.highWater = n
		}
	}
}

// WithMetrics attaches domain metrics to the buffer.
func WithMetrics(m *triage.Metrics) Option {
	return func(b *Buffer) {
		b.metrics = m
	}
}

// WithNotifier forwards persisted alerts at or above minSeverity to n.
func WithNotifier(n Notifier, minSeverity float64) Option {
	return func(b *Buffer) {
		b.notifier = n
		b.notifyMin = minSeverity
	}
}

// WithAuditor appends every persisted alert to the audit log.
func WithAuditor(a Auditor) Option {
	return func(b *Buffer) {
		b.audit = a
	}
}
