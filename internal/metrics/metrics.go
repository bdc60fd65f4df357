// Package metrics defines the minimal metrics seam used by the
// reconciliation engine. Engine code depends only on Backend; concrete
// emitters (Datadog) live in subpackages so no vendor SDK leaks into the
// core.
package metrics

import "context"

// Backend receives engine counters and timing samples.
//
// Concurrency: implementations must accept calls from any goroutine.
type Backend interface {
	// IncCounter adds delta to a named counter. Tags are "key:value"
	// strings. Non-positive deltas are ignored.
	IncCounter(name string, delta int64, tags ...string)

	// ObserveHistogram records one sample of a named distribution.
	ObserveHistogram(name string, value float64, tags ...string)

	// Flush submits buffered metrics now. Safe to call at any time.
	Flush(ctx context.Context) error

	// Close stops background submission and flushes one final time.
	// Treat as "call once".
	Close(ctx context.Context) error
}

// Noop discards everything. The default when no metrics backend is
// configured.
type Noop struct{}

func (Noop) IncCounter(string, int64, ...string) {}

func (Noop) ObserveHistogram(string, float64, ...string) {}

func (Noop) Flush(context.Context) error { return nil }

func (Noop) Close(context.Context) error { return nil }
